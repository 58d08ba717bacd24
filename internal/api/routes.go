package api

// Route paths relative to the configured base URL. The server contract
// (request/response shapes) is fixed; the host is deployment config.
const (
	RouteLogin                 = "/login"
	RouteRefreshToken          = "/refresh-token"
	RouteLogout                = "/logout"
	RouteUserData              = "/userData"
	RouteSendVerifyOTP         = "/sendVerifyOtp"
	RouteVerifyOTP             = "/verifyOtp"
	RouteChangeInitialPassword = "/changeInitialPassword"
	RouteStoreDeviceID         = "/storeDeviceId"
	RouteFetchDevices          = "/fetchDevices"
	RouteDeleteDevice          = "/deleteDevice"
	RouteVerifyDeviceID        = "/verifyDeviceId"
	RouteCompanyAndRooms       = "/getCompanyAndRoom"
	RouteAvailableRooms        = "/getAvailableRooms"
	RouteBookRoom              = "/bookRoom"
	RouteUserBookings          = "/fetchUserBookings"
	RouteDeleteBooking         = "/deleteBooking"
	RouteVerifyBooking         = "/verifyUserBooking"
	RouteUnlockRoom            = "/setIsUnlocked"
	RouteSendBookingOTP        = "/sendBookingOtp"
	RouteCheckUnlock           = "/checkUnlock"
)
