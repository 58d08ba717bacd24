// Package checkin drives a scanned QR payload through verification, the
// security-level branches, and unlock, ending in a terminal checked-in,
// failed, or timed-out state.
package checkin

import "fmt"

// State is a named step of the check-in flow. "A request is in flight" is a
// state here, not a side flag, so duplicate scans and re-entrant polls are
// rejected by state rather than by booleans that can drift.
type State int

// Check-in states. CheckedIn, Failed, and TimedOut are terminal; Reset
// re-arms a terminal non-success state back to Idle.
const (
	StateIdle State = iota
	StateScanned
	StateVerifying
	StateLevel1Unlocking
	StateBiometricPrompt
	StateDeviceVerifying
	StateUnlocking
	StateOTPDispatch
	StatePolling
	StateCheckedIn
	StateFailed
	StateTimedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanned:
		return "Scanned"
	case StateVerifying:
		return "Verifying"
	case StateLevel1Unlocking:
		return "Level1Unlocking"
	case StateBiometricPrompt:
		return "BiometricPrompt"
	case StateDeviceVerifying:
		return "DeviceVerifying"
	case StateUnlocking:
		return "Unlocking"
	case StateOTPDispatch:
		return "OTPDispatch"
	case StatePolling:
		return "Polling"
	case StateCheckedIn:
		return "CheckedIn"
	case StateFailed:
		return "Failed"
	case StateTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the flow has ended in this state.
func (s State) Terminal() bool {
	return s == StateCheckedIn || s == StateFailed || s == StateTimedOut
}
