// Package booking reads and mutates room bookings. The server owns all
// booking state and resolves conflicts; the client only calls endpoints.
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"secure-room-access/client/internal/api"
)

// MaxTimeslots is the per-room booking limit shown in the slot picker.
// Checked client-side to fail early; the server enforces the real rule.
const MaxTimeslots = 2

// DateLayout is the wire format for booking dates.
const DateLayout = "2006-01-02"

// Sentinel errors for booking requests.
var (
	ErrNoTimeslots      = errors.New("select at least one timeslot")
	ErrTooManyTimeslots = fmt.Errorf("you can book up to %d timeslots per room", MaxTimeslots)
)

// Room is a bookable room with its open timeslots for the queried date.
type Room struct {
	ID        string   `json:"id"`
	RoomName  string   `json:"roomName"`
	Location  string   `json:"location"`
	Timeslots []string `json:"timeslots"`
}

// Booking is a reservation as returned by the server.
type Booking struct {
	ID             string `json:"id"`
	RoomID         string `json:"roomId"`
	RoomName       string `json:"roomName"`
	Location       string `json:"location"`
	BookingDate    string `json:"bookingDate"`
	Timeslot       string `json:"timeslot"`
	SecondaryEmail string `json:"secondaryEmail,omitempty"`
}

// Session is the authenticated-request primitive the service needs.
type Session interface {
	DoJSON(ctx context.Context, method, path string, body, out any) error
}

// Service performs booking operations through an authenticated session.
type Service struct {
	session Session
}

// NewService returns a Service using the given session.
func NewService(session Session) *Service {
	return &Service{session: session}
}

// Rooms lists the company's rooms.
func (s *Service) Rooms(ctx context.Context) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	if err := s.session.DoJSON(ctx, http.MethodGet, api.RouteCompanyAndRooms, nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// Available lists rooms with their open timeslots on the given date.
func (s *Service) Available(ctx context.Context, date string) ([]Room, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	path := api.RouteAvailableRooms + "?date=" + url.QueryEscape(date)
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	if err := s.session.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// Book reserves the given timeslots of a room. secondaryEmail optionally
// grants a second account access to the booking.
func (s *Service) Book(ctx context.Context, roomID, date string, timeslots []string, secondaryEmail string) error {
	if len(timeslots) == 0 {
		return ErrNoTimeslots
	}
	if len(timeslots) > MaxTimeslots {
		return ErrTooManyTimeslots
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	body := map[string]any{
		"id":        roomID,
		"date":      date,
		"timeslots": timeslots,
	}
	if secondaryEmail != "" {
		body["secondary"] = secondaryEmail
	} else {
		body["secondary"] = nil
	}
	return s.session.DoJSON(ctx, http.MethodPost, api.RouteBookRoom, body, nil)
}

// Bookings lists the user's bookings.
func (s *Service) Bookings(ctx context.Context) ([]Booking, error) {
	var out struct {
		Bookings []Booking `json:"bookings"`
	}
	if err := s.session.DoJSON(ctx, http.MethodGet, api.RouteUserBookings, nil, &out); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

// Upcoming filters bookings to those dated today or later. now is a parameter
// so callers and tests share the same cutoff rule.
func Upcoming(bookings []Booking, now time.Time) []Booking {
	today := now.Format(DateLayout)
	var out []Booking
	for _, b := range bookings {
		if b.BookingDate >= today {
			out = append(out, b)
		}
	}
	return out
}

// Cancel deletes a booking.
func (s *Service) Cancel(ctx context.Context, bookingID string) error {
	body := map[string]string{"bookingId": bookingID}
	return s.session.DoJSON(ctx, http.MethodPost, api.RouteDeleteBooking, body, nil)
}
