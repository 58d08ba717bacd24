package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"secure-room-access/client/internal/api"
	"secure-room-access/client/internal/device"
)

var (
	// ErrScanInProgress means a scanned payload is already being processed.
	// The duplicate scan is dropped without touching the running flow.
	ErrScanInProgress = errors.New("checkin: a check-in is already in progress")
	// ErrVerifyRejected means the server did not accept the scanned token.
	ErrVerifyRejected = errors.New("checkin: booking verification rejected")
	// ErrBiometricRejected means the user failed or dismissed the biometric
	// prompt.
	ErrBiometricRejected = errors.New("checkin: biometric authentication rejected")
	// ErrDeviceMismatch means this device is not the one bound to the
	// booking. The flow fails closed on it.
	ErrDeviceMismatch = errors.New("checkin: device not authorized for this booking")
	// ErrUnlockRejected means the server refused to unlock the room.
	ErrUnlockRejected = errors.New("checkin: unlock rejected")
	// ErrNotResettable means Reset was called outside a terminal state.
	ErrNotResettable = errors.New("checkin: flow is not in a terminal state")
)

// Session sends authenticated requests. *session.Manager satisfies it.
type Session interface {
	DoJSON(ctx context.Context, method, path string, body, out any) error
}

// DeviceVerifier checks that this device is registered for the account.
// *device.Service satisfies it.
type DeviceVerifier interface {
	Verify(ctx context.Context) (bool, error)
}

// Config tunes the level 3 unlock poll. Zero values use package defaults.
type Config struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	SettleDelay     time.Duration
}

// Flow is the check-in state machine. One Flow handles one scan at a time;
// Run rejects a second scan while the first is live, and Reset re-arms the
// flow after a terminal state.
type Flow struct {
	session Session
	devices DeviceVerifier
	auth    device.Authenticator
	cfg     Config
	tracer  trace.Tracer

	mu        sync.Mutex
	state     State
	bookingID string
	level     int
	poller    *Poller

	onTransition func(from, to State)
}

// NewFlow builds a flow in the Idle state.
func NewFlow(session Session, devices DeviceVerifier, auth device.Authenticator, cfg Config) *Flow {
	return &Flow{
		session: session,
		devices: devices,
		auth:    auth,
		cfg:     cfg,
		tracer:  otel.Tracer("checkin"),
		state:   StateIdle,
	}
}

// OnTransition registers a hook invoked on every state change, for UI or
// logging. The hook runs with the flow lock held and must not call back in.
func (f *Flow) OnTransition(fn func(from, to State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTransition = fn
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// BookingID returns the booking the current or last flow resolved to, or ""
// before verification.
func (f *Flow) BookingID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookingID
}

// SecurityLevel returns the security level the server assigned, or 0 before
// verification.
func (f *Flow) SecurityLevel() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// Resume nudges an active level 3 poll to re-check soon. It is a no-op
// outside the Polling state.
func (f *Flow) Resume() {
	f.mu.Lock()
	p := f.poller
	st := f.state
	f.mu.Unlock()
	if st == StatePolling && p != nil {
		p.Resume()
	}
}

// Reset returns a terminal flow to Idle so another scan can start.
func (f *Flow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.Terminal() {
		return ErrNotResettable
	}
	f.setLocked(StateIdle)
	f.bookingID = ""
	f.level = 0
	f.poller = nil
	return nil
}

// Run takes a scanned QR payload through the whole flow and returns the
// terminal state it ended in. Exactly one Run may be live per Flow; while one
// is, further calls return ErrScanInProgress immediately.
func (f *Flow) Run(ctx context.Context, payload string) (State, error) {
	f.mu.Lock()
	if f.state != StateIdle {
		st := f.state
		f.mu.Unlock()
		return st, ErrScanInProgress
	}
	f.setLocked(StateScanned)
	f.mu.Unlock()

	ctx, span := f.tracer.Start(ctx, "checkin.run")
	defer span.End()

	if preview, err := PreviewToken(payload); err == nil {
		if preview.Expired(time.Now()) {
			log.Printf("checkin: scanned token expired at %s, sending anyway", preview.ExpiresAt.Format(time.RFC3339))
		}
		span.SetAttributes(attribute.String("checkin.booking_id", preview.BookingID))
	}

	bookingID, level, err := f.verify(ctx, payload)
	if err != nil {
		return f.fail(span, StateFailed, err)
	}
	f.mu.Lock()
	f.bookingID = bookingID
	f.level = level
	f.mu.Unlock()
	span.SetAttributes(attribute.Int("checkin.security_level", level))

	switch level {
	case 1:
		f.set(StateLevel1Unlocking)
		return f.unlock(ctx, span, bookingID)
	case 2, 3:
		if err := f.authenticate(ctx); err != nil {
			return f.fail(span, StateFailed, err)
		}
		f.set(StateDeviceVerifying)
		ok, err := f.devices.Verify(ctx)
		if err != nil {
			// No stored device ID, or the check itself failed. Either
			// way the flow fails closed.
			return f.fail(span, StateFailed, fmt.Errorf("%w: %w", ErrDeviceMismatch, err))
		}
		if !ok {
			return f.fail(span, StateFailed, ErrDeviceMismatch)
		}
		if level == 2 {
			f.set(StateUnlocking)
			return f.unlock(ctx, span, bookingID)
		}
		return f.pollUnlock(ctx, span, bookingID)
	default:
		return f.fail(span, StateFailed, fmt.Errorf("%w: unknown security level %d", ErrVerifyRejected, level))
	}
}

func (f *Flow) verify(ctx context.Context, payload string) (string, int, error) {
	f.set(StateVerifying)
	var out struct {
		Success       bool   `json:"success"`
		SecurityLevel int    `json:"securityLevel"`
		BookingID     string `json:"bookingId"`
		Message       string `json:"message"`
	}
	err := f.session.DoJSON(ctx, http.MethodPost, api.RouteVerifyBooking, map[string]string{
		"checkInJwt": payload,
	}, &out)
	if err != nil {
		return "", 0, err
	}
	if !out.Success || out.BookingID == "" {
		if out.Message != "" {
			return "", 0, fmt.Errorf("%w: %s", ErrVerifyRejected, out.Message)
		}
		return "", 0, ErrVerifyRejected
	}
	return out.BookingID, out.SecurityLevel, nil
}

func (f *Flow) authenticate(ctx context.Context) error {
	f.set(StateBiometricPrompt)
	ok, err := f.auth.Authenticate(ctx, "Confirm your identity to check in")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBiometricRejected, err)
	}
	if !ok {
		return ErrBiometricRejected
	}
	return nil
}

func (f *Flow) unlock(ctx context.Context, span trace.Span, bookingID string) (State, error) {
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	err := f.session.DoJSON(ctx, http.MethodPost, api.RouteUnlockRoom, map[string]string{
		"bookingId": bookingID,
	}, &out)
	if err != nil {
		return f.fail(span, StateFailed, err)
	}
	if !out.Success {
		if out.Message != "" {
			return f.fail(span, StateFailed, fmt.Errorf("%w: %s", ErrUnlockRejected, out.Message))
		}
		return f.fail(span, StateFailed, ErrUnlockRejected)
	}
	f.set(StateCheckedIn)
	span.SetAttributes(attribute.String("checkin.outcome", "checked_in"))
	return StateCheckedIn, nil
}

// pollUnlock runs the level 3 branch: dispatch the OTP to the secondary
// party, then poll until they unlock or the budget runs out.
func (f *Flow) pollUnlock(ctx context.Context, span trace.Span, bookingID string) (State, error) {
	f.set(StateOTPDispatch)
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	err := f.session.DoJSON(ctx, http.MethodPost, api.RouteSendBookingOTP, map[string]string{
		"bookingId": bookingID,
	}, &out)
	if err != nil {
		return f.fail(span, StateFailed, err)
	}
	if !out.Success {
		if out.Message != "" {
			return f.fail(span, StateFailed, fmt.Errorf("%w: %s", ErrUnlockRejected, out.Message))
		}
		return f.fail(span, StateFailed, ErrUnlockRejected)
	}

	p := NewPoller(f.session, bookingID, f.cfg.PollInterval, f.cfg.SettleDelay, f.cfg.PollMaxAttempts)
	f.mu.Lock()
	f.poller = p
	f.setLocked(StatePolling)
	f.mu.Unlock()

	switch err := p.Wait(ctx); {
	case err == nil:
		f.set(StateCheckedIn)
		span.SetAttributes(attribute.String("checkin.outcome", "checked_in"))
		return StateCheckedIn, nil
	case errors.Is(err, ErrUnlockTimeout):
		return f.fail(span, StateTimedOut, err)
	default:
		return f.fail(span, StateFailed, err)
	}
}

func (f *Flow) fail(span trace.Span, to State, err error) (State, error) {
	f.set(to)
	span.SetAttributes(attribute.String("checkin.outcome", to.String()))
	span.RecordError(err)
	return to, err
}

func (f *Flow) set(to State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(to)
}

func (f *Flow) setLocked(to State) {
	from := f.state
	f.state = to
	if f.onTransition != nil && from != to {
		f.onTransition(from, to)
	}
}
