package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"secure-room-access/client/internal/api"
	"secure-room-access/client/internal/device"
)

type fakeSession struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(call int, body any) (any, error)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		calls:    make(map[string]int),
		handlers: make(map[string]func(call int, body any) (any, error)),
	}
}

func (s *fakeSession) on(path string, h func(call int, body any) (any, error)) {
	s.handlers[path] = h
}

func (s *fakeSession) reply(path string, resp any) {
	s.on(path, func(int, any) (any, error) { return resp, nil })
}

func (s *fakeSession) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *fakeSession) DoJSON(_ context.Context, _, path string, body, out any) error {
	s.mu.Lock()
	s.calls[path]++
	n := s.calls[path]
	h := s.handlers[path]
	s.mu.Unlock()
	if h == nil {
		return fmt.Errorf("unexpected call to %s", path)
	}
	resp, err := h(n, body)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

type fakeAuth struct {
	ok    bool
	err   error
	calls atomic.Int32
}

func (a *fakeAuth) Authenticate(context.Context, string) (bool, error) {
	a.calls.Add(1)
	return a.ok, a.err
}

type fakeVerifier struct {
	ok    bool
	err   error
	calls atomic.Int32
}

func (v *fakeVerifier) Verify(context.Context) (bool, error) {
	v.calls.Add(1)
	return v.ok, v.err
}

func verifyResponse(level int) any {
	return map[string]any{"success": true, "securityLevel": level, "bookingId": "b-1"}
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, SettleDelay: time.Millisecond, PollMaxAttempts: 10}
}

func TestRun_Level1_UnlocksWithoutBiometric(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, verifyResponse(1))
	sess.reply(api.RouteUnlockRoom, map[string]any{"success": true})
	auth := &fakeAuth{ok: true}
	dev := &fakeVerifier{ok: true}

	f := NewFlow(sess, dev, auth, fastConfig())
	var seen []State
	f.OnTransition(func(_, to State) { seen = append(seen, to) })

	st, err := f.Run(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st != StateCheckedIn {
		t.Fatalf("terminal state = %v, want CheckedIn", st)
	}
	if got := auth.calls.Load(); got != 0 {
		t.Fatalf("biometric prompted %d times on level 1, want 0", got)
	}
	if got := dev.calls.Load(); got != 0 {
		t.Fatalf("device verified %d times on level 1, want 0", got)
	}
	for _, s := range seen {
		if s == StateBiometricPrompt || s == StateDeviceVerifying {
			t.Fatalf("level 1 flow passed through %v", s)
		}
	}
	if f.BookingID() != "b-1" {
		t.Fatalf("BookingID = %q, want b-1", f.BookingID())
	}
}

func TestRun_Level2_BiometricThenDeviceThenUnlock(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, verifyResponse(2))
	sess.reply(api.RouteUnlockRoom, map[string]any{"success": true})
	auth := &fakeAuth{ok: true}
	dev := &fakeVerifier{ok: true}

	f := NewFlow(sess, dev, auth, fastConfig())
	st, err := f.Run(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st != StateCheckedIn {
		t.Fatalf("terminal state = %v, want CheckedIn", st)
	}
	if auth.calls.Load() != 1 || dev.calls.Load() != 1 {
		t.Fatalf("auth calls = %d, device calls = %d, want 1 and 1", auth.calls.Load(), dev.calls.Load())
	}
	if sess.count(api.RouteUnlockRoom) != 1 {
		t.Fatalf("unlock calls = %d, want 1", sess.count(api.RouteUnlockRoom))
	}
}

func TestRun_BiometricRejected(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, verifyResponse(2))
	auth := &fakeAuth{ok: false}
	dev := &fakeVerifier{ok: true}

	f := NewFlow(sess, dev, auth, fastConfig())
	st, err := f.Run(context.Background(), "tok")
	if !errors.Is(err, ErrBiometricRejected) {
		t.Fatalf("err = %v, want ErrBiometricRejected", err)
	}
	if st != StateFailed {
		t.Fatalf("terminal state = %v, want Failed", st)
	}
	if dev.calls.Load() != 0 {
		t.Fatal("device verified after biometric rejection")
	}
	if sess.count(api.RouteUnlockRoom) != 0 {
		t.Fatal("unlock attempted after biometric rejection")
	}
}

func TestRun_DeviceCheckFailsClosed(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, verifyResponse(2))
	auth := &fakeAuth{ok: true}
	dev := &fakeVerifier{err: device.ErrNoStoredDevice}

	f := NewFlow(sess, dev, auth, fastConfig())
	st, err := f.Run(context.Background(), "tok")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("err = %v, want ErrDeviceMismatch", err)
	}
	if !errors.Is(err, device.ErrNoStoredDevice) {
		t.Fatalf("err = %v, want wrapped ErrNoStoredDevice", err)
	}
	if st != StateFailed {
		t.Fatalf("terminal state = %v, want Failed", st)
	}
	if sess.count(api.RouteUnlockRoom) != 0 {
		t.Fatal("unlock attempted without a verified device")
	}
}

func TestRun_VerifyRejected(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, map[string]any{"success": false, "message": "no booking today"})

	f := NewFlow(sess, &fakeVerifier{}, &fakeAuth{}, fastConfig())
	st, err := f.Run(context.Background(), "tok")
	if !errors.Is(err, ErrVerifyRejected) {
		t.Fatalf("err = %v, want ErrVerifyRejected", err)
	}
	if st != StateFailed {
		t.Fatalf("terminal state = %v, want Failed", st)
	}
}

func TestRun_Level3_PollsUntilUnlocked(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, verifyResponse(3))
	sess.reply(api.RouteSendBookingOTP, map[string]any{"success": true})
	sess.on(api.RouteCheckUnlock, func(call int, _ any) (any, error) {
		return map[string]any{"success": true, "isUnlocked": call >= 3}, nil
	})
	auth := &fakeAuth{ok: true}
	dev := &fakeVerifier{ok: true}

	f := NewFlow(sess, dev, auth, fastConfig())
	st, err := f.Run(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st != StateCheckedIn {
		t.Fatalf("terminal state = %v, want CheckedIn", st)
	}
	if got := sess.count(api.RouteSendBookingOTP); got != 1 {
		t.Fatalf("OTP dispatches = %d, want 1", got)
	}
	if got := sess.count(api.RouteCheckUnlock); got != 3 {
		t.Fatalf("unlock checks = %d, want 3", got)
	}
	if sess.count(api.RouteUnlockRoom) != 0 {
		t.Fatal("level 3 flow called the direct unlock route")
	}
}

func TestRun_Level3_TimesOut(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, verifyResponse(3))
	sess.reply(api.RouteSendBookingOTP, map[string]any{"success": true})
	sess.reply(api.RouteCheckUnlock, map[string]any{"success": true, "isUnlocked": false})

	f := NewFlow(sess, &fakeVerifier{ok: true}, &fakeAuth{ok: true}, fastConfig())
	st, err := f.Run(context.Background(), "tok")
	if !errors.Is(err, ErrUnlockTimeout) {
		t.Fatalf("err = %v, want ErrUnlockTimeout", err)
	}
	if st != StateTimedOut {
		t.Fatalf("terminal state = %v, want TimedOut", st)
	}
	if got := sess.count(api.RouteCheckUnlock); got != 10 {
		t.Fatalf("unlock checks = %d, want exactly 10", got)
	}
}

func TestRun_DuplicateScanRejected(t *testing.T) {
	sess := newFakeSession()
	release := make(chan struct{})
	started := make(chan struct{})
	sess.on(api.RouteVerifyBooking, func(int, any) (any, error) {
		close(started)
		<-release
		return verifyResponse(1), nil
	})
	sess.reply(api.RouteUnlockRoom, map[string]any{"success": true})

	f := NewFlow(sess, &fakeVerifier{}, &fakeAuth{}, fastConfig())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := f.Run(context.Background(), "tok"); err != nil {
			t.Errorf("first Run: %v", err)
		}
	}()
	<-started

	if _, err := f.Run(context.Background(), "tok2"); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("second Run err = %v, want ErrScanInProgress", err)
	}
	if got := sess.count(api.RouteVerifyBooking); got != 1 {
		t.Fatalf("verify calls = %d, want 1", got)
	}
	close(release)
	<-done
}

func TestReset(t *testing.T) {
	sess := newFakeSession()
	sess.reply(api.RouteVerifyBooking, map[string]any{"success": false})

	f := NewFlow(sess, &fakeVerifier{}, &fakeAuth{}, fastConfig())
	if err := f.Reset(); !errors.Is(err, ErrNotResettable) {
		t.Fatalf("Reset while idle err = %v, want ErrNotResettable", err)
	}

	if st, _ := f.Run(context.Background(), "tok"); st != StateFailed {
		t.Fatalf("terminal state = %v, want Failed", st)
	}
	if err := f.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if f.State() != StateIdle {
		t.Fatalf("state after Reset = %v, want Idle", f.State())
	}
	if f.BookingID() != "" || f.SecurityLevel() != 0 {
		t.Fatal("Reset did not clear booking context")
	}

	// The flow accepts a fresh scan after the reset.
	if _, err := f.Run(context.Background(), "tok"); errors.Is(err, ErrScanInProgress) {
		t.Fatal("fresh scan rejected after Reset")
	}
}
