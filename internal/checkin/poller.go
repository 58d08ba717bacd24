package checkin

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"secure-room-access/client/internal/api"
)

const (
	// DefaultPollInterval is the pause between unlock checks.
	DefaultPollInterval = 5 * time.Second
	// DefaultPollMaxAttempts caps how many unlock checks a poll cycle makes.
	DefaultPollMaxAttempts = 10
	// DefaultSettleDelay is how long a resumed poller waits before its
	// immediate re-check, giving the transport a moment to re-establish.
	DefaultSettleDelay = 2 * time.Second
)

var (
	// ErrCheckInFlight means an unlock check is already running. Callers
	// drop the duplicate; the running check's result stands.
	ErrCheckInFlight = errors.New("checkin: unlock check already in flight")
	// ErrUnlockTimeout means the attempt budget ran out before the room
	// reported unlocked.
	ErrUnlockTimeout = errors.New("checkin: room not unlocked within attempt budget")
)

// Poller repeatedly asks the server whether a level 3 booking has been
// unlocked by the secondary party. Failed checks spend an attempt exactly
// like checks that report "not yet", so a flaky network cannot extend the
// budget.
type Poller struct {
	session   Session
	bookingID string

	interval    time.Duration
	settle      time.Duration
	maxAttempts int

	inFlight atomic.Bool
	resume   chan struct{}

	checks metric.Int64Counter
}

// NewPoller builds a poller for one booking. Zero interval, settle, or
// maxAttempts fall back to the package defaults.
func NewPoller(session Session, bookingID string, interval, settle time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	checks, err := otel.Meter("checkin").Int64Counter("checkin.unlock_checks")
	if err != nil {
		log.Printf("checkin: unlock check counter unavailable: %v", err)
	}
	return &Poller{
		session:     session,
		bookingID:   bookingID,
		interval:    interval,
		settle:      settle,
		maxAttempts: maxAttempts,
		resume:      make(chan struct{}, 1),
		checks:      checks,
	}
}

// Resume asks the poller to re-check soon instead of waiting out the current
// interval. It is safe to call from any goroutine and at any rate; signals
// arriving while one is already pending are coalesced.
func (p *Poller) Resume() {
	select {
	case p.resume <- struct{}{}:
	default:
	}
}

// Check performs a single unlock check. At most one check runs at a time;
// concurrent callers get ErrCheckInFlight and no request is sent for them.
func (p *Poller) Check(ctx context.Context) (bool, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return false, ErrCheckInFlight
	}
	defer p.inFlight.Store(false)

	var out struct {
		Success    bool `json:"success"`
		IsUnlocked bool `json:"isUnlocked"`
	}
	err := p.session.DoJSON(ctx, http.MethodPost, api.RouteCheckUnlock, map[string]string{
		"bookingId": p.bookingID,
	}, &out)
	if err != nil {
		p.count(ctx, "error")
		return false, err
	}
	if out.Success && out.IsUnlocked {
		p.count(ctx, "unlocked")
		return true, nil
	}
	p.count(ctx, "pending")
	return false, nil
}

// Wait polls until the room unlocks, the attempt budget runs out, or ctx is
// cancelled. The first check happens immediately. It returns ErrUnlockTimeout
// when the budget is spent and ctx.Err() on cancellation.
func (p *Poller) Wait(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempts := 0; attempts < p.maxAttempts; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.resume:
			// Give the connection a beat to settle, then fall through
			// to an immediate check.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.settle)
			continue
		case <-timer.C:
		}

		unlocked, err := p.Check(ctx)
		switch {
		case unlocked:
			return nil
		case errors.Is(err, ErrCheckInFlight):
			// Someone else's check is running; wait for the next tick
			// without spending an attempt.
		case err != nil:
			log.Printf("checkin: unlock check failed: %v", err)
			attempts++
		default:
			attempts++
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval)
	}
	return ErrUnlockTimeout
}

func (p *Poller) count(ctx context.Context, outcome string) {
	if p.checks == nil {
		return
	}
	p.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
