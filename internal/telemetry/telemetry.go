// Package telemetry exports traces, metrics, and structured events over OTLP
// so interactions from this client can be correlated with the backend's.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"
)

// Event is a structured record of something the client did: a login, a scan,
// an unlock, a device registration. Events ride the OTel logs pipeline.
type Event struct {
	Type      string
	UserEmail string
	DeviceID  string
	BookingID string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// EventEmitter emits client events. Best-effort; callers log and ignore
// errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// inflight tracks async emits so Shutdown can drain them instead of sleeping
// a fixed interval.
var inflight sync.WaitGroup

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is
// not blocked. Errors are logged. A nil emitter is a no-op.
//
// The goroutine uses context.Background() with emitTimeout so caller
// cancellation does not abort an in-flight emit. Providers.Shutdown waits for
// emits started here before tearing the exporters down.
func EmitAsync(emitter EventEmitter, event Event) {
	if emitter == nil {
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}

// drain blocks until all in-flight async emits finish or ctx expires.
func drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
