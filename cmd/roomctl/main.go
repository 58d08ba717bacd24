// Command roomctl is the terminal client for the room access service: it
// manages the login session, registered devices, and bookings, and drives the
// QR check-in flow against the backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secure-room-access/client/internal/account"
	"secure-room-access/client/internal/api"
	"secure-room-access/client/internal/booking"
	"secure-room-access/client/internal/checkin"
	"secure-room-access/client/internal/config"
	"secure-room-access/client/internal/device"
	"secure-room-access/client/internal/keystore"
	"secure-room-access/client/internal/session"
	"secure-room-access/client/internal/telemetry"
)

const usage = `Usage: roomctl <command> [args]

Commands:
  login                       sign in and store the session
  logout                      sign out and clear the session
  whoami                      show the signed-in user
  setup                       first-login setup: verify email, set password, enroll
  devices [add|remove <id>]   list or manage registered devices
  rooms                       list rooms for your company
  slots <date>                list available rooms and timeslots for a date
  book <roomID> <date> <slot...>  book a room (flags: -secondary email)
  bookings                    list your upcoming bookings
  cancel <bookingID>          cancel a booking
  checkin <token>             check in with a scanned QR token`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, "roomctl", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		// Shutdown drains in-flight event emits before closing the exporters,
		// so commands with nothing pending exit immediately.
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := keystore.NewFileStore(cfg.DataDir, device.SealSecret())
	if err != nil {
		log.Fatalf("keystore: %v", err)
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.Timeout())
	mgr := session.NewManager(client, store)
	mgr.OnReset(func() {
		fmt.Fprintln(os.Stderr, "Session expired, please log in again.")
	})

	app := &app{
		cfg:      cfg,
		store:    store,
		client:   client,
		session:  mgr,
		accounts: account.NewService(client),
		devices:  device.NewService(mgr, store),
		bookings: booking.NewService(mgr),
		events:   telemetry.NewEventEmitter(providers.LoggerProvider),
	}
	app.auth = &device.PromptAuthenticator{In: os.Stdin, Out: os.Stderr, Store: store}
	app.flow = checkin.NewFlow(mgr, app.devices, app.auth, checkin.Config{
		PollInterval:    cfg.PollInterval(),
		SettleDelay:     cfg.SettleDelay(),
		PollMaxAttempts: cfg.UnlockPollMaxAttempts,
	})

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

type app struct {
	cfg      *config.Config
	store    keystore.Store
	client   *api.Client
	session  *session.Manager
	accounts *account.Service
	devices  *device.Service
	bookings *booking.Service
	auth     device.Authenticator
	flow     *checkin.Flow
	events   telemetry.EventEmitter
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.cmdLogin(ctx)
	case "logout":
		return a.cmdLogout(ctx)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "setup":
		return a.cmdSetup(ctx)
	case "devices":
		return a.cmdDevices(ctx, args)
	case "rooms":
		return a.cmdRooms(ctx)
	case "slots":
		return a.cmdSlots(ctx, args)
	case "book":
		return a.cmdBook(ctx, args)
	case "bookings":
		return a.cmdBookings(ctx)
	case "cancel":
		return a.cmdCancel(ctx, args)
	case "checkin":
		return a.cmdCheckin(ctx, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
