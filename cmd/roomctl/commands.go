package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"secure-room-access/client/internal/account"
	"secure-room-access/client/internal/booking"
	"secure-room-access/client/internal/checkin"
	"secure-room-access/client/internal/device"
	"secure-room-access/client/internal/telemetry"
)

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// Piped input, e.g. in scripts.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (a *app) cmdLogin(ctx context.Context) error {
	email, err := readLine("Email: ")
	if err != nil {
		return err
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	res, err := a.session.Login(ctx, email, password)
	if err != nil {
		telemetry.EmitAsync(a.events, telemetry.Event{Type: "login", UserEmail: email, Outcome: "failed"})
		return err
	}
	if res.RequiresVerification {
		fmt.Println("First login: your email needs verification. Run `roomctl setup`.")
		return nil
	}
	telemetry.EmitAsync(a.events, telemetry.Event{Type: "login", UserEmail: email, Outcome: "ok"})
	fmt.Printf("Signed in as %s\n", email)
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	a.session.LogoutUser(ctx)
	fmt.Println("Signed out.")
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	if err := a.session.Bootstrap(ctx); err != nil {
		return err
	}
	user := a.session.User()
	if user == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	fmt.Printf("%s (%s)\n", user.Name, user.Email)
	if user.Company != "" {
		fmt.Printf("Company: %s\n", user.Company)
	}
	return nil
}

// cmdSetup walks the first-login path: email OTP verification, initial
// password change, biometric enrollment, and device registration.
func (a *app) cmdSetup(ctx context.Context) error {
	email, err := readLine("Email: ")
	if err != nil {
		return err
	}

	msg, err := a.accounts.SendOTP(ctx, email)
	if err != nil {
		return err
	}
	if msg != "" {
		fmt.Println(msg)
	}
	otp, err := readLine("Verification code: ")
	if err != nil {
		return err
	}
	ok, msg, err := a.accounts.VerifyOTP(ctx, email, otp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("verification failed: %s", msg)
	}
	// Setup can also run standalone, before any login attempt, in which
	// case there is no pending-verification state to advance.
	_ = a.session.MarkVerified()

	password, err := readPassword("New password: ")
	if err != nil {
		return err
	}
	if s := account.PasswordStrength(password); s == account.StrengthWeak {
		fmt.Fprintln(os.Stderr, "Warning: weak password.")
	}
	if err := a.accounts.ChangeInitialPassword(ctx, email, password); err != nil {
		return err
	}
	fmt.Println("Password set. Log in with your new password.")

	res, err := a.session.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if res.RequiresVerification {
		return errors.New("account still pending verification")
	}

	if err := device.Enroll(a.store); err != nil {
		return err
	}
	id, err := device.LoadOrCreate(a.store, a.cfg.DeviceName)
	if err != nil {
		return err
	}
	if err := a.devices.Register(ctx, email, id); err != nil {
		if errors.Is(err, device.ErrDeviceLimit) {
			return fmt.Errorf("%w; run `roomctl devices` to manage them", err)
		}
		return err
	}
	telemetry.EmitAsync(a.events, telemetry.Event{Type: "device_registered", UserEmail: email, DeviceID: id.ID})
	fmt.Printf("Device %q registered.\n", id.Name)
	return nil
}

func (a *app) cmdDevices(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "add":
			email := a.session.Email()
			if email == "" {
				return errors.New("not signed in")
			}
			id, err := device.LoadOrCreate(a.store, a.cfg.DeviceName)
			if err != nil {
				return err
			}
			if err := a.devices.Register(ctx, email, id); err != nil {
				return err
			}
			fmt.Printf("Device %q registered.\n", id.Name)
			return nil
		case "remove":
			if len(args) < 2 {
				return errors.New("usage: roomctl devices remove <id>")
			}
			if err := a.devices.Remove(ctx, args[1]); err != nil {
				return err
			}
			fmt.Println("Device removed.")
			return nil
		default:
			return fmt.Errorf("unknown devices subcommand %q", args[0])
		}
	}

	devices, err := a.devices.List(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No registered devices.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\n", d.ID, d.DeviceName)
	}
	return nil
}

func (a *app) cmdRooms(ctx context.Context) error {
	rooms, err := a.bookings.Rooms(ctx)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Printf("%s\t%s\t%s\n", r.ID, r.RoomName, r.Location)
	}
	return nil
}

func (a *app) cmdSlots(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roomctl slots <YYYY-MM-DD>")
	}
	rooms, err := a.bookings.Available(ctx, args[0])
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Println("No availability on that date.")
		return nil
	}
	for _, r := range rooms {
		fmt.Printf("%s\t%s\t%s\t%s\n", r.ID, r.RoomName, r.Location, strings.Join(r.Timeslots, ", "))
	}
	return nil
}

func (a *app) cmdBook(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	secondary := fs.String("secondary", "", "secondary approver email for high-security rooms")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 3 {
		return errors.New("usage: roomctl book [-secondary email] <roomID> <YYYY-MM-DD> <slot...>")
	}
	roomID, date, slots := rest[0], rest[1], rest[2:]
	if err := a.bookings.Book(ctx, roomID, date, slots, *secondary); err != nil {
		if errors.Is(err, booking.ErrTooManyTimeslots) {
			return fmt.Errorf("%w (max %d per booking)", err, booking.MaxTimeslots)
		}
		return err
	}
	telemetry.EmitAsync(a.events, telemetry.Event{Type: "booking_created", UserEmail: a.session.Email()})
	fmt.Println("Booked.")
	return nil
}

func (a *app) cmdBookings(ctx context.Context) error {
	all, err := a.bookings.Bookings(ctx)
	if err != nil {
		return err
	}
	upcoming := booking.Upcoming(all, time.Now())
	if len(upcoming) == 0 {
		fmt.Println("No upcoming bookings.")
		return nil
	}
	for _, b := range upcoming {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", b.ID, b.BookingDate, b.Timeslot, b.RoomName, b.Location)
	}
	return nil
}

func (a *app) cmdCancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roomctl cancel <bookingID>")
	}
	if err := a.bookings.Cancel(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Booking cancelled.")
	return nil
}

func (a *app) cmdCheckin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: roomctl checkin <scanned-token>")
	}
	payload := args[0]

	if preview, err := checkin.PreviewToken(payload); err == nil && preview.Expired(time.Now()) {
		fmt.Fprintln(os.Stderr, "Note: the scanned code looks expired; trying anyway.")
	}

	a.flow.OnTransition(func(_, to checkin.State) {
		switch to {
		case checkin.StateBiometricPrompt:
			fmt.Fprintln(os.Stderr, "Biometric check required.")
		case checkin.StateOTPDispatch:
			fmt.Fprintln(os.Stderr, "Notifying the secondary approver...")
		case checkin.StatePolling:
			fmt.Fprintln(os.Stderr, "Waiting for the secondary approver to unlock. Press Enter to re-check.")
		}
	})

	// Enter nudges an active poll, the terminal analog of bringing the app
	// back to the foreground.
	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
			a.flow.Resume()
		}
	}()

	state, err := a.flow.Run(ctx, payload)
	event := telemetry.Event{
		Type:      "checkin",
		UserEmail: a.session.Email(),
		BookingID: a.flow.BookingID(),
		Outcome:   state.String(),
	}
	if err != nil {
		event.Detail = err.Error()
	}
	telemetry.EmitAsync(a.events, event)

	switch state {
	case checkin.StateCheckedIn:
		fmt.Println("Checked in. The room is unlocked.")
		return nil
	case checkin.StateTimedOut:
		return errors.New("the secondary approver did not unlock in time")
	default:
		return err
	}
}
