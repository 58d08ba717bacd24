package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"secure-room-access/client/internal/keystore"
)

// ErrBiometricsNotEnrolled is returned when biometrics have not been enabled
// on this device yet.
var ErrBiometricsNotEnrolled = errors.New("biometrics not enrolled on this device")

// Authenticator gates security level 2/3 actions behind a local
// user-presence check. On mobile this is the platform biometric prompt.
type Authenticator interface {
	// Authenticate returns whether the local user passed the presence check.
	// A false result is a normal outcome, not an error.
	Authenticate(ctx context.Context, prompt string) (bool, error)
}

// PromptAuthenticator is the terminal stand-in for the platform biometric
// prompt: it requires the enrolled flag and an explicit interactive confirmation.
type PromptAuthenticator struct {
	In    io.Reader
	Out   io.Writer
	Store keystore.Store
}

// Authenticate asks the user to confirm presence. Requires prior enrollment.
func (a *PromptAuthenticator) Authenticate(ctx context.Context, prompt string) (bool, error) {
	if a.Store.Get(keystore.KeyBiometricsEnabled) != "true" {
		return false, ErrBiometricsNotEnrolled
	}
	fmt.Fprintf(a.Out, "%s [y/N]: ", prompt)

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(a.In).ReadString('\n')
		if err != nil && line == "" {
			ch <- answer{err: err}
			return
		}
		s := strings.ToLower(strings.TrimSpace(line))
		ch <- answer{ok: s == "y" || s == "yes"}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ans := <-ch:
		return ans.ok, ans.err
	}
}

// Enroll records that biometrics are enabled on this device. Called after the
// user first passes the presence check during account setup.
func Enroll(store keystore.Store) error {
	return store.Set(keystore.KeyBiometricsEnabled, "true")
}

// Enrolled reports whether biometrics have been enabled on this device.
func Enrolled(store keystore.Store) bool {
	return store.Get(keystore.KeyBiometricsEnabled) == "true"
}
