// Package device handles the local device identity, its registration with the
// server, and the biometric gate used by level-2/3 check-in.
package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"secure-room-access/client/internal/keystore"
)

// Identity is the device as the server knows it: a stable ID plus a display name.
type Identity struct {
	ID   string
	Name string
}

// LoadOrCreate returns the persisted device identity, deriving and persisting
// the ID on first use. The ID is a hardware UUID when one can be probed, else a
// generated UUID. Once stored it is never re-derived; check-in verification
// always uses the stored value.
func LoadOrCreate(store keystore.Store, nameOverride string) (Identity, error) {
	id := store.Get(keystore.KeyDeviceID)
	if id == "" {
		id = Fingerprint()
		if id == "" {
			id = uuid.New().String()
		}
		if err := store.Set(keystore.KeyDeviceID, id); err != nil {
			return Identity{}, err
		}
	}
	name := strings.TrimSpace(nameOverride)
	if name == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			name = h
		} else {
			name = "unknown-device"
		}
	}
	return Identity{ID: id, Name: name}, nil
}

// SealSecret returns the secret used to seal the local keystore: the hardware
// fingerprint when available, else the hostname. Weak on fingerprint-less
// machines, but tokens are short-lived and the server can revoke sessions.
func SealSecret() []byte {
	if fp := Fingerprint(); fp != "" {
		return []byte(fp)
	}
	h, _ := os.Hostname()
	return []byte("roomctl:" + h)
}

// Fingerprint returns a stable hardware identifier for this machine, or ""
// when none can be probed on this platform.
func Fingerprint() string {
	switch runtime.GOOS {
	case "linux":
		if raw, err := os.ReadFile("/sys/class/dmi/id/product_uuid"); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				return id
			}
		}
		if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
			return strings.TrimSpace(string(raw))
		}
	case "darwin":
		out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(out), "\n") {
			if !strings.Contains(line, "IOPlatformUUID") {
				continue
			}
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				return parts[3]
			}
		}
	case "windows":
		out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(out), "\n") {
			s := strings.TrimSpace(line)
			if s != "" && !strings.EqualFold(s, "UUID") {
				return s
			}
		}
	}
	return ""
}
