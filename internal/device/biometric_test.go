package device

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"secure-room-access/client/internal/keystore"
)

func TestPromptAuthenticator_RequiresEnrollment(t *testing.T) {
	a := &PromptAuthenticator{
		In:    strings.NewReader("y\n"),
		Out:   &bytes.Buffer{},
		Store: keystore.NewMemory(),
	}
	ok, err := a.Authenticate(context.Background(), "Confirm")
	if ok {
		t.Fatal("authenticated without enrollment")
	}
	if !errors.Is(err, ErrBiometricsNotEnrolled) {
		t.Fatalf("err = %v, want ErrBiometricsNotEnrolled", err)
	}
}

func TestPromptAuthenticator_Confirm(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"anything\n", false},
	}
	for _, tc := range cases {
		store := keystore.NewMemory()
		if err := Enroll(store); err != nil {
			t.Fatal(err)
		}
		a := &PromptAuthenticator{In: strings.NewReader(tc.input), Out: &bytes.Buffer{}, Store: store}
		ok, err := a.Authenticate(context.Background(), "Confirm")
		if err != nil {
			t.Fatalf("input %q: %v", tc.input, err)
		}
		if ok != tc.want {
			t.Errorf("input %q: ok = %v, want %v", tc.input, ok, tc.want)
		}
	}
}

func TestEnroll(t *testing.T) {
	store := keystore.NewMemory()
	if Enrolled(store) {
		t.Fatal("fresh store reports enrolled")
	}
	if err := Enroll(store); err != nil {
		t.Fatal(err)
	}
	if !Enrolled(store) {
		t.Fatal("Enroll did not persist")
	}
}

func TestLoadOrCreate_ReusesStoredID(t *testing.T) {
	store := keystore.NewMemory()
	if err := store.Set(keystore.KeyDeviceID, "hw-existing"); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreate(store, "Pixel 8")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.ID != "hw-existing" {
		t.Fatalf("ID = %q, want stored hw-existing", id.ID)
	}
}

func TestLoadOrCreate_PersistsNewID(t *testing.T) {
	store := keystore.NewMemory()
	id, err := LoadOrCreate(store, "Pixel 8")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.ID == "" {
		t.Fatal("empty device ID")
	}
	if got := store.Get(keystore.KeyDeviceID); got != id.ID {
		t.Fatalf("stored ID = %q, want %q", got, id.ID)
	}

	// A second load sees the same identity.
	again, err := LoadOrCreate(store, "Pixel 8")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if again.ID != id.ID {
		t.Fatalf("second load ID = %q, want %q", again.ID, id.ID)
	}
}
