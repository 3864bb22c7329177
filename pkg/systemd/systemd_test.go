package systemd

import (
	"errors"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"
)

func TestStates(t *testing.T) {
	var got []string
	notify = func(unset bool, state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}
	t.Cleanup(func() { notify = daemon.SdNotify })

	if _, err := Ready(); err != nil {
		t.Fatal(err)
	}
	if _, err := Status("3 jobs"); err != nil {
		t.Fatal(err)
	}
	if _, err := Stopping(); err != nil {
		t.Fatal(err)
	}
	want := []string{daemon.SdNotifyReady, "STATUS=3 jobs", daemon.SdNotifyStopping}
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestSendWrapsError(t *testing.T) {
	boom := errors.New("boom")
	notify = func(bool, string) (bool, error) { return false, boom }
	t.Cleanup(func() { notify = daemon.SdNotify })

	if sent, err := Ready(); sent || !errors.Is(err, boom) {
		t.Fatalf("Ready() = %v, %v; want false, boom", sent, err)
	}
}

func TestOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	if sent || err != nil {
		t.Fatalf("Ready() = %v, %v; want false, nil", sent, err)
	}
}
