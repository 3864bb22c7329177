// Package systemd reports service state to systemd (Type=notify units).
// Outside systemd every call is a no-op.
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd startup is complete. sent is false when NOTIFY_SOCKET is unset.
func Ready() (sent bool, err error) { return send(daemon.SdNotifyReady) }

// Stopping tells systemd a graceful shutdown has begun.
func Stopping() (sent bool, err error) { return send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) (sent bool, err error) { return send("STATUS=" + s) }

func send(state string) (bool, error) {
	ok, err := notify(false, state)
	if err != nil {
		return false, fmt.Errorf("sd_notify %q: %w", state, err)
	}
	return ok, nil
}
