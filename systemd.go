//go:build linux || darwin

package forkdaemon

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifySystemd sends the given sd_notify assignments when the process was
// started by systemd with a notification socket. Without one it does
// nothing.
func notifySystemd(logger *slog.Logger, states ...string) {
	state := strings.Join(states, "\n")

	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("failed to notify systemd", "state", state, "error", err)
		return
	}

	if sent {
		logger.Debug("notified systemd", "state", state)
	}
}

func notifyReady(logger *slog.Logger, pid int) {
	notifySystemd(logger, daemon.SdNotifyReady, "MAINPID="+strconv.Itoa(pid))
}

func notifyReloading(logger *slog.Logger) {
	notifySystemd(logger, daemon.SdNotifyReloading)
}

func notifyReloaded(logger *slog.Logger) {
	notifySystemd(logger, daemon.SdNotifyReady)
}

func notifyStopping(logger *slog.Logger) {
	notifySystemd(logger, daemon.SdNotifyStopping)
}
