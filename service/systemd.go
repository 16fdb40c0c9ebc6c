//go:build linux

// Package service installs and inspects the systemd unit that runs the
// monitoring daemon.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/rs/zerolog/log"
)

const UnitName = "zpoolmon.service"
const unitPath = "/etc/systemd/system/" + UnitName

// TimeoutStopSec matches the shutdown contract: a stop request waits for
// the in-flight subprocess or SMTP call before the unit is killed.
const unitTemplate = `[Unit]
Description=ZFS pool monitoring daemon
Documentation=https://github.com/monobilisim/zpoolmon
After=network.target zfs.target

[Service]
Type=simple
ExecStart=%s daemon --foreground
Restart=on-failure
RestartSec=10
TimeoutStopSec=30

[Install]
WantedBy=multi-user.target
`

// Install writes the unit file for the current executable and reloads
// systemd. Requires root.
func Install() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot determine executable path: %w", err)
	}

	unit := fmt.Sprintf(unitTemplate, execPath)
	if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", unitPath, err)
	}

	log.Info().
		Str("component", "service").
		Str("unit", unitPath).
		Str("exec", execPath).
		Msg("Installed systemd unit")

	if out, err := exec.Command("systemctl", "daemon-reload").CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w (%s)", err, string(out))
	}

	fmt.Println("Installed " + unitPath)
	fmt.Println("Enable and start with: systemctl enable --now " + UnitName)
	return nil
}

// Uninstall stops and disables the unit, removes the unit file and
// reloads systemd.
func Uninstall() error {
	// Stop/disable failures are not fatal; the unit may not be running
	if out, err := exec.Command("systemctl", "disable", "--now", UnitName).CombinedOutput(); err != nil {
		log.Warn().
			Err(err).
			Str("component", "service").
			Str("output", string(out)).
			Msg("Failed to disable unit, continuing")
	}

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove %s: %w", unitPath, err)
	}

	if out, err := exec.Command("systemctl", "daemon-reload").CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w (%s)", err, string(out))
	}

	fmt.Println("Removed " + unitPath)
	return nil
}

// Status returns the unit's systemd active state, "not-found" when the
// unit is not loaded.
func Status() (string, error) {
	ctx := context.Background()

	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return "", fmt.Errorf("error connecting to systemd: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsContext(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing systemd units: %w", err)
	}

	for _, unit := range units {
		if unit.Name == UnitName {
			return unit.ActiveState, nil
		}
	}

	return "not-found", nil
}
