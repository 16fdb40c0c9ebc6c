package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monobilisim/zpoolmon/alert"
	"github.com/monobilisim/zpoolmon/monitor"
	"github.com/monobilisim/zpoolmon/zfs"
)

func listJSON(capacity int) string {
	return fmt.Sprintf(`{
		"pools": {
			"rpool": {
				"name": "rpool",
				"properties": {
					"health": {"value": "ONLINE"},
					"capacity": {"value": "%d%%"},
					"size": {"value": "1000000000000"},
					"allocated": {"value": "%d0000000000"},
					"free": {"value": "500000000000"}
				}
			}
		}
	}`, capacity, capacity)
}

// statusJSON reports a scrub from yesterday so only the fixture's
// capacity decides whether issues exist.
func statusJSON() string {
	return fmt.Sprintf(`{
		"pools": {
			"rpool": {
				"name": "rpool",
				"state": "ONLINE",
				"vdevs": {
					"rpool": {"read_errors": 0, "write_errors": 0, "checksum_errors": 0}
				},
				"scan_stats": {"state": "FINISHED", "end_time": %d, "errors": 0}
			}
		}
	}`, time.Now().Add(-24*time.Hour).Unix())
}

// testHarness wires a daemon with fixture-backed zpool output and a
// capturing mail sender.
type testHarness struct {
	daemon     *Daemon
	states     *alert.StateManager
	listOutput string
	runErr     error
	alerts     []string
	recoveries []string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{listOutput: listJSON(50)}

	runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		if h.runErr != nil {
			return nil, []byte("zpool failed"), h.runErr
		}
		if args[0] == "list" {
			return []byte(h.listOutput), nil, nil
		}
		return []byte(statusJSON()), nil, nil
	}

	client := zfs.NewClientWithRunner(runner, zfs.DefaultTimeout)

	poolMonitor, err := monitor.NewPoolMonitor(monitor.DefaultConfig())
	require.NoError(t, err)

	h.states = alert.NewStateManager(filepath.Join(t.TempDir(), "alert_state.json"), 24)

	send := func(_ alert.MailConfig, _ []string, subject, _ string) error {
		if strings.Contains(subject, "RECOVERY -") {
			h.recoveries = append(h.recoveries, subject)
		} else {
			h.alerts = append(h.alerts, subject)
		}
		return nil
	}
	alerter := alert.NewAlerterWithSender(alert.MailConfig{}, []string{"ops@example.com"}, "", true, send)

	h.daemon = New(client, zfs.NewParser(), poolMonitor, alerter, h.states, Config{
		CheckInterval:      10 * time.Millisecond,
		SendRecoveryEmails: true,
	})

	return h
}

func TestCycleHealthyPool(t *testing.T) {
	h := newHarness(t)

	h.daemon.runCheckCycle()

	assert.Empty(t, h.alerts)
	assert.Empty(t, h.recoveries)
	assert.Zero(t, h.states.Len())
}

func TestCycleFirstTimeCapacityWarning(t *testing.T) {
	h := newHarness(t)
	h.listOutput = listJSON(85)

	h.daemon.runCheckCycle()

	require.Len(t, h.alerts, 1)
	assert.Contains(t, h.alerts[0], "WARNING - rpool: Pool at 85.0% capacity")
	assert.Equal(t, 1, h.states.Len())
	assert.False(t, h.states.ShouldAlert(monitor.PoolIssue{
		PoolName: "rpool",
		Category: monitor.CategoryCapacity,
	}))
}

func TestCycleDuplicateSuppression(t *testing.T) {
	h := newHarness(t)
	h.listOutput = listJSON(85)

	h.daemon.runCheckCycle()
	h.daemon.runCheckCycle()

	// Second cycle stays within the resend interval
	assert.Len(t, h.alerts, 1)
	assert.Empty(t, h.recoveries)
}

func TestCycleRecovery(t *testing.T) {
	h := newHarness(t)

	h.listOutput = listJSON(85)
	h.daemon.runCheckCycle()
	require.Len(t, h.alerts, 1)
	require.Equal(t, 1, h.states.Len())

	// The pool drops back under the threshold
	h.listOutput = listJSON(50)
	h.daemon.runCheckCycle()

	require.Len(t, h.recoveries, 1)
	assert.Contains(t, h.recoveries[0], "RECOVERY - rpool: capacity issue resolved")
	assert.Zero(t, h.states.Len())

	// A recovery happens exactly once
	h.daemon.runCheckCycle()
	assert.Len(t, h.recoveries, 1)

	// Reappearance alerts immediately
	h.listOutput = listJSON(85)
	h.daemon.runCheckCycle()
	assert.Len(t, h.alerts, 2)
}

func TestCycleRecoveriesDisabled(t *testing.T) {
	h := newHarness(t)
	h.daemon.config.SendRecoveryEmails = false

	h.listOutput = listJSON(85)
	h.daemon.runCheckCycle()
	h.listOutput = listJSON(50)
	h.daemon.runCheckCycle()

	assert.Empty(t, h.recoveries)
	// State row survives so the resend throttle still applies
	assert.Equal(t, 1, h.states.Len())
}

func TestCycleCommandFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.listOutput = listJSON(85)
	h.runErr = fmt.Errorf("exit status 1")

	h.daemon.runCheckCycle()

	assert.Empty(t, h.alerts)
	assert.Zero(t, h.states.Len())

	// Next cycle retries cleanly
	h.runErr = nil
	h.daemon.runCheckCycle()
	assert.Len(t, h.alerts, 1)
}

func TestCycleFailureDoesNotTriggerRecoveries(t *testing.T) {
	h := newHarness(t)

	h.listOutput = listJSON(85)
	h.daemon.runCheckCycle()
	require.Len(t, h.alerts, 1)

	// An aborted cycle must not be mistaken for "issue gone"
	h.runErr = fmt.Errorf("exit status 1")
	h.daemon.runCheckCycle()
	assert.Empty(t, h.recoveries)
	assert.Equal(t, 1, h.states.Len())
}

func TestCyclePoolWhitelist(t *testing.T) {
	h := newHarness(t)
	h.daemon.config.PoolsToMonitor = []string{"other"}
	h.listOutput = listJSON(85)

	h.daemon.runCheckCycle()

	// rpool is filtered out, nothing to alert on
	assert.Empty(t, h.alerts)
}

func TestCycleGuardSwallowsPanic(t *testing.T) {
	h := newHarness(t)
	h.daemon.monitor = nil // force a nil dereference inside the cycle

	assert.NotPanics(t, func() { h.daemon.runCycleGuarded() })
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		close(started)
		h.daemon.Start()
		close(stopped)
	}()

	<-started
	time.Sleep(30 * time.Millisecond)
	h.daemon.Stop()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop in time")
	}

	// Repeated Stop is safe
	h.daemon.Stop()
}
