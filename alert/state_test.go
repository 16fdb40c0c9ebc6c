package alert

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monobilisim/zpoolmon/monitor"
)

var stateTestNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) *StateManager {
	t.Helper()
	m := NewStateManager(filepath.Join(t.TempDir(), "alert_state.json"), 24)
	m.now = func() time.Time { return stateTestNow }
	return m
}

func capacityIssue() monitor.PoolIssue {
	return monitor.PoolIssue{
		PoolName: "rpool",
		Severity: monitor.SeverityWarning,
		Category: monitor.CategoryCapacity,
		Message:  "Pool at 85.0% capacity (warning threshold: 80%)",
	}
}

func TestShouldAlertNewIssue(t *testing.T) {
	m := newTestManager(t)
	assert.True(t, m.ShouldAlert(capacityIssue()))
}

func TestRecordAlertSuppressesDuplicates(t *testing.T) {
	m := newTestManager(t)
	issue := capacityIssue()

	require.True(t, m.ShouldAlert(issue))
	m.RecordAlert(issue)

	// Immediately after recording, the same issue is suppressed
	assert.False(t, m.ShouldAlert(issue))

	// A different category on the same pool still alerts
	other := issue
	other.Category = monitor.CategoryErrors
	assert.True(t, m.ShouldAlert(other))
}

func TestShouldAlertAfterResendInterval(t *testing.T) {
	m := newTestManager(t)
	issue := capacityIssue()
	m.RecordAlert(issue)

	// Two hours later: suppressed
	m.now = func() time.Time { return stateTestNow.Add(2 * time.Hour) }
	assert.False(t, m.ShouldAlert(issue))

	// Twenty-five hours later: resend
	m.now = func() time.Time { return stateTestNow.Add(25 * time.Hour) }
	assert.True(t, m.ShouldAlert(issue))

	m.RecordAlert(issue)
	state := m.states["rpool:capacity"]
	require.NotNil(t, state)
	assert.Equal(t, 2, state.AlertCount)
	assert.Equal(t, stateTestNow, state.FirstSeen)
}

func TestShouldAlertNilLastAlerted(t *testing.T) {
	m := newTestManager(t)

	// A state row without an alert timestamp is a corrupt invariant and
	// must alert rather than suppress forever
	m.states["rpool:capacity"] = &State{
		PoolName:      "rpool",
		IssueCategory: "capacity",
		FirstSeen:     stateTestNow,
	}

	assert.True(t, m.ShouldAlert(capacityIssue()))
}

func TestClearIssue(t *testing.T) {
	m := newTestManager(t)
	issue := capacityIssue()
	m.RecordAlert(issue)

	assert.True(t, m.ClearIssue("rpool", "capacity"))
	assert.False(t, m.ClearIssue("rpool", "capacity"))

	// After clearing, the same issue alerts immediately again
	assert.True(t, m.ShouldAlert(issue))
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "alert_state.json")

	m := NewStateManager(stateFile, 24)
	m.now = func() time.Time { return stateTestNow }
	m.RecordAlert(capacityIssue())
	m.RecordAlert(monitor.PoolIssue{PoolName: "tank", Category: monitor.CategoryScrub})

	// A fresh manager reading the same file sees identical state
	reloaded := NewStateManager(stateFile, 24)
	reloaded.now = m.now

	require.Equal(t, 2, reloaded.Len())
	assert.Equal(t, m.states["rpool:capacity"], reloaded.states["rpool:capacity"])
	assert.Equal(t, m.states["tank:scrub"], reloaded.states["tank:scrub"])
	assert.False(t, reloaded.ShouldAlert(capacityIssue()))
}

func TestStateDocumentFormat(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "alert_state.json")

	m := NewStateManager(stateFile, 24)
	m.now = func() time.Time { return stateTestNow }
	m.RecordAlert(capacityIssue())

	raw, err := os.ReadFile(stateFile)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, float64(1), doc["version"])
	alerts := doc["alerts"].(map[string]interface{})
	entry := alerts["rpool:capacity"].(map[string]interface{})
	assert.Equal(t, "rpool", entry["pool_name"])
	assert.Equal(t, "capacity", entry["issue_category"])
	assert.Equal(t, float64(1), entry["alert_count"])
	assert.Equal(t, "2025-01-15T12:00:00Z", entry["first_seen"])
	assert.Equal(t, "2025-01-15T12:00:00Z", entry["last_alerted"])
}

func TestLoadMissingFile(t *testing.T) {
	m := NewStateManager(filepath.Join(t.TempDir(), "missing.json"), 24)
	assert.Zero(t, m.Len())
}

func TestLoadCorruptFile(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "alert_state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0644))

	m := NewStateManager(stateFile, 24)
	assert.Zero(t, m.Len())
}

func TestLoadUnknownVersion(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "alert_state.json")
	require.NoError(t, os.WriteFile(stateFile,
		[]byte(`{"version": 2, "alerts": {"rpool:capacity": {}}}`), 0644))

	m := NewStateManager(stateFile, 24)
	assert.Zero(t, m.Len())
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "alert_state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{
		"version": 1,
		"alerts": {
			"rpool:capacity": {
				"pool_name": "rpool",
				"issue_category": "capacity",
				"first_seen": "2025-01-15T12:00:00Z",
				"last_alerted": "2025-01-15T12:00:00Z",
				"alert_count": 1
			},
			"tank:errors": {
				"pool_name": "tank",
				"first_seen": "not-a-timestamp"
			}
		}
	}`), 0644))

	m := NewStateManager(stateFile, 24)

	// The malformed entry is skipped, its sibling survives
	require.Equal(t, 1, m.Len())
	assert.Contains(t, m.states, "rpool:capacity")
}

func TestSaveCreatesParentDir(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "nested", "dir", "alert_state.json")

	m := NewStateManager(stateFile, 24)
	m.RecordAlert(capacityIssue())

	assert.FileExists(t, stateFile)
	// The temp sibling is renamed away, not left behind
	assert.NoFileExists(t, stateFile+".tmp")
}
