// Package alert tracks which pool issues have been notified, throttles
// repeats, and delivers alert and recovery mails over SMTP.
package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/monobilisim/zpoolmon/monitor"
)

// stateVersion is the only state document revision this build reads.
const stateVersion = 1

// State tracks one (pool, category) issue across cycles.
type State struct {
	PoolName      string     `json:"pool_name"`
	IssueCategory string     `json:"issue_category"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastAlerted   *time.Time `json:"last_alerted"`
	AlertCount    int        `json:"alert_count"`
}

type stateDocument struct {
	Version int                        `json:"version"`
	Alerts  map[string]json.RawMessage `json:"alerts"`
}

// StateManager decides whether an alert should be sent for an issue and
// persists that decision across restarts. Without it the daemon would
// repeat every alert each cycle.
type StateManager struct {
	stateFile      string
	resendInterval time.Duration
	states         map[string]*State
	now            func() time.Time
}

// NewStateManager creates the state directory if needed and loads any
// existing state document.
func NewStateManager(stateFile string, resendIntervalHours int) *StateManager {
	m := &StateManager{
		stateFile:      stateFile,
		resendInterval: time.Duration(resendIntervalHours) * time.Hour,
		states:         make(map[string]*State),
		now:            time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(stateFile), 0755); err != nil {
		log.Error().
			Err(err).
			Str("component", "alert").
			Str("dir", filepath.Dir(stateFile)).
			Msg("Failed to create state directory")
	}

	m.Load()
	return m
}

func stateKey(poolName, category string) string {
	return fmt.Sprintf("%s:%s", poolName, category)
}

// ShouldAlert reports whether an alert for this issue should go out now:
// yes for an unseen issue, yes again once the resend interval has passed,
// suppressed otherwise.
func (m *StateManager) ShouldAlert(issue monitor.PoolIssue) bool {
	key := stateKey(issue.PoolName, issue.Category)
	state, ok := m.states[key]

	if !ok {
		log.Debug().
			Str("component", "alert").
			Str("pool", issue.PoolName).
			Str("category", issue.Category).
			Msg("New issue detected")
		return true
	}

	if state.LastAlerted == nil {
		// State exists but was never alerted; should not happen
		log.Warn().
			Str("component", "alert").
			Str("pool", issue.PoolName).
			Str("category", issue.Category).
			Msg("Issue has state but no alert timestamp")
		return true
	}

	elapsed := m.now().Sub(*state.LastAlerted)
	if elapsed >= m.resendInterval {
		log.Info().
			Str("component", "alert").
			Str("pool", issue.PoolName).
			Str("category", issue.Category).
			Float64("hours_since_last", elapsed.Hours()).
			Msg("Resending alert after interval")
		return true
	}

	log.Debug().
		Str("component", "alert").
		Str("pool", issue.PoolName).
		Str("category", issue.Category).
		Float64("hours_since_last", elapsed.Hours()).
		Msg("Suppressing duplicate alert")
	return false
}

// RecordAlert marks the issue as alerted now and persists the state.
func (m *StateManager) RecordAlert(issue monitor.PoolIssue) {
	key := stateKey(issue.PoolName, issue.Category)
	now := m.now().UTC()

	if state, ok := m.states[key]; ok {
		state.LastAlerted = &now
		state.AlertCount++
		log.Debug().
			Str("component", "alert").
			Str("pool", issue.PoolName).
			Str("category", issue.Category).
			Int("count", state.AlertCount).
			Msg("Updated alert state")
	} else {
		m.states[key] = &State{
			PoolName:      issue.PoolName,
			IssueCategory: issue.Category,
			FirstSeen:     now,
			LastAlerted:   &now,
			AlertCount:    1,
		}
		log.Debug().
			Str("component", "alert").
			Str("pool", issue.PoolName).
			Str("category", issue.Category).
			Msg("Created alert state")
	}

	m.Save()
}

// ClearIssue forgets a resolved issue so a recurrence alerts immediately.
// Returns whether a state row existed.
func (m *StateManager) ClearIssue(poolName, category string) bool {
	key := stateKey(poolName, category)
	if _, ok := m.states[key]; !ok {
		return false
	}

	delete(m.states, key)
	m.Save()
	log.Info().
		Str("component", "alert").
		Str("pool", poolName).
		Str("category", category).
		Msg("Cleared resolved issue")
	return true
}

// Len returns the number of tracked issues.
func (m *StateManager) Len() int {
	return len(m.states)
}

// Load reads the state document. A missing file means empty state; a
// corrupt file or unknown version also starts empty, with a log entry.
// Individually malformed entries are skipped so their siblings survive.
func (m *StateManager) Load() {
	raw, err := os.ReadFile(m.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("component", "alert").Msg("No state file found, starting with empty state")
		} else {
			log.Error().
				Err(err).
				Str("component", "alert").
				Str("file", m.stateFile).
				Msg("Failed to read state file")
		}
		return
	}

	var doc stateDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Error().
			Err(err).
			Str("component", "alert").
			Str("file", m.stateFile).
			Msg("Corrupt state file, starting fresh")
		return
	}

	if doc.Version != stateVersion {
		log.Warn().
			Str("component", "alert").
			Int("version", doc.Version).
			Msg("Unknown state file version, starting fresh")
		return
	}

	for key, rawState := range doc.Alerts {
		var state State
		if err := json.Unmarshal(rawState, &state); err != nil {
			log.Warn().
				Err(err).
				Str("component", "alert").
				Str("key", key).
				Msg("Skipping corrupt state entry")
			continue
		}
		m.states[key] = &state
	}

	log.Info().
		Str("component", "alert").
		Int("count", len(m.states)).
		Str("file", m.stateFile).
		Msg("Loaded alert state")
}

// Save persists the state document atomically: serialize to a sibling
// temp file, then rename over the target. A write failure logs and leaves
// the in-memory state authoritative; the next mutation retries.
func (m *StateManager) Save() {
	alerts := make(map[string]json.RawMessage, len(m.states))
	for key, state := range m.states {
		encoded, err := json.Marshal(state)
		if err != nil {
			log.Error().
				Err(err).
				Str("component", "alert").
				Str("key", key).
				Msg("Failed to encode state entry")
			continue
		}
		alerts[key] = encoded
	}

	data, err := json.MarshalIndent(stateDocument{Version: stateVersion, Alerts: alerts}, "", "  ")
	if err != nil {
		log.Error().Err(err).Str("component", "alert").Msg("Failed to encode state document")
		return
	}

	tempFile := m.stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("component", "alert").
			Str("file", tempFile).
			Msg("Failed to write state file")
		return
	}

	if err := os.Rename(tempFile, m.stateFile); err != nil {
		log.Error().
			Err(err).
			Str("component", "alert").
			Str("file", m.stateFile).
			Msg("Failed to replace state file")
		return
	}

	log.Debug().
		Str("component", "alert").
		Int("count", len(m.states)).
		Str("file", m.stateFile).
		Msg("Saved alert state")
}
