package monitor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/monobilisim/zpoolmon/zfs"
)

// Config holds the classification thresholds.
type Config struct {
	CapacityWarningPercent  int
	CapacityCriticalPercent int
	ScrubMaxAgeDays         int
	ReadErrorsWarning       uint64
	WriteErrorsWarning      uint64
	ChecksumErrorsWarning   uint64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CapacityWarningPercent:  80,
		CapacityCriticalPercent: 90,
		ScrubMaxAgeDays:         30,
		ReadErrorsWarning:       1,
		WriteErrorsWarning:      1,
		ChecksumErrorsWarning:   1,
	}
}

// Validate rejects threshold combinations that can never classify
// correctly. Called at construction so bad config never reaches the loop.
func (c Config) Validate() error {
	if c.CapacityWarningPercent >= c.CapacityCriticalPercent {
		return fmt.Errorf("capacity_warning_percent (%d) must be less than capacity_critical_percent (%d)",
			c.CapacityWarningPercent, c.CapacityCriticalPercent)
	}

	if c.CapacityWarningPercent < 0 || c.CapacityCriticalPercent > 100 {
		return fmt.Errorf("capacity percentages must be between 0 and 100")
	}

	if c.ScrubMaxAgeDays < 0 {
		return fmt.Errorf("scrub_max_age_days must not be negative")
	}

	return nil
}

// PoolMonitor applies threshold rules to pool statuses.
type PoolMonitor struct {
	config Config
	now    func() time.Time
}

// NewPoolMonitor validates the config and returns a monitor.
func NewPoolMonitor(config Config) (*PoolMonitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "monitor").
		Int("capacity_warning", config.CapacityWarningPercent).
		Int("capacity_critical", config.CapacityCriticalPercent).
		Int("scrub_max_age_days", config.ScrubMaxAgeDays).
		Msg("Pool monitor initialized")

	return &PoolMonitor{config: config, now: time.Now}, nil
}

// CheckPool applies every rule to one pool. The rules are independent; a
// single pool can emit any subset of issues.
func (m *PoolMonitor) CheckPool(pool zfs.PoolStatus) []PoolIssue {
	var issues []PoolIssue

	if issue := m.checkHealth(pool); issue != nil {
		issues = append(issues, *issue)
	}

	if issue := m.checkCapacity(pool); issue != nil {
		issues = append(issues, *issue)
	}

	issues = append(issues, m.checkErrors(pool)...)

	if issue := m.checkScrub(pool); issue != nil {
		issues = append(issues, *issue)
	}

	log.Debug().
		Str("component", "monitor").
		Str("pool", pool.Name).
		Int("issues_found", len(issues)).
		Msg("Pool check complete")

	return issues
}

// CheckAllPools checks every pool in name order and aggregates the
// overall severity: the maximum over all issues, OK when there are none.
func (m *PoolMonitor) CheckAllPools(pools map[string]zfs.PoolStatus) CheckResult {
	timestamp := m.now().UTC()
	var allIssues []PoolIssue
	poolList := make([]zfs.PoolStatus, 0, len(pools))

	log.Info().Str("component", "monitor").Int("pools", len(pools)).Msg("Checking pools")

	for _, name := range zfs.SortedNames(pools) {
		pool := pools[name]
		poolList = append(poolList, pool)
		allIssues = append(allIssues, m.CheckPool(pool)...)
	}

	overall := SeverityOK
	for _, issue := range allIssues {
		if issue.Severity > overall {
			overall = issue.Severity
		}
	}

	log.Info().
		Str("component", "monitor").
		Int("pools_checked", len(pools)).
		Int("issues_found", len(allIssues)).
		Str("overall_severity", overall.String()).
		Msg("Pool check completed")

	return CheckResult{
		Timestamp:       timestamp,
		Pools:           poolList,
		Issues:          allIssues,
		OverallSeverity: overall,
	}
}

func (m *PoolMonitor) checkHealth(pool zfs.PoolStatus) *PoolIssue {
	if pool.Health.IsHealthy() {
		return nil
	}

	severity := SeverityWarning
	if pool.Health.IsCritical() {
		severity = SeverityCritical
	}

	return &PoolIssue{
		PoolName: pool.Name,
		Severity: severity,
		Category: CategoryHealth,
		Message:  fmt.Sprintf("Pool is %s (expected: ONLINE)", pool.Health),
		Details: map[string]interface{}{
			"current_state":  string(pool.Health),
			"expected_state": "ONLINE",
		},
	}
}

func (m *PoolMonitor) checkCapacity(pool zfs.PoolStatus) *PoolIssue {
	if pool.CapacityPercent >= float64(m.config.CapacityCriticalPercent) {
		return &PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityCritical,
			Category: CategoryCapacity,
			Message: fmt.Sprintf("Pool at %.1f%% capacity (critical threshold: %d%%)",
				pool.CapacityPercent, m.config.CapacityCriticalPercent),
			Details: map[string]interface{}{
				"capacity_percent": pool.CapacityPercent,
				"threshold":        m.config.CapacityCriticalPercent,
				"size_bytes":       pool.SizeBytes,
				"allocated_bytes":  pool.AllocatedBytes,
				"free_bytes":       pool.FreeBytes,
			},
		}
	}

	if pool.CapacityPercent >= float64(m.config.CapacityWarningPercent) {
		return &PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityWarning,
			Category: CategoryCapacity,
			Message: fmt.Sprintf("Pool at %.1f%% capacity (warning threshold: %d%%)",
				pool.CapacityPercent, m.config.CapacityWarningPercent),
			Details: map[string]interface{}{
				"capacity_percent": pool.CapacityPercent,
				"threshold":        m.config.CapacityWarningPercent,
				"size_bytes":       pool.SizeBytes,
				"allocated_bytes":  pool.AllocatedBytes,
				"free_bytes":       pool.FreeBytes,
			},
		}
	}

	return nil
}

// checkErrors fires independently for read, write and checksum counters.
// A counter triggers only when it is both positive and at its threshold.
func (m *PoolMonitor) checkErrors(pool zfs.PoolStatus) []PoolIssue {
	var issues []PoolIssue

	if pool.ReadErrors > 0 && pool.ReadErrors >= m.config.ReadErrorsWarning {
		issues = append(issues, PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityWarning,
			Category: CategoryErrors,
			Message:  fmt.Sprintf("Pool has %d read errors", pool.ReadErrors),
			Details: map[string]interface{}{
				"read_errors": pool.ReadErrors,
				"threshold":   m.config.ReadErrorsWarning,
			},
		})
	}

	if pool.WriteErrors > 0 && pool.WriteErrors >= m.config.WriteErrorsWarning {
		issues = append(issues, PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityWarning,
			Category: CategoryErrors,
			Message:  fmt.Sprintf("Pool has %d write errors", pool.WriteErrors),
			Details: map[string]interface{}{
				"write_errors": pool.WriteErrors,
				"threshold":    m.config.WriteErrorsWarning,
			},
		})
	}

	if pool.ChecksumErrors > 0 && pool.ChecksumErrors >= m.config.ChecksumErrorsWarning {
		issues = append(issues, PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityWarning,
			Category: CategoryErrors,
			Message:  fmt.Sprintf("Pool has %d checksum errors (possible data corruption)", pool.ChecksumErrors),
			Details: map[string]interface{}{
				"checksum_errors": pool.ChecksumErrors,
				"threshold":       m.config.ChecksumErrorsWarning,
			},
		})
	}

	return issues
}

func (m *PoolMonitor) checkScrub(pool zfs.PoolStatus) *PoolIssue {
	if pool.ScrubErrors > 0 {
		details := map[string]interface{}{
			"scrub_errors": pool.ScrubErrors,
			"last_scrub":   nil,
		}
		if !pool.LastScrub.IsZero() {
			details["last_scrub"] = pool.LastScrub.Format(time.RFC3339)
		}

		return &PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityWarning,
			Category: CategoryScrub,
			Message:  fmt.Sprintf("Last scrub found %d errors", pool.ScrubErrors),
			Details:  details,
		}
	}

	// Age checks are disabled entirely when the max age is 0
	if m.config.ScrubMaxAgeDays == 0 {
		return nil
	}

	if pool.LastScrub.IsZero() {
		return &PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityInfo,
			Category: CategoryScrub,
			Message:  "Pool has never been scrubbed",
			Details:  map[string]interface{}{"last_scrub": nil},
		}
	}

	ageDays := int(m.now().UTC().Sub(pool.LastScrub).Hours() / 24)
	if ageDays > m.config.ScrubMaxAgeDays {
		return &PoolIssue{
			PoolName: pool.Name,
			Severity: SeverityInfo,
			Category: CategoryScrub,
			Message: fmt.Sprintf("Pool scrub is %d days old (max age: %d days)",
				ageDays, m.config.ScrubMaxAgeDays),
			Details: map[string]interface{}{
				"last_scrub":   pool.LastScrub.Format(time.RFC3339),
				"age_days":     ageDays,
				"max_age_days": m.config.ScrubMaxAgeDays,
			},
		}
	}

	return nil
}
