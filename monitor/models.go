// Package monitor classifies pool status against configured thresholds
// and produces typed issues with an aggregate severity.
package monitor

import (
	"time"

	"github.com/monobilisim/zpoolmon/zfs"
)

// Severity orders how urgent an issue is. The zero value is OK.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "OK"
	}
}

// IsCritical reports whether the severity demands immediate attention.
func (s Severity) IsCritical() bool {
	return s == SeverityCritical
}

// Issue categories. Every issue belongs to exactly one.
const (
	CategoryHealth   = "health"
	CategoryCapacity = "capacity"
	CategoryErrors   = "errors"
	CategoryScrub    = "scrub"
)

// PoolIssue is one classified finding about one pool.
type PoolIssue struct {
	PoolName string
	Severity Severity
	Category string
	Message  string
	Details  map[string]interface{}
}

// CheckResult aggregates one classification pass over all pools.
type CheckResult struct {
	Timestamp       time.Time
	Pools           []zfs.PoolStatus
	Issues          []PoolIssue
	OverallSeverity Severity
}
