package zfs

import (
	"time"

	"github.com/rs/zerolog/log"
)

// PoolHealth is the health state reported by zpool for a pool.
type PoolHealth string

const (
	HealthOnline   PoolHealth = "ONLINE"
	HealthDegraded PoolHealth = "DEGRADED"
	HealthFaulted  PoolHealth = "FAULTED"
	HealthOffline  PoolHealth = "OFFLINE"
	HealthUnavail  PoolHealth = "UNAVAIL"
	HealthRemoved  PoolHealth = "REMOVED"
)

var knownHealthStates = map[PoolHealth]bool{
	HealthOnline:   true,
	HealthDegraded: true,
	HealthFaulted:  true,
	HealthOffline:  true,
	HealthUnavail:  true,
	HealthRemoved:  true,
}

// ParsePoolHealth maps a raw zpool state string to a PoolHealth. Strings
// outside the known set map to OFFLINE with a warning.
func ParsePoolHealth(value string, poolName string) PoolHealth {
	health := PoolHealth(value)
	if knownHealthStates[health] {
		return health
	}

	log.Warn().
		Str("component", "zfs").
		Str("pool", poolName).
		Str("state", value).
		Msg("Unknown pool health state, using OFFLINE")

	return HealthOffline
}

// IsHealthy reports whether the pool is fully operational.
func (h PoolHealth) IsHealthy() bool {
	return h == HealthOnline
}

// IsCritical reports whether the pool is in a state that requires
// immediate attention.
func (h PoolHealth) IsCritical() bool {
	return h == HealthFaulted || h == HealthUnavail || h == HealthRemoved
}

// PoolStatus is the merged view of a single pool across zpool list and
// zpool status. A zero LastScrub means the pool has never been scrubbed.
type PoolStatus struct {
	Name            string
	Health          PoolHealth
	CapacityPercent float64
	SizeBytes       uint64
	AllocatedBytes  uint64
	FreeBytes       uint64
	ReadErrors      uint64
	WriteErrors     uint64
	ChecksumErrors  uint64
	LastScrub       time.Time
	ScrubErrors     uint64
	ScrubInProgress bool
}

// HasErrors reports whether any read, write or checksum errors were seen.
func (p PoolStatus) HasErrors() bool {
	return p.ReadErrors > 0 || p.WriteErrors > 0 || p.ChecksumErrors > 0
}

// TotalErrors is the sum of read, write and checksum error counters.
func (p PoolStatus) TotalErrors() uint64 {
	return p.ReadErrors + p.WriteErrors + p.ChecksumErrors
}
