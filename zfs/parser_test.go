package zfs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return data
}

const listFixture = `{
	"output_version": {"command": "zpool list"},
	"pools": {
		"rpool": {
			"name": "rpool",
			"properties": {
				"health": {"value": "ONLINE"},
				"capacity": {"value": "45%"},
				"size": {"value": "1000000000"},
				"allocated": {"value": "450000000"},
				"free": {"value": "550000000"}
			}
		},
		"tank": {
			"name": "tank",
			"properties": {
				"health": {"value": "DEGRADED"},
				"capacity": {"value": "85"},
				"size": {"value": "1.5T"},
				"allocated": {"value": "500G"},
				"free": {"value": "1T"}
			}
		}
	}
}`

func TestParsePoolList(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolList(decodeJSON(t, listFixture))
	require.NoError(t, err)
	require.Len(t, pools, 2)

	rpool := pools["rpool"]
	assert.Equal(t, "rpool", rpool.Name)
	assert.Equal(t, HealthOnline, rpool.Health)
	assert.Equal(t, 45.0, rpool.CapacityPercent)
	assert.Equal(t, uint64(1000000000), rpool.SizeBytes)
	assert.Equal(t, uint64(450000000), rpool.AllocatedBytes)
	assert.Equal(t, uint64(550000000), rpool.FreeBytes)

	// Errors and scrub stay at defaults; list output does not carry them
	assert.Zero(t, rpool.ReadErrors)
	assert.Zero(t, rpool.ScrubErrors)
	assert.True(t, rpool.LastScrub.IsZero())
	assert.False(t, rpool.ScrubInProgress)

	tank := pools["tank"]
	assert.Equal(t, HealthDegraded, tank.Health)
	assert.Equal(t, 85.0, tank.CapacityPercent)
	assert.Equal(t, uint64(1.5*(1<<40)), tank.SizeBytes)
	assert.Equal(t, uint64(500*(1<<30)), tank.AllocatedBytes)
	assert.Equal(t, uint64(1<<40), tank.FreeBytes)
}

func TestParsePoolListEmpty(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolList(decodeJSON(t, `{"pools": {}}`))
	require.NoError(t, err)
	assert.Empty(t, pools)

	pools, err = parser.ParsePoolList(decodeJSON(t, `{}`))
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestParsePoolListBadShape(t *testing.T) {
	parser := NewParser()

	_, err := parser.ParsePoolList(decodeJSON(t, `{"pools": ["rpool"]}`))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParsePoolListInvalidValues(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolList(decodeJSON(t, `{
		"pools": {
			"rpool": {
				"name": "rpool",
				"properties": {
					"health": {"value": "ONLINE"},
					"capacity": {"value": "garbage"},
					"size": {"value": "lots"}
				}
			}
		}
	}`))
	require.NoError(t, err)
	require.Len(t, pools, 1)

	// Unparseable values fall back to zero instead of failing the pool
	assert.Equal(t, 0.0, pools["rpool"].CapacityPercent)
	assert.Zero(t, pools["rpool"].SizeBytes)
}

func TestParseSizeToBytes(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input string
		want  uint64
	}{
		{"1000000", 1000000},
		{"0", 0},
		{"1K", 1 << 10},
		{"10M", 10 << 20},
		{"500G", 500 << 30},
		{"1.5T", uint64(1.5 * (1 << 40))},
		{"2P", 2 << 50},
		{"1.5t", uint64(1.5 * (1 << 40))},
	}

	for _, tt := range tests {
		got, err := parser.parseSizeToBytes(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}

	_, err := parser.parseSizeToBytes("garbage")
	assert.Error(t, err)

	// Cached values keep returning the same result
	got, err := parser.parseSizeToBytes("1.5T")
	require.NoError(t, err)
	assert.Equal(t, uint64(1.5*(1<<40)), got)
}

const statusFixtureNew = `{
	"pools": {
		"rpool": {
			"name": "rpool",
			"state": "ONLINE",
			"vdevs": {
				"rpool": {
					"read_errors": 3,
					"write_errors": "2",
					"checksum_errors": 1
				}
			},
			"scan_stats": {
				"function": "SCRUB",
				"state": "FINISHED",
				"end_time": 1736899200,
				"errors": 0
			}
		}
	}
}`

const statusFixtureOld = `{
	"pools": {
		"rpool": {
			"name": "rpool",
			"state": "ONLINE",
			"vdev_tree": {
				"stats": {
					"read_errors": 3,
					"write_errors": 2,
					"checksum_errors": 1
				}
			},
			"scan": {
				"function": "SCRUB",
				"state": "finished",
				"end_time": 1736899200,
				"errors": 0
			}
		}
	}
}`

func TestParsePoolStatusSchemaEras(t *testing.T) {
	parser := NewParser()

	newPools, err := parser.ParsePoolStatus(decodeJSON(t, statusFixtureNew))
	require.NoError(t, err)
	oldPools, err := parser.ParsePoolStatus(decodeJSON(t, statusFixtureOld))
	require.NoError(t, err)

	// Both schema eras must yield identical pool statuses
	assert.Equal(t, newPools["rpool"], oldPools["rpool"])

	pool := newPools["rpool"]
	assert.Equal(t, HealthOnline, pool.Health)
	assert.Equal(t, uint64(3), pool.ReadErrors)
	assert.Equal(t, uint64(2), pool.WriteErrors)
	assert.Equal(t, uint64(1), pool.ChecksumErrors)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), pool.LastScrub)
	assert.False(t, pool.ScrubInProgress)
	assert.Zero(t, pool.ScrubErrors)
}

func TestParsePoolStatusScrubInProgress(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolStatus(decodeJSON(t, `{
		"pools": {
			"tank": {
				"name": "tank",
				"state": "ONLINE",
				"scan_stats": {"state": "SCANNING", "errors": "4", "pass_start": 1736899200}
			}
		}
	}`))
	require.NoError(t, err)

	pool := pools["tank"]
	assert.True(t, pool.ScrubInProgress)
	assert.Equal(t, uint64(4), pool.ScrubErrors)
	assert.False(t, pool.LastScrub.IsZero())
}

func TestParsePoolStatusDatetimeString(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolStatus(decodeJSON(t, `{
		"pools": {
			"tank": {
				"name": "tank",
				"state": "ONLINE",
				"scan": {"state": "FINISHED", "end_time": "Sun Nov 16 08:00:21 UTC 2025"}
			}
		}
	}`))
	require.NoError(t, err)

	pool := pools["tank"]
	require.False(t, pool.LastScrub.IsZero())
	assert.Equal(t, 2025, pool.LastScrub.Year())
	assert.Equal(t, time.November, pool.LastScrub.Month())
}

func TestParsePoolStatusNeverScrubbed(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolStatus(decodeJSON(t, `{
		"pools": {"tank": {"name": "tank", "state": "ONLINE"}}
	}`))
	require.NoError(t, err)

	pool := pools["tank"]
	assert.True(t, pool.LastScrub.IsZero())
	assert.Zero(t, pool.ScrubErrors)
	assert.False(t, pool.ScrubInProgress)
}

func TestParsePoolStatusMalformedScanSkipsPool(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolStatus(decodeJSON(t, `{
		"pools": {
			"good": {"name": "good", "state": "ONLINE",
				"scan_stats": {"state": "FINISHED", "end_time": 1736899200}},
			"bad": {"name": "bad", "state": "ONLINE", "scan": "corrupted"}
		}
	}`))
	require.NoError(t, err)

	// The malformed pool is skipped, its sibling survives
	require.Len(t, pools, 1)
	assert.Contains(t, pools, "good")
}

func TestParsePoolStatusUnknownHealth(t *testing.T) {
	parser := NewParser()

	pools, err := parser.ParsePoolStatus(decodeJSON(t, `{
		"pools": {"tank": {"name": "tank", "state": "SPLIT"}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, HealthOffline, pools["tank"].Health)
}

func TestMergePoolData(t *testing.T) {
	parser := NewParser()

	scrubTime := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)

	listData := map[string]PoolStatus{
		"rpool": {
			Name:            "rpool",
			Health:          HealthOnline,
			CapacityPercent: 45.0,
			SizeBytes:       1000,
			AllocatedBytes:  450,
			FreeBytes:       550,
		},
	}
	statusData := map[string]PoolStatus{
		"rpool": {
			Name:        "rpool",
			Health:      HealthDegraded,
			ReadErrors:  2,
			LastScrub:   scrubTime,
			ScrubErrors: 1,
		},
	}

	merged := parser.MergePoolData(listData, statusData)
	require.Len(t, merged, 1)

	pool := merged["rpool"]
	// Status health wins; capacity comes from list
	assert.Equal(t, HealthDegraded, pool.Health)
	assert.Equal(t, 45.0, pool.CapacityPercent)
	assert.Equal(t, uint64(1000), pool.SizeBytes)
	assert.Equal(t, uint64(2), pool.ReadErrors)
	assert.Equal(t, scrubTime, pool.LastScrub)
	assert.Equal(t, uint64(1), pool.ScrubErrors)
}

func TestMergePoolDataOneSided(t *testing.T) {
	parser := NewParser()

	listOnly := PoolStatus{Name: "listonly", Health: HealthOnline, CapacityPercent: 10}
	statusOnly := PoolStatus{Name: "statusonly", Health: HealthFaulted, ReadErrors: 5}

	merged := parser.MergePoolData(
		map[string]PoolStatus{"listonly": listOnly},
		map[string]PoolStatus{"statusonly": statusOnly},
	)

	require.Len(t, merged, 2)
	assert.Equal(t, listOnly, merged["listonly"])
	assert.Equal(t, statusOnly, merged["statusonly"])
}

func TestPoolHealthPredicates(t *testing.T) {
	assert.True(t, HealthOnline.IsHealthy())
	assert.False(t, HealthDegraded.IsHealthy())

	for _, h := range []PoolHealth{HealthFaulted, HealthUnavail, HealthRemoved} {
		assert.True(t, h.IsCritical(), "%s", h)
	}
	for _, h := range []PoolHealth{HealthOnline, HealthDegraded, HealthOffline} {
		assert.False(t, h.IsCritical(), "%s", h)
	}
}
