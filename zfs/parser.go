package zfs

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ParseError is returned when the top-level shape of zpool JSON output is
// not usable. Per-pool problems never produce it; those pools are skipped.
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s output: %s", e.Source, e.Reason)
}

// sizePattern matches size strings with a binary suffix, e.g. "1.5T", "500G".
var sizePattern = regexp.MustCompile(`^([0-9.]+)\s*([KMGTP])$`)

// Binary multipliers (1K = 1024 bytes, not 1000)
var sizeMultipliers = map[string]uint64{
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
	"P": 1 << 50,
}

// sizeCacheLimit bounds the memoized size strings. The same few values
// recur across pools, so a small cache is enough.
const sizeCacheLimit = 32

// Parser converts zpool JSON trees into PoolStatus values. It tolerates
// missing fields and the field-name drift between ZFS releases.
type Parser struct {
	sizeCache map[string]uint64
}

// NewParser returns a Parser with an empty size cache.
func NewParser() *Parser {
	return &Parser{
		sizeCache: make(map[string]uint64),
	}
}

// ParsePoolList parses `zpool list -j` output. Capacity fields are
// populated; error and scrub fields keep their defaults.
func (p *Parser) ParsePoolList(data map[string]interface{}) (map[string]PoolStatus, error) {
	poolsData, err := poolsSection(data, "zpool list")
	if err != nil {
		return nil, err
	}

	pools := make(map[string]PoolStatus, len(poolsData))

	for poolName, raw := range poolsData {
		poolData, ok := raw.(map[string]interface{})
		if !ok {
			log.Error().
				Str("component", "zfs").
				Str("pool", poolName).
				Msg("Failed to parse pool from list, skipping")
			continue
		}

		pools[poolName] = p.parsePoolFromList(poolName, poolData)
		log.Debug().Str("component", "zfs").Str("pool", poolName).Msg("Parsed pool from list")
	}

	return pools, nil
}

// ParsePoolStatus parses `zpool status -j` output. Health, error counters
// and scrub state are populated; capacity fields keep their defaults.
func (p *Parser) ParsePoolStatus(data map[string]interface{}) (map[string]PoolStatus, error) {
	poolsData, err := poolsSection(data, "zpool status")
	if err != nil {
		return nil, err
	}

	pools := make(map[string]PoolStatus, len(poolsData))

	for poolName, raw := range poolsData {
		poolData, ok := raw.(map[string]interface{})
		if !ok {
			log.Error().
				Str("component", "zfs").
				Str("pool", poolName).
				Msg("Failed to parse pool from status, skipping")
			continue
		}

		pool, err := p.parsePoolFromStatus(poolName, poolData)
		if err != nil {
			log.Error().
				Err(err).
				Str("component", "zfs").
				Str("pool", poolName).
				Msg("Failed to parse pool from status, skipping")
			continue
		}

		pools[poolName] = pool
		log.Debug().Str("component", "zfs").Str("pool", poolName).Msg("Parsed pool from status")
	}

	return pools, nil
}

// MergePoolData combines list and status views of the same pools: capacity
// from list, health, errors and scrub from status. Status health wins when
// both sources report one. Pools present in only one input pass through.
func (p *Parser) MergePoolData(listData, statusData map[string]PoolStatus) map[string]PoolStatus {
	merged := make(map[string]PoolStatus, len(listData))

	for poolName, listPool := range listData {
		statusPool, ok := statusData[poolName]
		if !ok {
			merged[poolName] = listPool
			continue
		}

		merged[poolName] = PoolStatus{
			Name:            poolName,
			Health:          statusPool.Health,
			CapacityPercent: listPool.CapacityPercent,
			SizeBytes:       listPool.SizeBytes,
			AllocatedBytes:  listPool.AllocatedBytes,
			FreeBytes:       listPool.FreeBytes,
			ReadErrors:      statusPool.ReadErrors,
			WriteErrors:     statusPool.WriteErrors,
			ChecksumErrors:  statusPool.ChecksumErrors,
			LastScrub:       statusPool.LastScrub,
			ScrubErrors:     statusPool.ScrubErrors,
			ScrubInProgress: statusPool.ScrubInProgress,
		}
		log.Debug().Str("component", "zfs").Str("pool", poolName).Msg("Merged pool data")
	}

	// Pools only in status output; should not happen normally
	for poolName, statusPool := range statusData {
		if _, ok := merged[poolName]; !ok {
			log.Warn().
				Str("component", "zfs").
				Str("pool", poolName).
				Msg("Pool present in status but not in list")
			merged[poolName] = statusPool
		}
	}

	return merged
}

// SortedNames returns the pool names of a merged map in stable order.
func SortedNames(pools map[string]PoolStatus) []string {
	names := make([]string, 0, len(pools))
	for name := range pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func poolsSection(data map[string]interface{}, source string) (map[string]interface{}, error) {
	raw, ok := data["pools"]
	if !ok || raw == nil {
		log.Warn().Str("component", "zfs").Str("source", source).Msg("No pools found in zpool output")
		return map[string]interface{}{}, nil
	}

	poolsData, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &ParseError{Source: source, Reason: fmt.Sprintf("pools section has unexpected type %T", raw)}
	}

	return poolsData, nil
}

func (p *Parser) parsePoolFromList(poolName string, poolData map[string]interface{}) PoolStatus {
	props, _ := poolData["properties"].(map[string]interface{})

	health := ParsePoolHealth(propertyValue(props, "health", "UNKNOWN"), poolName)

	capacityStr := strings.TrimSuffix(propertyValue(props, "capacity", "0"), "%")
	capacityPercent, err := strconv.ParseFloat(capacityStr, 64)
	if err != nil {
		log.Warn().
			Str("component", "zfs").
			Str("pool", poolName).
			Str("capacity", capacityStr).
			Msg("Invalid capacity value, using 0.0")
		capacityPercent = 0.0
	}

	return PoolStatus{
		Name:            poolName,
		Health:          health,
		CapacityPercent: capacityPercent,
		SizeBytes:       p.sizeProperty(props, "size", poolName),
		AllocatedBytes:  p.sizeProperty(props, "allocated", poolName),
		FreeBytes:       p.sizeProperty(props, "free", poolName),
	}
}

func (p *Parser) parsePoolFromStatus(poolName string, poolData map[string]interface{}) (PoolStatus, error) {
	state, _ := poolData["state"].(string)
	if state == "" {
		state = "UNKNOWN"
	}
	health := ParsePoolHealth(state, poolName)

	readErrs, writeErrs, cksumErrs := extractErrorCounts(poolData)

	lastScrub, scrubErrors, scrubInProgress, err := extractScrubInfo(poolData)
	if err != nil {
		return PoolStatus{}, err
	}

	return PoolStatus{
		Name:            poolName,
		Health:          health,
		ReadErrors:      readErrs,
		WriteErrors:     writeErrs,
		ChecksumErrors:  cksumErrs,
		LastScrub:       lastScrub,
		ScrubErrors:     scrubErrors,
		ScrubInProgress: scrubInProgress,
	}, nil
}

// propertyValue unwraps the {"value": ...} envelope zpool -j uses for
// pool properties.
func propertyValue(props map[string]interface{}, key string, fallback string) string {
	propData, ok := props[key].(map[string]interface{})
	if !ok {
		return fallback
	}

	value, ok := propData["value"]
	if !ok || value == nil {
		return fallback
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (p *Parser) sizeProperty(props map[string]interface{}, key string, poolName string) uint64 {
	sizeStr := propertyValue(props, key, "0")

	size, err := p.parseSizeToBytes(sizeStr)
	if err != nil {
		log.Warn().
			Str("component", "zfs").
			Str("pool", poolName).
			Str("property", key).
			Str("value", sizeStr).
			Msg("Unparseable size value, using 0")
		return 0
	}

	return size
}

// parseSizeToBytes converts a size string to bytes. Plain numbers pass
// through; K/M/G/T/P suffixes are binary (1024-based). Results are
// memoized because the same size values recur across pools.
func (p *Parser) parseSizeToBytes(sizeStr string) (uint64, error) {
	if cached, ok := p.sizeCache[sizeStr]; ok {
		return cached, nil
	}

	result, err := parseSize(sizeStr)
	if err != nil {
		return 0, err
	}

	if len(p.sizeCache) < sizeCacheLimit {
		p.sizeCache[sizeStr] = result
	}

	return result, nil
}

func parseSize(sizeStr string) (uint64, error) {
	// Plain number first, the common case
	if value, err := strconv.ParseFloat(sizeStr, 64); err == nil {
		if value < 0 {
			return 0, fmt.Errorf("negative size %q", sizeStr)
		}
		return uint64(value), nil
	}

	match := sizePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(sizeStr)))
	if match == nil {
		return 0, fmt.Errorf("cannot parse size string %q - expected number or number+suffix (K/M/G/T/P)", sizeStr)
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in size string %q", sizeStr)
	}

	return uint64(value * float64(sizeMultipliers[match[2]])), nil
}

// extractErrorCounts reads the per-pool error counters, accepting both
// schema eras: the root vdev under "vdevs" keyed by the pool name (newer)
// and "vdev_tree"/"stats" (older). Zeros when neither is usable.
func extractErrorCounts(poolData map[string]interface{}) (readErrs, writeErrs, cksumErrs uint64) {
	if vdevs, ok := poolData["vdevs"].(map[string]interface{}); ok {
		// The root vdev carries the same name as the pool
		poolName, _ := poolData["name"].(string)
		if rootVdev, ok := vdevs[poolName].(map[string]interface{}); ok {
			r, okR := toUint64(rootVdev["read_errors"])
			w, okW := toUint64(rootVdev["write_errors"])
			c, okC := toUint64(rootVdev["checksum_errors"])
			if okR && okW && okC {
				return r, w, c
			}
		}
	}

	if vdevTree, ok := poolData["vdev_tree"].(map[string]interface{}); ok {
		if stats, ok := vdevTree["stats"].(map[string]interface{}); ok {
			r, okR := toUint64(stats["read_errors"])
			w, okW := toUint64(stats["write_errors"])
			c, okC := toUint64(stats["checksum_errors"])
			if okR && okW && okC {
				return r, w, c
			}
		}
	}

	return 0, 0, 0
}

// scrubTimestampFields are tried in order as Unix epoch values before
// falling back to human-readable datetime strings.
var scrubTimestampFields = []string{"pass_start", "end_time", "scrub_end", "func_e", "finish_time"}

var scrubDatetimeFields = []string{"end_time", "start_time"}

// datetimeLayouts covers the human-readable formats zpool status has
// emitted across releases, e.g. "Sun Nov 16 08:00:21 CET 2025".
var datetimeLayouts = []string{
	time.UnixDate,
	time.ANSIC,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// extractScrubInfo reads the scan container, "scan_stats" (newer) or
// "scan" (older). A container that is present but not an object fails the
// pool, matching the per-pool skip behavior.
func extractScrubInfo(poolData map[string]interface{}) (lastScrub time.Time, scrubErrors uint64, inProgress bool, err error) {
	scanInfo, err := scanContainer(poolData)
	if err != nil {
		return time.Time{}, 0, false, err
	}
	if scanInfo == nil {
		return time.Time{}, 0, false, nil
	}

	lastScrub = parseScrubTime(scanInfo)

	if raw, present := scanInfo["errors"]; present {
		errs, okErrs := toUint64(raw)
		if !okErrs {
			log.Warn().
				Str("component", "zfs").
				Interface("scrub_errors", raw).
				Msg("Invalid scrub_errors value, using 0")
		} else {
			scrubErrors = errs
		}
	}

	state, _ := scanInfo["state"].(string)
	inProgress = strings.EqualFold(state, "SCANNING")

	return lastScrub, scrubErrors, inProgress, nil
}

func scanContainer(poolData map[string]interface{}) (map[string]interface{}, error) {
	for _, key := range []string{"scan_stats", "scan"} {
		raw, present := poolData[key]
		if !present || raw == nil {
			continue
		}
		scanInfo, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s has unexpected type %T", key, raw)
		}
		return scanInfo, nil
	}
	return nil, nil
}

// parseScrubTime resolves the last scrub completion time. Different ZFS
// versions use different field names and formats, so epoch fields are
// probed first and human-readable strings second. Zero means never
// scrubbed.
func parseScrubTime(scanInfo map[string]interface{}) time.Time {
	for _, field := range scrubTimestampFields {
		value, ok := scanInfo[field]
		if !ok || value == nil {
			continue
		}
		if ts, ok := toEpoch(value); ok {
			return time.Unix(ts, 0).UTC()
		}
		log.Debug().
			Str("component", "zfs").
			Str("field", field).
			Interface("value", value).
			Msg("Failed to parse scrub timestamp field")
	}

	for _, field := range scrubDatetimeFields {
		value, ok := scanInfo[field].(string)
		if !ok || value == "" {
			continue
		}
		for _, layout := range datetimeLayouts {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.UTC()
			}
		}
		log.Debug().
			Str("component", "zfs").
			Str("field", field).
			Str("value", value).
			Msg("Failed to parse scrub datetime string")
	}

	return time.Time{}
}

func toEpoch(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if v <= 0 {
			return 0, false
		}
		return int64(v), true
	case string:
		ts, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || ts <= 0 {
			return 0, false
		}
		return ts, true
	default:
		return 0, false
	}
}

func toUint64(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
