// Package daemon drives the periodic monitoring loop: acquire pool data,
// classify it, route issues through the alert state store to the mailer,
// and notify recoveries detected against the previous cycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/monobilisim/zpoolmon/alert"
	"github.com/monobilisim/zpoolmon/monitor"
	"github.com/monobilisim/zpoolmon/zfs"
)

// Config holds the loop settings.
type Config struct {
	CheckInterval      time.Duration
	PoolsToMonitor     []string
	SendOKEmails       bool
	SendRecoveryEmails bool
}

// Daemon owns the alert state store and the previous-cycle issue snapshot.
// Both are mutated only from the loop goroutine.
type Daemon struct {
	client  *zfs.Client
	parser  *zfs.Parser
	monitor *monitor.PoolMonitor
	alerter *alert.Alerter
	states  *alert.StateManager
	config  Config

	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	// previousIssues maps pool name to the issue categories seen in the
	// immediately preceding cycle, for recovery detection.
	previousIssues map[string]map[string]bool
}

// New assembles a daemon from its collaborators.
func New(client *zfs.Client, parser *zfs.Parser, poolMonitor *monitor.PoolMonitor,
	alerter *alert.Alerter, states *alert.StateManager, config Config) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 300 * time.Second
	}

	return &Daemon{
		client:         client,
		parser:         parser,
		monitor:        poolMonitor,
		alerter:        alerter,
		states:         states,
		config:         config,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		previousIssues: make(map[string]map[string]bool),
	}
}

// Start installs signal handlers and runs the monitoring loop until Stop
// is called or a termination signal arrives. It returns after the
// in-flight cycle completes.
func (d *Daemon) Start() {
	pools := "all"
	if len(d.config.PoolsToMonitor) > 0 {
		pools = strings.Join(d.config.PoolsToMonitor, ",")
	}

	log.Info().
		Str("component", "daemon").
		Dur("interval", d.config.CheckInterval).
		Str("pools", pools).
		Msg("Starting ZFS pool monitoring daemon")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info().
				Str("component", "daemon").
				Str("signal", sig.String()).
				Msg("Received signal, initiating shutdown")
			d.Stop()
		case <-d.shutdown:
		}
	}()

	d.started.Store(true)
	defer close(d.done)

	for {
		select {
		case <-d.shutdown:
			log.Info().Str("component", "daemon").Msg("Daemon stopped")
			return
		default:
		}

		d.runCycleGuarded()

		// Interruptible sleep: shutdown wakes the loop immediately
		select {
		case <-d.shutdown:
			log.Info().Str("component", "daemon").Msg("Daemon stopped")
			return
		case <-time.After(d.config.CheckInterval):
		}
	}
}

// Stop requests a graceful shutdown and waits for the loop to finish its
// in-flight cycle. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		log.Info().Str("component", "daemon").Msg("Stopping daemon gracefully")
		close(d.shutdown)
	})

	if d.started.Load() {
		<-d.done
	}
}

// runCycleGuarded is the error firewall: nothing a cycle does may take
// the daemon down.
func (d *Daemon) runCycleGuarded() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "daemon").
				Interface("panic", r).
				Msg("Check cycle panicked, continuing")
		}
	}()

	d.runCheckCycle()
}

// runCheckCycle executes one complete pool check cycle. Acquisition or
// parse failures abort this cycle only; the next cycle retries cleanly.
func (d *Daemon) runCheckCycle() {
	log.Debug().Str("component", "daemon").Msg("Starting check cycle")
	ctx := context.Background()

	listData, err := d.client.GetPoolList(ctx, "")
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "daemon").
			Str("error_type", errType(err)).
			Msg("Failed to fetch zpool list data, aborting cycle")
		return
	}

	statusData, err := d.client.GetPoolStatus(ctx, "")
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "daemon").
			Str("error_type", errType(err)).
			Msg("Failed to fetch zpool status data, aborting cycle")
		return
	}

	poolsFromList, err := d.parser.ParsePoolList(listData)
	if err != nil {
		log.Error().Err(err).Str("component", "daemon").Msg("Failed to parse zpool list data, aborting cycle")
		return
	}

	poolsFromStatus, err := d.parser.ParsePoolStatus(statusData)
	if err != nil {
		log.Error().Err(err).Str("component", "daemon").Msg("Failed to parse zpool status data, aborting cycle")
		return
	}

	pools := d.parser.MergePoolData(poolsFromList, poolsFromStatus)

	if len(d.config.PoolsToMonitor) > 0 {
		filtered := make(map[string]zfs.PoolStatus)
		for _, name := range d.config.PoolsToMonitor {
			if pool, ok := pools[name]; ok {
				filtered[name] = pool
			}
		}
		pools = filtered
		log.Debug().
			Str("component", "daemon").
			Strs("monitored", zfs.SortedNames(pools)).
			Msg("Filtered to monitored pools")
	}

	if len(pools) == 0 {
		log.Warn().Str("component", "daemon").Msg("No pools found to monitor")
		return
	}

	result := d.monitor.CheckAllPools(pools)

	log.Info().
		Str("component", "daemon").
		Int("pools_checked", len(pools)).
		Int("issues_found", len(result.Issues)).
		Str("severity", result.OverallSeverity.String()).
		Msg("Check cycle completed")

	currentIssues := d.handleCheckResult(result, pools)
	d.detectRecoveries(currentIssues, pools)
	d.previousIssues = currentIssues
}

// handleCheckResult applies alert policy to every issue and returns the
// cycle's issue set keyed by pool name.
func (d *Daemon) handleCheckResult(result monitor.CheckResult, pools map[string]zfs.PoolStatus) map[string]map[string]bool {
	currentIssues := make(map[string]map[string]bool)

	for _, issue := range result.Issues {
		if currentIssues[issue.PoolName] == nil {
			currentIssues[issue.PoolName] = make(map[string]bool)
		}
		currentIssues[issue.PoolName][issue.Category] = true

		if issue.Severity == monitor.SeverityOK && !d.config.SendOKEmails {
			log.Debug().
				Str("component", "daemon").
				Str("pool", issue.PoolName).
				Str("category", issue.Category).
				Msg("Skipping OK issue (send_ok_emails disabled)")
			continue
		}

		if !d.states.ShouldAlert(issue) {
			log.Debug().
				Str("component", "daemon").
				Str("pool", issue.PoolName).
				Str("category", issue.Category).
				Msg("Suppressing duplicate alert")
			continue
		}

		pool, ok := pools[issue.PoolName]
		if !ok {
			log.Warn().
				Str("component", "daemon").
				Str("pool", issue.PoolName).
				Msg("Cannot send alert - pool status not found")
			continue
		}

		if d.alerter.SendAlert(issue, pool) {
			d.states.RecordAlert(issue)
			log.Info().
				Str("component", "daemon").
				Str("pool", issue.PoolName).
				Str("category", issue.Category).
				Str("severity", issue.Severity.String()).
				Msg("Alert sent and recorded")
		} else {
			log.Warn().
				Str("component", "daemon").
				Str("pool", issue.PoolName).
				Str("category", issue.Category).
				Msg("Failed to send alert")
		}
	}

	return currentIssues
}

// detectRecoveries compares the previous cycle's issue set with the
// current one; each (pool, category) that disappeared gets exactly one
// recovery delivery attempt, and its state row is cleared on success.
func (d *Daemon) detectRecoveries(currentIssues map[string]map[string]bool, pools map[string]zfs.PoolStatus) {
	if !d.config.SendRecoveryEmails {
		return
	}

	for poolName, prevCategories := range d.previousIssues {
		for category := range prevCategories {
			if currentIssues[poolName][category] {
				continue
			}

			log.Info().
				Str("component", "daemon").
				Str("pool", poolName).
				Str("category", category).
				Msg("Detected issue recovery")

			var poolStatus *zfs.PoolStatus
			if pool, ok := pools[poolName]; ok {
				poolStatus = &pool
			}

			if d.alerter.SendRecovery(poolName, category, poolStatus) {
				d.states.ClearIssue(poolName, category)
				log.Info().
					Str("component", "daemon").
					Str("pool", poolName).
					Str("category", category).
					Msg("Recovery notification sent")
			}
		}
	}
}

func errType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
