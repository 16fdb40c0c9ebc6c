package alert

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/monobilisim/zpoolmon/common"
	"github.com/monobilisim/zpoolmon/monitor"
	"github.com/monobilisim/zpoolmon/zfs"
)

const tib = 1 << 40
const gib = 1 << 30

// Alerter composes alert and recovery mails and hands them to the SMTP
// transport. Both send operations report delivery success as a bool and
// never panic through the interface.
type Alerter struct {
	mail           MailConfig
	recipients     []string
	subjectPrefix  string
	sendRecoveries bool
	send           SendFunc
	now            func() time.Time
}

// NewAlerter returns an alerter delivering through SendMail.
func NewAlerter(mail MailConfig, recipients []string, subjectPrefix string, sendRecoveries bool) *Alerter {
	return NewAlerterWithSender(mail, recipients, subjectPrefix, sendRecoveries, SendMail)
}

// NewAlerterWithSender returns an alerter delivering through the given
// send function instead of SMTP. Used by tests.
func NewAlerterWithSender(mail MailConfig, recipients []string, subjectPrefix string, sendRecoveries bool, send SendFunc) *Alerter {
	if subjectPrefix == "" {
		subjectPrefix = "[ZFS Alert]"
	}

	return &Alerter{
		mail:           mail,
		recipients:     recipients,
		subjectPrefix:  subjectPrefix,
		sendRecoveries: sendRecoveries,
		send:           send,
		now:            time.Now,
	}
}

// SendAlert delivers a mail for one pool issue. Returns false when no
// recipients are configured or delivery fails.
func (a *Alerter) SendAlert(issue monitor.PoolIssue, pool zfs.PoolStatus) bool {
	if len(a.recipients) == 0 {
		log.Warn().Str("component", "alert").Msg("No alert recipients configured, skipping email")
		return false
	}

	subject := fmt.Sprintf("%s %s - %s: %s", a.subjectPrefix, issue.Severity, pool.Name, issue.Message)
	body := a.formatBody(issue, pool)

	log.Info().
		Str("component", "alert").
		Str("pool", pool.Name).
		Str("severity", issue.Severity.String()).
		Str("category", issue.Category).
		Strs("recipients", a.recipients).
		Msg("Sending alert email")

	if err := a.send(a.mail, a.recipients, subject, body); err != nil {
		log.Error().
			Err(err).
			Str("component", "alert").
			Str("pool", pool.Name).
			Str("error_type", fmt.Sprintf("%T", err)).
			Msg("Failed to send alert email")
		return false
	}

	return true
}

// SendRecovery delivers a mail announcing that an issue cleared. pool may
// be nil when the pool vanished along with the issue.
func (a *Alerter) SendRecovery(poolName, category string, pool *zfs.PoolStatus) bool {
	if !a.sendRecoveries {
		log.Debug().Str("component", "alert").Msg("Recovery emails disabled, skipping")
		return false
	}

	if len(a.recipients) == 0 {
		log.Warn().Str("component", "alert").Msg("No alert recipients configured, skipping email")
		return false
	}

	subject := fmt.Sprintf("%s RECOVERY - %s: %s issue resolved", a.subjectPrefix, poolName, category)
	body := a.formatRecoveryBody(poolName, category, pool)

	log.Info().
		Str("component", "alert").
		Str("pool", poolName).
		Str("category", category).
		Strs("recipients", a.recipients).
		Msg("Sending recovery email")

	if err := a.send(a.mail, a.recipients, subject, body); err != nil {
		log.Error().
			Err(err).
			Str("component", "alert").
			Str("pool", poolName).
			Str("error_type", fmt.Sprintf("%T", err)).
			Msg("Failed to send recovery email")
		return false
	}

	return true
}

func (a *Alerter) formatBody(issue monitor.PoolIssue, pool zfs.PoolStatus) string {
	hostname, _ := os.Hostname()
	now := a.now()

	var sb strings.Builder

	fmt.Fprintf(&sb, "ZFS Pool Alert - %s\n\n", issue.Severity)
	fmt.Fprintf(&sb, "Pool: %s\n", pool.Name)
	fmt.Fprintf(&sb, "Status: %s\n", pool.Health)
	fmt.Fprintf(&sb, "Timestamp: %s\n", now.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Host: %s\n\n", hostname)

	sb.WriteString("ISSUE DETECTED:\n")
	fmt.Fprintf(&sb, "  Category: %s\n", issue.Category)
	fmt.Fprintf(&sb, "  Severity: %s\n", issue.Severity)
	fmt.Fprintf(&sb, "  Message: %s\n", issue.Message)

	if len(issue.Details) > 0 {
		sb.WriteString("\nDetails:\n")
		for _, key := range sortedDetailKeys(issue.Details) {
			fmt.Fprintf(&sb, "  %s: %v\n", key, issue.Details[key])
		}
	}

	sb.WriteString("\nPOOL DETAILS:\n")
	sb.WriteString(poolDetailsTable(pool, now))

	sb.WriteString("\nRECOMMENDED ACTIONS:\n")
	fmt.Fprintf(&sb, "  1. Run 'zpool status %s' to investigate\n", pool.Name)
	for i, action := range recommendedActions(issue.Category, pool.Name) {
		fmt.Fprintf(&sb, "  %d. %s\n", i+2, action)
	}

	sb.WriteString("\n---\n")
	fmt.Fprintf(&sb, "Generated by zpoolmon v%s\n", common.ZpoolMonVersion)
	fmt.Fprintf(&sb, "Hostname: %s\n", hostname)

	sb.WriteString("\n" + strings.Repeat("=", 70) + "\n")
	sb.WriteString("COMPLETE POOL STATUS\n")
	sb.WriteString(strings.Repeat("=", 70) + "\n")
	sb.WriteString(a.formatCompletePoolStatus(pool))

	return sb.String()
}

func (a *Alerter) formatRecoveryBody(poolName, category string, pool *zfs.PoolStatus) string {
	hostname, _ := os.Hostname()

	var sb strings.Builder

	sb.WriteString("ZFS Pool Recovery Notification\n\n")
	fmt.Fprintf(&sb, "Pool: %s\n", poolName)
	fmt.Fprintf(&sb, "Category: %s\n", category)
	fmt.Fprintf(&sb, "Timestamp: %s\n", a.now().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Host: %s\n\n", hostname)
	fmt.Fprintf(&sb, "The %s issue for pool '%s' has been resolved.\n\n", category, poolName)
	sb.WriteString("No further action is required at this time.\n")
	sb.WriteString("\n---\n")
	fmt.Fprintf(&sb, "Generated by zpoolmon v%s\n", common.ZpoolMonVersion)
	fmt.Fprintf(&sb, "Hostname: %s\n", hostname)

	if pool != nil {
		sb.WriteString("\n" + strings.Repeat("=", 70) + "\n")
		sb.WriteString("CURRENT POOL STATUS\n")
		sb.WriteString(strings.Repeat("=", 70) + "\n")
		sb.WriteString(a.formatCompletePoolStatus(*pool))
	}

	return sb.String()
}

// poolDetailsTable renders the at-a-glance pool metrics as a table
// embedded in the mail body.
func poolDetailsTable(pool zfs.PoolStatus, now time.Time) string {
	output := &strings.Builder{}
	table := tablewriter.NewWriter(output)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.AppendBulk([][]string{
		{"Capacity", fmt.Sprintf("%.1f%% used (%.2f TB / %.2f TB)",
			pool.CapacityPercent,
			float64(pool.AllocatedBytes)/tib,
			float64(pool.SizeBytes)/tib)},
		{"Free Space", fmt.Sprintf("%.2f TB", float64(pool.FreeBytes)/tib)},
		{"Errors", fmt.Sprintf("%d read, %d write, %d checksum",
			pool.ReadErrors, pool.WriteErrors, pool.ChecksumErrors)},
		{"Last Scrub", scrubSummary(pool, now)},
	})
	table.Render()

	return output.String()
}

func scrubSummary(pool zfs.PoolStatus, now time.Time) string {
	var summary string
	if pool.LastScrub.IsZero() {
		summary = "Never"
	} else {
		ageDays := int(now.UTC().Sub(pool.LastScrub).Hours() / 24)
		summary = fmt.Sprintf("%s (%d days ago, %d errors)",
			pool.LastScrub.Format("2006-01-02 15:04:05"), ageDays, pool.ScrubErrors)
	}

	if pool.ScrubInProgress {
		summary += " [SCRUB IN PROGRESS]"
	}

	return summary
}

func recommendedActions(category, poolName string) []string {
	switch category {
	case monitor.CategoryCapacity:
		return []string{
			"Identify and remove unnecessary files",
			"Consider adding more storage capacity",
		}
	case monitor.CategoryErrors:
		return []string{
			"Check system logs for hardware issues",
			"Consider running 'zpool scrub' if not in progress",
		}
	case monitor.CategoryScrub:
		return []string{
			fmt.Sprintf("Run 'zpool scrub %s' to start scrub", poolName),
			"Schedule regular scrubs via cron or systemd timer",
		}
	case monitor.CategoryHealth:
		return []string{
			"Check for failed or degraded devices",
			"Replace failed drives if necessary",
		}
	default:
		return nil
	}
}

// formatCompletePoolStatus renders every pool metric in a zpool-like text
// layout so the mail is useful without SSH access to the host.
func (a *Alerter) formatCompletePoolStatus(pool zfs.PoolStatus) string {
	now := a.now()
	var sb strings.Builder

	fmt.Fprintf(&sb, "Pool: %s\n", pool.Name)
	fmt.Fprintf(&sb, "State: %s\n\n", pool.Health)

	sb.WriteString("Capacity:\n")
	fmt.Fprintf(&sb, "  Total:     %.2f TB (%.2f GB) [%d bytes]\n",
		float64(pool.SizeBytes)/tib, float64(pool.SizeBytes)/gib, pool.SizeBytes)
	fmt.Fprintf(&sb, "  Used:      %.2f TB (%.2f GB) [%d bytes]\n",
		float64(pool.AllocatedBytes)/tib, float64(pool.AllocatedBytes)/gib, pool.AllocatedBytes)
	fmt.Fprintf(&sb, "  Free:      %.2f TB (%.2f GB) [%d bytes]\n",
		float64(pool.FreeBytes)/tib, float64(pool.FreeBytes)/gib, pool.FreeBytes)
	fmt.Fprintf(&sb, "  Usage:     %.2f%%\n\n", pool.CapacityPercent)

	totalErrors := pool.TotalErrors()
	errorStatus := "No errors"
	if totalErrors > 0 {
		errorStatus = "ERRORS DETECTED"
	}

	fmt.Fprintf(&sb, "Error Statistics: %s\n", errorStatus)
	fmt.Fprintf(&sb, "  Read Errors:      %d\n", pool.ReadErrors)
	fmt.Fprintf(&sb, "  Write Errors:     %d\n", pool.WriteErrors)
	fmt.Fprintf(&sb, "  Checksum Errors:  %d\n", pool.ChecksumErrors)
	fmt.Fprintf(&sb, "  Total Errors:     %d\n\n", totalErrors)

	if !pool.LastScrub.IsZero() {
		scrubStatus := "Completed"
		if pool.ScrubInProgress {
			scrubStatus = "IN PROGRESS"
		}
		scrubErrorsStatus := "No errors found"
		if pool.ScrubErrors > 0 {
			scrubErrorsStatus = fmt.Sprintf("%d errors found", pool.ScrubErrors)
		}
		ageDays := int(now.UTC().Sub(pool.LastScrub).Hours() / 24)

		fmt.Fprintf(&sb, "Scrub Status: %s\n", scrubStatus)
		fmt.Fprintf(&sb, "  Last Scrub:   %s\n", pool.LastScrub.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(&sb, "  Age:          %d days\n", ageDays)
		fmt.Fprintf(&sb, "  Errors:       %s\n", scrubErrorsStatus)
	} else {
		sb.WriteString("Scrub Status: Never scrubbed\n")
		sb.WriteString("  WARNING: No scrub has been performed on this pool\n")
	}

	if pool.ScrubInProgress {
		sb.WriteString("  NOTE: A scrub is currently in progress\n")
	}

	sb.WriteString("\n")

	var healthMsg string
	switch {
	case pool.Health.IsHealthy():
		healthMsg = "✓ Pool is healthy and operating normally"
	case pool.Health.IsCritical():
		healthMsg = "✗ CRITICAL: Pool is in a critical state requiring immediate attention"
	default:
		healthMsg = "⚠ WARNING: Pool is degraded and should be investigated"
	}

	sb.WriteString("Health Assessment:\n")
	fmt.Fprintf(&sb, "  %s\n\n", healthMsg)

	var notes []string
	if pool.CapacityPercent >= 90 {
		notes = append(notes, "⚠ Capacity critically high (≥90%)")
	} else if pool.CapacityPercent >= 80 {
		notes = append(notes, "⚠ Capacity high (≥80%)")
	}

	if totalErrors > 0 {
		notes = append(notes, fmt.Sprintf("⚠ %d I/O or checksum errors detected", totalErrors))
	}

	if pool.LastScrub.IsZero() {
		notes = append(notes, "⚠ Pool has never been scrubbed")
	} else {
		ageDays := int(now.UTC().Sub(pool.LastScrub).Hours() / 24)
		if ageDays > 30 {
			notes = append(notes, fmt.Sprintf("⚠ Scrub is %d days old (recommended: <30 days)", ageDays))
		}
	}

	if len(notes) > 0 {
		sb.WriteString("Notes:\n")
		for _, note := range notes {
			fmt.Fprintf(&sb, "  %s\n", note)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func sortedDetailKeys(details map[string]interface{}) []string {
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
