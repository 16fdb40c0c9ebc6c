// Package report renders one-shot check results for terminals and
// machines, and maps aggregate severity to Nagios-style exit codes.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/monobilisim/zpoolmon/common"
	"github.com/monobilisim/zpoolmon/monitor"
	"github.com/monobilisim/zpoolmon/zfs"
)

// FormatJSON renders a check result as an indented JSON document.
func FormatJSON(result monitor.CheckResult) (string, error) {
	pools := make([]map[string]interface{}, 0, len(result.Pools))
	for _, pool := range result.Pools {
		pools = append(pools, map[string]interface{}{
			"name":             pool.Name,
			"health":           string(pool.Health),
			"capacity_percent": pool.CapacityPercent,
		})
	}

	issues := make([]map[string]interface{}, 0, len(result.Issues))
	for _, issue := range result.Issues {
		issues = append(issues, map[string]interface{}{
			"pool_name": issue.PoolName,
			"severity":  issue.Severity.String(),
			"category":  issue.Category,
			"message":   issue.Message,
			"details":   issue.Details,
		})
	}

	data := map[string]interface{}{
		"timestamp":        result.Timestamp.Format(time.RFC3339),
		"pools":            pools,
		"issues":           issues,
		"overall_severity": result.OverallSeverity.String(),
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// RenderText renders a check result for the terminal: header, pool table,
// issue list and the pool count, boxed the way the other tools do it.
func RenderText(result monitor.CheckResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ZFS Pool Check - %s\n", result.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Overall Status: %s\n\n", common.SeverityText(result.OverallSeverity.String()))

	sb.WriteString(common.SectionTitle("Pool Status"))
	sb.WriteString("\n")
	sb.WriteString(poolTable(result.Pools, result.Timestamp))

	sb.WriteString("\n")
	if len(result.Issues) > 0 {
		sb.WriteString(common.SectionTitle("Issues Found"))
		sb.WriteString("\n")
		for _, issue := range result.Issues {
			fmt.Fprintf(&sb, "  %s %s: %s\n",
				common.SeverityText(issue.Severity.String()), issue.PoolName, issue.Message)
		}
	} else {
		sb.WriteString("No issues detected\n")
	}

	fmt.Fprintf(&sb, "\nPools Checked: %d\n", len(result.Pools))

	return common.DisplayBox("zpoolmon check", sb.String())
}

func poolTable(pools []zfs.PoolStatus, now time.Time) string {
	output := &strings.Builder{}
	table := tablewriter.NewWriter(output)
	table.SetHeader([]string{"Pool", "Health", "Capacity", "Size", "Errors (R/W/C)", "Last Scrub"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	for _, pool := range pools {
		table.Append([]string{
			pool.Name,
			string(pool.Health),
			fmt.Sprintf("%.1f%%", pool.CapacityPercent),
			common.ConvertBytes(pool.SizeBytes),
			fmt.Sprintf("%d/%d/%d", pool.ReadErrors, pool.WriteErrors, pool.ChecksumErrors),
			lastScrubText(pool.LastScrub, now),
		})
	}

	table.Render()
	return output.String()
}

// lastScrubText formats a scrub timestamp as a relative age.
func lastScrubText(lastScrub time.Time, now time.Time) string {
	if lastScrub.IsZero() {
		return "Never"
	}

	days := int(now.UTC().Sub(lastScrub).Hours() / 24)

	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%dd ago", days)
	case days < 30:
		return fmt.Sprintf("%dw ago", days/7)
	case days < 60:
		return fmt.Sprintf("%dd ago", days)
	default:
		return fmt.Sprintf("%dmo ago", days/30)
	}
}

// ExitCode maps aggregate severity to the process exit code:
// 0 for OK and INFO, 1 for WARNING, 2 for CRITICAL.
func ExitCode(severity monitor.Severity) int {
	switch {
	case severity.IsCritical():
		return 2
	case severity == monitor.SeverityWarning:
		return 1
	default:
		return 0
	}
}
