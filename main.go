package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/monobilisim/zpoolmon/alert"
	"github.com/monobilisim/zpoolmon/common"
	"github.com/monobilisim/zpoolmon/daemon"
	"github.com/monobilisim/zpoolmon/monitor"
	"github.com/monobilisim/zpoolmon/report"
	"github.com/monobilisim/zpoolmon/service"
	"github.com/monobilisim/zpoolmon/zfs"

	"github.com/shirou/gopsutil/v4/host"
)

var ZpoolMonVersion = "devel"

var RootCmd = &cobra.Command{
	Use:     "zpoolmon",
	Short:   "ZFS pool monitoring with e-mail alerting",
	Version: ZpoolMonVersion,
}

func main() {
	common.ZpoolMonVersion = ZpoolMonVersion

	var checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check pools once and print a report",
		Run:   checkMain,
	}
	checkCmd.Flags().StringP("format", "f", "text", "Output format (text|json)")

	var daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Run the monitoring daemon",
		Run:   daemonMain,
	}
	daemonCmd.Flags().Bool("foreground", false, "Run in the foreground (service mode)")

	var infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show host and tool information",
		Run:   infoMain,
	}

	var serviceCmd = &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd service",
	}
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the systemd unit",
		Run: func(cmd *cobra.Command, args []string) {
			common.Init()
			exitOnError(service.Install())
		},
	})
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the systemd unit",
		Run: func(cmd *cobra.Command, args []string) {
			common.Init()
			exitOnError(service.Uninstall())
		},
	})
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the systemd unit state",
		Run: func(cmd *cobra.Command, args []string) {
			common.Init()
			state, err := service.Status()
			exitOnError(err)
			fmt.Println(service.UnitName + ": " + state)
		},
	})

	RootCmd.AddCommand(checkCmd)
	RootCmd.AddCommand(daemonCmd)
	RootCmd.AddCommand(infoCmd)
	RootCmd.AddCommand(serviceCmd)

	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func monitorConfig() monitor.Config {
	return monitor.Config{
		CapacityWarningPercent:  common.Config.Monitor.Capacity_warning_percent,
		CapacityCriticalPercent: common.Config.Monitor.Capacity_critical_percent,
		ScrubMaxAgeDays:         common.Config.Monitor.Scrub_max_age_days,
		ReadErrorsWarning:       common.Config.Monitor.Read_errors_warning,
		WriteErrorsWarning:      common.Config.Monitor.Write_errors_warning,
		ChecksumErrorsWarning:   common.Config.Monitor.Checksum_errors_warning,
	}
}

func mailConfig() alert.MailConfig {
	return alert.MailConfig{
		Hosts:    common.Config.Mail.Smtp_hosts,
		Port:     common.Config.Mail.Smtp_port,
		From:     common.Config.Mail.From,
		Username: common.Config.Mail.Username,
		Password: common.Config.Mail.Password,
		StartTLS: common.Config.Mail.Starttls,
	}
}

// checkMain runs one acquisition+classification pass and exits with the
// Nagios-style code for the aggregate severity. No alert state is touched.
func checkMain(cmd *cobra.Command, args []string) {
	common.Init()

	format, _ := cmd.Flags().GetString("format")

	client, err := zfs.NewClient(common.Config.Zpool_path, zfs.DefaultTimeout)
	exitOnError(err)

	poolMonitor, err := monitor.NewPoolMonitor(monitorConfig())
	exitOnError(err)

	parser := zfs.NewParser()
	ctx := context.Background()

	listData, err := client.GetPoolList(ctx, "")
	exitOnError(err)

	statusData, err := client.GetPoolStatus(ctx, "")
	exitOnError(err)

	poolsFromList, err := parser.ParsePoolList(listData)
	exitOnError(err)

	poolsFromStatus, err := parser.ParsePoolStatus(statusData)
	exitOnError(err)

	pools := parser.MergePoolData(poolsFromList, poolsFromStatus)
	result := poolMonitor.CheckAllPools(pools)

	if format == "json" {
		output, err := report.FormatJSON(result)
		exitOnError(err)
		fmt.Println(output)
	} else {
		fmt.Println(report.RenderText(result))
	}

	os.Exit(report.ExitCode(result.OverallSeverity))
}

func daemonMain(cmd *cobra.Command, args []string) {
	if common.DaemonRunning() {
		fmt.Println("zpoolmon daemon is already running, exiting...")
		os.Exit(1)
	}

	common.Init()

	client, err := zfs.NewClient(common.Config.Zpool_path, zfs.DefaultTimeout)
	exitOnError(err)

	poolMonitor, err := monitor.NewPoolMonitor(monitorConfig())
	exitOnError(err)

	states := alert.NewStateManager(
		common.Config.Daemon.State_file,
		common.Config.Daemon.Resend_interval_hours,
	)

	alerter := alert.NewAlerter(
		mailConfig(),
		common.Config.Alert.Recipients,
		common.Config.Alert.Subject_prefix,
		common.Config.Daemon.Send_recovery_emails,
	)

	d := daemon.New(client, zfs.NewParser(), poolMonitor, alerter, states, daemon.Config{
		CheckInterval:      time.Duration(common.Config.Daemon.Check_interval_seconds) * time.Second,
		PoolsToMonitor:     common.Config.Daemon.Pools_to_monitor,
		SendOKEmails:       common.Config.Daemon.Send_ok_emails,
		SendRecoveryEmails: common.Config.Daemon.Send_recovery_emails,
	})

	d.Start()
}

func infoMain(cmd *cobra.Command, args []string) {
	common.Init()

	hostInfo, err := host.Info()

	zpoolPath := "not found"
	if client, cerr := zfs.NewClient(common.Config.Zpool_path, zfs.DefaultTimeout); cerr == nil {
		zpoolPath = client.ZpoolPath()
	}

	content := ""
	content += common.SimpleStatusListItem("Version", ZpoolMonVersion, true) + "\n"
	if err == nil {
		content += common.SimpleStatusListItem("Hostname", hostInfo.Hostname, true) + "\n"
		content += common.SimpleStatusListItem("Platform", hostInfo.Platform+" "+hostInfo.PlatformVersion, true) + "\n"
		content += common.SimpleStatusListItem("Uptime", (time.Duration(hostInfo.Uptime) * time.Second).String(), true) + "\n"
	}
	content += common.SimpleStatusListItem("zpool", zpoolPath, zpoolPath != "not found") + "\n"
	content += common.SimpleStatusListItem("State File", common.Config.Daemon.State_file, true) + "\n"

	fmt.Println(common.DisplayBox("zpoolmon info", content))
}
