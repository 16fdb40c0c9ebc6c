package common

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Monitor holds the pool classification thresholds.
type Monitor struct {
	Capacity_warning_percent  int
	Capacity_critical_percent int
	Scrub_max_age_days        int
	Read_errors_warning       uint64
	Write_errors_warning      uint64
	Checksum_errors_warning   uint64
}

// Daemon holds the monitoring loop settings.
type Daemon struct {
	Check_interval_seconds int
	Pools_to_monitor       []string
	Send_ok_emails         bool
	Send_recovery_emails   bool
	Resend_interval_hours  int
	State_file             string
}

// Alert holds alert routing settings.
type Alert struct {
	Recipients     []string
	Subject_prefix string
}

// Mail holds the SMTP transport settings. Smtp_hosts are tried in order
// until one delivery succeeds.
type Mail struct {
	Smtp_hosts []string
	Smtp_port  int
	From       string
	Username   string
	Password   string
	Starttls   bool
}

type ZpoolMon struct {
	Identifier string
	Zpool_path string

	Monitor Monitor
	Daemon  Daemon
	Alert   Alert
	Mail    Mail
}

func configPaths() []string {
	var paths []string

	if runtime.GOOS == "windows" {
		exePath, err := os.Executable()
		if err == nil {
			paths = append(paths, filepath.Dir(exePath)+"\\config")
			paths = append(paths, filepath.Dir(exePath))
		}
		paths = append(paths, "C:\\ProgramData\\zpoolmon")
	} else {
		paths = append(paths, "/etc/zpoolmon")
	}

	return paths
}

func ConfExists(configName string) bool {
	yamlFiles := [2]string{configName + ".yaml", configName + ".yml"}

	for _, path := range configPaths() {
		for _, file := range yamlFiles {
			if _, err := os.Stat(filepath.Join(path, file)); err == nil {
				return true
			}
		}
	}

	return false
}

func ConfInit(configName string, config interface{}) interface{} {
	viper.SetConfigName(configName)

	for _, path := range configPaths() {
		viper.AddConfigPath(path)
	}

	viper.SetConfigType("yaml")

	// Threshold and daemon defaults; any key can be overridden in the file
	viper.SetDefault("monitor.capacity_warning_percent", 80)
	viper.SetDefault("monitor.capacity_critical_percent", 90)
	viper.SetDefault("monitor.scrub_max_age_days", 30)
	viper.SetDefault("monitor.read_errors_warning", 1)
	viper.SetDefault("monitor.write_errors_warning", 1)
	viper.SetDefault("monitor.checksum_errors_warning", 1)
	viper.SetDefault("daemon.check_interval_seconds", 300)
	viper.SetDefault("daemon.send_ok_emails", false)
	viper.SetDefault("daemon.send_recovery_emails", true)
	viper.SetDefault("daemon.resend_interval_hours", 24)
	viper.SetDefault("daemon.state_file", DefaultStateFile())
	viper.SetDefault("alert.subject_prefix", "[ZFS Alert]")
	viper.SetDefault("mail.smtp_port", 25)
	viper.SetDefault("mail.starttls", true)

	err := viper.ReadInConfig()

	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Debug().Str("configName", configName).Msg("No config file found, using defaults")
		} else {
			log.Error().Str("configName", configName).Err(err).Msg("Fatal error while trying to parse the config file")
			panic(err)
		}
	}

	// Get all settings and expand environment variables recursively
	allSettings := viper.AllSettings()
	expandEnvInMap(allSettings)

	// Reset viper with expanded values
	for key, value := range allSettings {
		viper.Set(key, value)
	}

	err = viper.Unmarshal(&config)

	if err != nil {
		log.Error().Str("configName", configName).Err(err).Msg("Fatal error while trying to unmarshal the config file")
		panic(err)
	}

	return config
}

// DefaultStateFile returns the alert state path for the current user,
// /var/lib for root and XDG state otherwise.
func DefaultStateFile() string {
	if os.Geteuid() == 0 {
		return "/var/lib/zpoolmon/alert_state.json"
	}

	xdgStateHome := os.Getenv("XDG_STATE_HOME")
	if xdgStateHome == "" {
		xdgStateHome = os.Getenv("HOME") + "/.local/state"
	}

	return filepath.Join(xdgStateHome, "zpoolmon", "alert_state.json")
}

// expandEnvInMap recursively expands environment variables in nested map structures
func expandEnvInMap(data map[string]interface{}) {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if strings.Contains(v, "${") || strings.Contains(v, "$") {
				data[key] = os.ExpandEnv(v)
			}
		case map[string]interface{}:
			expandEnvInMap(v)
		case []interface{}:
			for i, item := range v {
				if strItem, ok := item.(string); ok {
					if strings.Contains(strItem, "${") || strings.Contains(strItem, "$") {
						v[i] = os.ExpandEnv(strItem)
					}
				}
			}
		}
	}
}
