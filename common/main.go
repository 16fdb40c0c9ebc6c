package common

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Config ZpoolMon
var ZpoolMonVersion = "devel"
var ScriptName = "zpoolmon"
var TmpDir = "/tmp/zpoolmon/"

func Init() {
	var userMode bool = false

	// Check if user is root
	if os.Geteuid() != 0 {
		userMode = true
	}

	// Create TmpDir if it doesn't exist
	if _, err := os.Stat(TmpDir); os.IsNotExist(err) {
		err = os.MkdirAll(TmpDir, 0755)

		if err != nil {
			fmt.Println("Error creating tmp directory: \n" + TmpDir + "\n" + err.Error())
			os.Exit(1)
		}
	}

	// Configure zerolog
	initZerolog(userMode)

	ConfInit("zpoolmon", &Config)

	log.Debug().
		Str("component", "init").
		Bool("user_mode", userMode).
		Str("tmp_dir", TmpDir).
		Str("identifier", Config.Identifier).
		Msg("zpoolmon initialization completed")
}

// initZerolog configures zerolog with structured logging to the console and
// the logfile at the same time.
func initZerolog(userMode bool) {
	// Set log level from environment variable
	lvl := os.Getenv("ZPOOLMON_LOGLEVEL")
	if lvl == "" {
		lvl = "info"
	}

	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().
			Str("provided_level", lvl).
			Str("default_level", level.String()).
			Msg("Invalid log level provided, using default")
	}
	zerolog.SetGlobalLevel(level)

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + fmt.Sprintf("%d", line)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorFieldName = "error"

	// Determine log file path
	logfilePath := "/var/log/zpoolmon.log"
	if userMode {
		xdgStateHome := os.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			xdgStateHome = os.Getenv("HOME") + "/.local/state"
		}

		if _, err := os.Stat(xdgStateHome + "/zpoolmon"); os.IsNotExist(err) {
			os.MkdirAll(xdgStateHome+"/zpoolmon", 0755)
		}

		logfilePath = xdgStateHome + "/zpoolmon/zpoolmon.log"
	}

	logFile, err := os.OpenFile(logfilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		// Fallback to stderr if we can't open the log file
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", logfilePath, err)
		logFile = os.Stderr
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    os.Getenv("ZPOOLMON_NOCOLOR") == "true" || os.Getenv("ZPOOLMON_NOCOLOR") == "1",
		FieldsExclude: []string{
			"component",
		},
	}

	// JSON to file, pretty to stdout
	output := zerolog.MultiLevelWriter(consoleWriter, logFile)

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Str("component", ScriptName).
		Str("version", ZpoolMonVersion).
		Str("pid", fmt.Sprintf("%d", os.Getpid())).
		Bool("user_mode", userMode)

	if hostname, err := os.Hostname(); err == nil {
		logger = logger.Str("hostname", hostname)
	}

	log.Logger = logger.Logger()
}

func ConvertBytes(bytes uint64) string {
	var sizes = []string{"B", "KB", "MB", "GB", "TB", "EB"}

	if bytes == 0 {
		return "0 B"
	}

	// Convert to float64 to preserve decimal precision
	floatBytes := float64(bytes)
	var i int

	for i = 0; floatBytes >= 1024 && i < len(sizes)-1; i++ {
		floatBytes /= 1024
	}

	// Format with 2 decimal places for units >= MB
	if i >= 2 {
		return fmt.Sprintf("%.2f %s", floatBytes, sizes[i])
	}

	if floatBytes > float64(math.MaxInt) {
		return fmt.Sprintf("%d %s", math.MaxInt, sizes[i])
	} else if floatBytes < float64(math.MinInt) {
		return fmt.Sprintf("%d %s", math.MinInt, sizes[i])
	}
	return fmt.Sprintf("%d %s", int(floatBytes), sizes[i])
}

func FileExists(filePath string) bool {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return false
	}
	return true
}

func IsInArray(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}
