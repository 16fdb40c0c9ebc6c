package common

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// DaemonRunning reports whether another "zpoolmon daemon" process exists.
// Concurrent daemons against the same state file are unsupported.
func DaemonRunning() bool {
	procs, _ := process.Processes()
	pid := os.Getpid()

	for _, proc := range procs {
		if int(proc.Pid) == pid {
			continue
		}

		cmdline, _ := proc.Cmdline()
		pname, _ := proc.Name()

		// Require exact match: binary is "zpoolmon" AND cmdline is
		// "zpoolmon daemon", optionally followed by flags, to avoid
		// substring matches. A cmdline that starts with a path to the
		// binary does not match.
		if pname == "zpoolmon" && isDaemonCmd(cmdline) {
			return true
		}
	}
	return false
}

func isDaemonCmd(cmdline string) bool {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "zpoolmon daemon" {
		return true
	}
	// Allow for flags after daemon
	return strings.HasPrefix(cmdline, "zpoolmon daemon ")
}
