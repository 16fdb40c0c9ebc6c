// Package zfs executes zpool commands and parses their JSON output into
// typed pool statuses. No libzfs, no CGo; the zpool binary is invoked
// directly without a shell.
package zfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single zpool invocation.
const DefaultTimeout = 30 * time.Second

// ErrZFSNotAvailable is returned when the zpool executable cannot be found.
var ErrZFSNotAvailable = errors.New(
	"zpool command not found. Please install ZFS utilities.\n" +
		"On Debian/Ubuntu: apt install zfsutils-linux\n" +
		"On RHEL/CentOS: yum install zfs")

// CommandError reports a zpool invocation that exited non-zero.
type CommandError struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("zpool command failed (exit %d): %s\n%s",
		e.ExitCode, strings.Join(e.Command, " "), e.Stderr)
}

// Runner executes a command and returns stdout and stderr.
// Production: wraps exec.CommandContext. Tests: returns fixture data.
type Runner func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

// DefaultRunner returns a Runner backed by exec.CommandContext. Arguments
// are passed as separate argv entries, so shell metacharacters are literal
// values; no user-supplied text changes the argv shape.
func DefaultRunner() Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		var stdout, stderr bytes.Buffer

		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		return stdout.Bytes(), stderr.Bytes(), err
	}
}

// Client executes zpool commands and returns their decoded JSON output.
type Client struct {
	zpoolPath string
	timeout   time.Duration
	runner    Runner
}

// NewClient resolves the zpool executable and returns a client. An empty
// zpoolPath searches the process PATH. Resolution failure returns
// ErrZFSNotAvailable.
func NewClient(zpoolPath string, timeout time.Duration) (*Client, error) {
	if zpoolPath == "" {
		found, err := exec.LookPath("zpool")
		if err != nil {
			log.Error().Str("component", "zfs").Msg("zpool command not found in PATH")
			return nil, ErrZFSNotAvailable
		}
		zpoolPath = found
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	log.Debug().
		Str("component", "zfs").
		Str("zpool_path", zpoolPath).
		Dur("timeout", timeout).
		Msg("ZFS client initialized")

	return &Client{
		zpoolPath: zpoolPath,
		timeout:   timeout,
		runner:    DefaultRunner(),
	}, nil
}

// NewClientWithRunner returns a client that executes commands through the
// given runner instead of a subprocess. Used by tests.
func NewClientWithRunner(runner Runner, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{zpoolPath: "zpool", timeout: timeout, runner: runner}
}

// ZpoolPath returns the resolved path of the zpool executable.
func (c *Client) ZpoolPath() string {
	return c.zpoolPath
}

// GetPoolList runs `zpool list -j` and returns the decoded JSON tree.
// poolName limits the query to one pool; properties becomes a -o list.
func (c *Client) GetPoolList(ctx context.Context, poolName string, properties ...string) (map[string]interface{}, error) {
	args := []string{"list", "-j"}

	if len(properties) > 0 {
		args = append(args, "-o", strings.Join(properties, ","))
	}

	if poolName != "" {
		args = append(args, poolName)
	}

	return c.runJSON(ctx, args)
}

// GetPoolStatus runs `zpool status -j` and returns the decoded JSON tree.
func (c *Client) GetPoolStatus(ctx context.Context, poolName string) (map[string]interface{}, error) {
	args := []string{"status", "-j"}

	if poolName != "" {
		args = append(args, poolName)
	}

	return c.runJSON(ctx, args)
}

func (c *Client) runJSON(ctx context.Context, args []string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	command := append([]string{c.zpoolPath}, args...)
	log.Debug().
		Str("component", "zfs").
		Str("command", strings.Join(command, " ")).
		Msg("Executing zpool command")

	stdout, stderr, err := c.runner(ctx, c.zpoolPath, args...)

	if ctx.Err() == context.DeadlineExceeded {
		log.Error().
			Str("component", "zfs").
			Str("command", strings.Join(command, " ")).
			Dur("timeout", c.timeout).
			Msg("zpool command timed out")
		return nil, context.DeadlineExceeded
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		cmdErr := &CommandError{
			Command:  command,
			ExitCode: exitCode,
			Stderr:   string(stderr),
		}
		log.Error().
			Str("component", "zfs").
			Str("command", strings.Join(command, " ")).
			Int("exit_code", exitCode).
			Str("stderr", string(stderr)).
			Msg("zpool command failed")
		return nil, cmdErr
	}

	var data map[string]interface{}
	if err := json.Unmarshal(stdout, &data); err != nil {
		log.Error().
			Err(err).
			Str("component", "zfs").
			Str("command", strings.Join(command, " ")).
			Str("stdout_preview", preview(stdout, 500)).
			Msg("Failed to parse zpool JSON output")
		return nil, fmt.Errorf("invalid JSON from %s: %w", strings.Join(command, " "), err)
	}

	return data, nil
}

func preview(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
