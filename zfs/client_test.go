package zfs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureRunner(t *testing.T, wantArgs []string, stdout string) Runner {
	t.Helper()
	return func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		assert.Equal(t, "zpool", name)
		assert.Equal(t, wantArgs, args)
		return []byte(stdout), nil, nil
	}
}

func TestGetPoolList(t *testing.T) {
	client := NewClientWithRunner(
		fixtureRunner(t, []string{"list", "-j"}, `{"pools": {"rpool": {}}}`),
		DefaultTimeout,
	)

	data, err := client.GetPoolList(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, data, "pools")
}

func TestGetPoolListArgs(t *testing.T) {
	client := NewClientWithRunner(
		fixtureRunner(t,
			[]string{"list", "-j", "-o", "name,size,capacity", "rpool"},
			`{"pools": {}}`),
		DefaultTimeout,
	)

	_, err := client.GetPoolList(context.Background(), "rpool", "name", "size", "capacity")
	require.NoError(t, err)
}

func TestGetPoolStatusArgs(t *testing.T) {
	client := NewClientWithRunner(
		fixtureRunner(t, []string{"status", "-j", "tank"}, `{"pools": {}}`),
		DefaultTimeout,
	)

	_, err := client.GetPoolStatus(context.Background(), "tank")
	require.NoError(t, err)
}

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func TestCommandFailure(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("permission denied"), exitError{code: 1}
	}

	client := NewClientWithRunner(runner, DefaultTimeout)

	_, err := client.GetPoolStatus(context.Background(), "")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "permission denied", cmdErr.Stderr)
	assert.Contains(t, cmdErr.Error(), "zpool command failed")
}

func TestInvalidJSON(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte("no pools available"), nil, nil
	}

	client := NewClientWithRunner(runner, DefaultTimeout)

	_, err := client.GetPoolList(context.Background(), "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandTimeout(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}

	client := NewClientWithRunner(runner, 10*time.Millisecond)

	_, err := client.GetPoolList(context.Background(), "")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewClientMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := NewClient("", DefaultTimeout)
	assert.ErrorIs(t, err, ErrZFSNotAvailable)
}

func TestNewClientExplicitPath(t *testing.T) {
	client, err := NewClient("/sbin/zpool", DefaultTimeout)
	require.NoError(t, err)
	assert.Equal(t, "/sbin/zpool", client.ZpoolPath())
}
