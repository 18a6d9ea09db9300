package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/docrelay/internal/config"
	"github.com/Tyrowin/docrelay/internal/mdns"
	"github.com/Tyrowin/docrelay/internal/server"
)

func execute(t *testing.T, env map[string]string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(env, &stdout, &stderr)
	// A nil slice makes cobra fall back to os.Args.
	root.SetArgs(append([]string{}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestHelpFlagPrintsUsage(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"-h"}, {"--port", "-h"}, {"--port", "5000", "--help"}} {
		stdout, _, err := execute(t, nil, args...)
		require.NoError(t, err, "%v", args)
		assert.Contains(t, stdout, "Usage:")
		assert.Contains(t, stdout, "--port")
		assert.NotContains(t, stdout, "running at")
	}
}

func TestInvalidPortFailsUnderStrictPolicy(t *testing.T) {
	_, _, err := execute(t, map[string]string{"PORT": "not-a-port"})
	require.Error(t, err)

	var pe *config.PortError
	assert.True(t, errors.As(err, &pe))
}

func TestRunStartsAndStops(t *testing.T) {
	cfg, err := config.Resolve([]string{"--host", "127.0.0.1", "--port", "0"}, map[string]string{"NODE_ENV": "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(ctx, cfg, &stdout, &stderr))

	assert.Contains(t, stdout.String(), "running at '127.0.0.1'")
	assert.Contains(t, stdout.String(), "WebSocket server started, environment: test")
	assert.Contains(t, stderr.String(), "shutting down")
}

func fakeBrowser(entries ...*zeroconf.ServiceEntry) mdns.Browser {
	return func(_ context.Context, out chan<- *zeroconf.ServiceEntry) error {
		go func() {
			for _, e := range entries {
				out <- e
			}
			close(out)
		}()
		return nil
	}
}

func TestDiscoverListsRelays(t *testing.T) {
	entry := zeroconf.NewServiceEntry("office", mdns.ServiceType, "local.")
	entry.Port = 1234
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 5)}
	entry.Text = []string{"version=1", "env=production"}

	var stdout bytes.Buffer
	cmd := newDiscoverCommand(&stdout, fakeBrowser(entry))
	cmd.SetArgs([]string{"--timeout", "1s"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "office")
	assert.Contains(t, stdout.String(), "ws://192.168.1.5:1234")
	assert.Contains(t, stdout.String(), "env=production")
}

func TestDiscoverReportsEmptyNetwork(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newDiscoverCommand(&stdout, fakeBrowser())
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "no relays found\n", stdout.String())
}

func TestDiscoverBrowseFailure(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newDiscoverCommand(&stdout, func(context.Context, chan<- *zeroconf.ServiceEntry) error {
		return errors.New("no multicast interface")
	})
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no multicast interface")
}

func TestRootCommandRouting(t *testing.T) {
	root := newRootCommand(nil, io.Discard, io.Discard)

	cmd, _, err := root.Find([]string{"discover"})
	require.NoError(t, err)
	assert.Equal(t, "discover", cmd.Name())

	// Positional arguments that are not subcommands still reach the relay.
	cmd, _, err = root.Find([]string{"--port", "5000", "extra"})
	require.NoError(t, err)
	assert.Equal(t, "docrelay", cmd.Name())

	cmd, _, err = root.Find([]string{"completion"})
	require.NoError(t, err)
	assert.Equal(t, "docrelay", cmd.Name(), "no default completion command")
}

func TestExitMessage(t *testing.T) {
	assert.Equal(t, "docrelay: boom", exitMessage(errors.New("boom")))

	bind := fmt.Errorf("%w: %w", server.ErrBindFailed, errors.New("address already in use"))
	assert.Empty(t, exitMessage(bind), "bind failures are already reported by the server")
}
