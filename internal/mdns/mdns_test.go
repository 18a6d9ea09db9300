package mdns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRecords(t *testing.T) {
	a := NewAdvertiser(Config{Name: "relay", Env: "production"})
	assert.Equal(t, []string{"version=1", "scheme=ws", "env=production"}, a.txtRecords())

	bare := NewAdvertiser(Config{})
	assert.Equal(t, []string{"version=1", "scheme=ws"}, bare.txtRecords())
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "relay", NewAdvertiser(Config{Name: "relay"}).instanceName())
	assert.NotEmpty(t, NewAdvertiser(Config{}).instanceName())
}

func TestStopWithoutStart(t *testing.T) {
	a := NewAdvertiser(Config{})
	a.Stop()
	a.Stop()
	assert.Nil(t, a.server)
}

func entryFor(name, ip string, port int, txt ...string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(name, ServiceType, "local.")
	entry.Port = port
	entry.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	entry.Text = txt
	return entry
}

func TestDiscoverCollectsUntilChannelCloses(t *testing.T) {
	browse := func(_ context.Context, entries chan<- *zeroconf.ServiceEntry) error {
		go func() {
			entries <- entryFor("studio", "192.168.1.7", 1234, "env=production")
			entries <- entryFor("office", "192.168.1.5", 4000)
			close(entries)
		}()
		return nil
	}

	relays, err := Discover(context.Background(), browse)
	require.NoError(t, err)
	require.Len(t, relays, 2)
	assert.Equal(t, "office", relays[0].Name)
	assert.Equal(t, "ws://192.168.1.5:4000", relays[0].URL())
	assert.Equal(t, "studio", relays[1].Name)
	assert.Equal(t, "production", relays[1].Env)
}

func TestDiscoverStopsAtDeadline(t *testing.T) {
	browse := func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error {
		go func() {
			select {
			case entries <- entryFor("office", "192.168.1.5", 1234):
			case <-ctx.Done():
			}
		}()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	relays, err := Discover(ctx, browse)
	require.NoError(t, err)
	require.Len(t, relays, 1)
	assert.Equal(t, "office", relays[0].Name)
}

func TestDiscoverBrowseError(t *testing.T) {
	boom := errors.New("no multicast interface")
	relays, err := Discover(context.Background(), func(context.Context, chan<- *zeroconf.ServiceEntry) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, relays)
}

func TestFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("office", ServiceType, "local.")
	entry.Port = 1234
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 5)}
	entry.Text = []string{"version=1", "env=staging", "garbage"}

	relay := fromEntry(entry)
	assert.Equal(t, "office", relay.Name)
	assert.Equal(t, "192.168.1.5", relay.Host)
	assert.Equal(t, 1234, relay.Port)
	assert.Equal(t, "staging", relay.Env)
	assert.Equal(t, "1", relay.Version)
	assert.Equal(t, "ws://192.168.1.5:1234", relay.URL())
}

func TestDiscoveredRelayURLIPv6(t *testing.T) {
	relay := DiscoveredRelay{Host: "fe80::1", Port: 1234}
	assert.Equal(t, "ws://[fe80::1]:1234", relay.URL())
}
