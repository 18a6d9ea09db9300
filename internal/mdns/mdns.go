// Package mdns provides optional mDNS/DNS-SD advertisement of the relay so
// editors on the local network can find it without typing an address.
//
// The advertisement includes:
//   - Service type: _docrelay._tcp
//   - TXT records with protocol version, environment label and URL scheme
package mdns

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for relays.
const ServiceType = "_docrelay._tcp"

// ProtocolVersion identifies the TXT record layout.
const ProtocolVersion = "1"

const domain = "local."

// Config holds the advertisement details that do not depend on the bound port.
type Config struct {
	// Name is the instance name; the system hostname when empty.
	Name string

	// Env is published as the env TXT record.
	Env string
}

// Advertiser manages a DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is registered until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "docrelay"
	}
	return hostname
}

func (a *Advertiser) txtRecords() []string {
	records := []string{
		"version=" + ProtocolVersion,
		"scheme=ws",
	}
	if a.config.Env != "" {
		records = append(records, "env="+a.config.Env)
	}
	return records
}

// Start registers the service for port on all interfaces. Calling Start
// while already running is a no-op.
func (a *Advertiser) Start(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(a.instanceName(), ServiceType, domain, port, a.txtRecords(), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

// Stop unregisters the service. It is safe to call on a stopped advertiser.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// DiscoveredRelay is a relay found by Discover.
type DiscoveredRelay struct {
	Name    string
	Host    string
	Port    int
	Env     string
	Version string
}

// URL returns the ws:// URL for the relay.
func (d DiscoveredRelay) URL() string {
	host := d.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("ws://%s:%d", host, d.Port)
}

// Browser streams service entries for ServiceType into entries until ctx
// is done.
type Browser func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error

// SystemBrowser browses the local network with a zeroconf resolver.
func SystemBrowser(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	return nil
}

// Discover collects relays until ctx is done or the browser closes its
// channel. A nil browse means SystemBrowser. Results are sorted by name.
func Discover(ctx context.Context, browse Browser) ([]DiscoveredRelay, error) {
	if browse == nil {
		browse = SystemBrowser
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browse(ctx, entries); err != nil {
		return nil, err
	}

	var relays []DiscoveredRelay
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sortRelays(relays), nil
			}
			if entry != nil {
				relays = append(relays, fromEntry(entry))
			}
		case <-ctx.Done():
			return sortRelays(relays), nil
		}
	}
}

func sortRelays(relays []DiscoveredRelay) []DiscoveredRelay {
	sort.Slice(relays, func(i, j int) bool { return relays[i].Name < relays[j].Name })
	return relays
}

func fromEntry(entry *zeroconf.ServiceEntry) DiscoveredRelay {
	relay := DiscoveredRelay{Name: entry.Instance, Port: entry.Port}
	if len(entry.AddrIPv4) > 0 {
		relay.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		relay.Host = entry.AddrIPv6[0].String()
	}
	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			relay.Version = value
		case "env":
			relay.Env = value
		}
	}
	return relay
}
