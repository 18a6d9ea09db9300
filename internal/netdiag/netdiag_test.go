package netdiag

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	ip, ipnet, err := net.ParseCIDR(s)
	require.NoError(t, err)
	ipnet.IP = ip
	return ipnet
}

func TestLocalIPv4FiltersLoopbackAndIPv6(t *testing.T) {
	src := func() ([]Interface, error) {
		return []Interface{
			{Name: "lo", Addrs: []net.Addr{mustCIDR(t, "127.0.0.1/8"), mustCIDR(t, "::1/128")}},
			{Name: "eth0", Addrs: []net.Addr{mustCIDR(t, "192.168.1.10/24"), mustCIDR(t, "fe80::1/64")}},
			{Name: "docker0"},
			{Name: "wlan0", Addrs: []net.Addr{
				mustCIDR(t, "10.0.0.5/8"),
				&net.IPAddr{IP: net.ParseIP("172.16.4.4")},
			}},
		}, nil
	}

	addrs, err := LocalIPv4(src)
	require.NoError(t, err)

	assert.Equal(t, []NetworkAddress{
		{InterfaceName: "eth0", Address: "192.168.1.10", Netmask: "255.255.255.0"},
		{InterfaceName: "wlan0", Address: "10.0.0.5", Netmask: "255.0.0.0"},
		{InterfaceName: "wlan0", Address: "172.16.4.4", Netmask: "255.255.0.0"},
	}, addrs)
}

func TestLocalIPv4NoQualifyingInterfaces(t *testing.T) {
	src := func() ([]Interface, error) {
		return []Interface{
			{Name: "lo", Addrs: []net.Addr{mustCIDR(t, "127.0.0.1/8")}},
			{Name: "eth0", Addrs: []net.Addr{mustCIDR(t, "2001:db8::2/64")}},
		}, nil
	}

	addrs, err := LocalIPv4(src)
	require.NoError(t, err)
	assert.NotNil(t, addrs)
	assert.Empty(t, addrs)
}

func TestLocalIPv4SkipsLoopbackInterfaces(t *testing.T) {
	src := func() ([]Interface, error) {
		return []Interface{
			{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{
				mustCIDR(t, "127.0.0.1/8"),
				mustCIDR(t, "10.255.0.1/32"),
			}},
			{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{mustCIDR(t, "192.168.1.10/24")}},
		}, nil
	}

	addrs, err := LocalIPv4(src)
	require.NoError(t, err)
	assert.Equal(t, []NetworkAddress{
		{InterfaceName: "eth0", Address: "192.168.1.10", Netmask: "255.255.255.0"},
	}, addrs)
}

func TestLocalIPv4EnumerationFailure(t *testing.T) {
	boom := errors.New("netlink unavailable")
	addrs, err := LocalIPv4(func() ([]Interface, error) { return nil, boom })

	assert.ErrorIs(t, err, boom)
	assert.NotNil(t, addrs)
	assert.Empty(t, addrs)
}

func TestLocalIPv4IgnoresUnknownAddrTypes(t *testing.T) {
	src := func() ([]Interface, error) {
		return []Interface{
			{Name: "tun0", Addrs: []net.Addr{&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}}},
		}, nil
	}

	addrs, err := LocalIPv4(src)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestLocalIPv4System(t *testing.T) {
	addrs, err := LocalIPv4(nil)
	if err != nil {
		t.Skipf("interface enumeration unavailable: %v", err)
	}

	for _, a := range addrs {
		ip := net.ParseIP(a.Address)
		require.NotNil(t, ip, "address %q is not an IP", a.Address)
		assert.NotNil(t, ip.To4(), "address %q is not IPv4", a.Address)
		assert.False(t, ip.IsLoopback(), "address %q is loopback", a.Address)
		assert.NotEqual(t, "127.0.0.1", a.Address)
		assert.NotEmpty(t, a.InterfaceName)
	}
}
