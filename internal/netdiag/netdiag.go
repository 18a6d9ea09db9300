// Package netdiag discovers the host's reachable IPv4 addresses so operators
// can be told where to point their clients.
package netdiag

import (
	"fmt"
	"net"
)

// NetworkAddress is a single non-loopback IPv4 address bound to an interface.
type NetworkAddress struct {
	InterfaceName string
	Address       string
	Netmask       string
}

// Interface is the subset of net.Interface the diagnostics need.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// InterfaceSource enumerates the host's interfaces in a stable order.
type InterfaceSource func() ([]Interface, error)

// SystemInterfaces enumerates the host interfaces through the net package.
// Interfaces whose addresses cannot be read are returned without addresses.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}

// LocalIPv4 returns every IPv4 address that is not a loopback address and
// not bound to a loopback interface, in interface order and then address order. A nil source means SystemInterfaces.
// The result is never nil; when enumeration fails it is empty and the error
// is returned for reporting only.
func LocalIPv4(src InterfaceSource) ([]NetworkAddress, error) {
	if src == nil {
		src = SystemInterfaces
	}

	result := []NetworkAddress{}
	ifaces, err := src()
	if err != nil {
		return result, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, mask := ipAndMask(addr)
			if ip == nil || ip.IsLoopback() {
				continue
			}
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}
			result = append(result, NetworkAddress{
				InterfaceName: iface.Name,
				Address:       ip4.String(),
				Netmask:       dottedMask(mask, ip4),
			})
		}
	}
	return result, nil
}

func ipAndMask(addr net.Addr) (net.IP, net.IPMask) {
	switch a := addr.(type) {
	case *net.IPNet:
		return a.IP, a.Mask
	case *net.IPAddr:
		return a.IP, nil
	}
	return nil, nil
}

func dottedMask(mask net.IPMask, ip4 net.IP) string {
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		mask = ip4.DefaultMask()
	}
	if mask == nil {
		return ""
	}
	return net.IP(mask).String()
}
