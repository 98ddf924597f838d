// Package netstack adapts a TCP/IP stack to the rest of this module,
// per spec §4.5. The stack itself is treated as an external library:
// Stack is a narrow interface with one dedicated "stack thread"
// executing every PCB operation; a Go-native loopbackStack satisfies
// it for tests and standalone operation. A production build would
// wire Stack to a cgo binding of a real dual-stack IPv4/IPv6 engine,
// which stays out of repo scope exactly as the original draws that
// boundary around the stack implementation itself.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package netstack

import (
	"net"

	"github.com/openperf/corenet/errs"
)

// AddrMode tags how a protocol address was assigned.
type AddrMode int

const (
	AddrStatic AddrMode = iota
	AddrAuto
	AddrDHCP
)

// EthConfig is the interface's single, mandatory Ethernet config.
type EthConfig struct {
	MAC net.HardwareAddr
}

// IPv4Config is an interface's optional IPv4 protocol config.
type IPv4Config struct {
	Mode       AddrMode
	Address    net.IP
	PrefixLen  int
	Gateway    net.IP // nil if absent
}

// IPv6Config is an interface's optional IPv6 protocol config,
// including an optional link-local address alongside the primary one.
type IPv6Config struct {
	Mode       AddrMode
	Address    net.IP
	PrefixLen  int
	Gateway    net.IP // nil if absent
	LinkLocal  net.IP // nil if absent
}

// InterfaceConfig bundles one interface's protocol configs, per
// spec §4.5.1: exactly one Ethernet config, at most one IPv4, at most
// one IPv6.
type InterfaceConfig struct {
	Eth  EthConfig
	IPv4 *IPv4Config
	IPv6 *IPv6Config
}

var (
	v4LoopbackNet = mustParseCIDR("127.0.0.0/8")
	v6LoopbackNet = mustParseCIDR("::1/128")
	linkLocalNet  = mustParseCIDR("fe80::/10")
)

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Validate checks every rule of spec §4.5.1, exhaustively.
func (c *InterfaceConfig) Validate() error {
	if len(c.Eth.MAC) != 6 {
		return errs.New(errs.Invalid, "ethernet config requires a 6-byte MAC")
	}
	if c.Eth.MAC[0]&0x01 != 0 {
		return errs.New(errs.Invalid, "ethernet MAC must be unicast")
	}
	if isBroadcastMAC(c.Eth.MAC) {
		return errs.New(errs.Invalid, "ethernet MAC must not be broadcast")
	}

	if c.IPv4 != nil {
		if err := validateIPv4(c.IPv4); err != nil {
			return err
		}
	}
	if c.IPv6 != nil {
		if err := validateIPv6(c.IPv6); err != nil {
			return err
		}
	}
	return nil
}

func isBroadcastMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0xff {
			return false
		}
	}
	return true
}

func validateIPv4(c *IPv4Config) error {
	if c.PrefixLen < 0 || c.PrefixLen > 32 {
		return errs.New(errs.Invalid, "IPv4 prefix length must be <= 32")
	}
	ip4 := c.Address.To4()
	if ip4 == nil {
		return errs.New(errs.Invalid, "IPv4 address must be a valid IPv4 address")
	}
	if v4LoopbackNet.Contains(ip4) {
		return errs.New(errs.Invalid, "IPv4 address must not be loopback")
	}
	if ip4.IsMulticast() {
		return errs.New(errs.Invalid, "IPv4 address must not be multicast")
	}
	if c.Gateway != nil {
		if !subnetContains(ip4, c.PrefixLen, c.Gateway.To4()) {
			return errs.New(errs.Invalid, "IPv4 gateway must lie within the address's subnet")
		}
	}
	return nil
}

func validateIPv6(c *IPv6Config) error {
	if c.PrefixLen < 0 || c.PrefixLen > 128 {
		return errs.New(errs.Invalid, "IPv6 prefix length must be <= 128")
	}
	ip6 := c.Address.To16()
	if ip6 == nil {
		return errs.New(errs.Invalid, "IPv6 address must be a valid IPv6 address")
	}
	if v6LoopbackNet.Contains(ip6) {
		return errs.New(errs.Invalid, "IPv6 address must not be loopback")
	}
	if ip6.IsMulticast() {
		return errs.New(errs.Invalid, "IPv6 address must not be multicast")
	}
	if c.Gateway != nil {
		if !subnetContains(ip6, c.PrefixLen, c.Gateway.To16()) {
			return errs.New(errs.Invalid, "IPv6 gateway must lie within the address's subnet")
		}
	}
	if c.LinkLocal != nil && !linkLocalNet.Contains(c.LinkLocal.To16()) {
		return errs.New(errs.Invalid, "IPv6 link-local address must be in fe80::/10")
	}
	return nil
}

func subnetContains(addr net.IP, prefixLen int, candidate net.IP) bool {
	if candidate == nil {
		return false
	}
	mask := net.CIDRMask(prefixLen, len(addr)*8)
	n := &net.IPNet{IP: addr.Mask(mask), Mask: mask}
	return n.Contains(candidate)
}

// Interface is the stack-thread-owned logical L2/L3 endpoint tied to
// one physical port.
type Interface struct {
	ID     int
	Port   int
	Config InterfaceConfig
	Up     bool
	LinkUp bool
}
