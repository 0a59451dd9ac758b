package eip

import (
	"fmt"
	"net/netip"
)

// Address identifies a controller: a network address plus a backplane slot number.
//
// Address is a comparable value type and can be used as a map key. Two addresses are equal only when
// both the IP and the slot match.
type Address struct {
	IP   netip.Addr
	Slot uint8
}

// NewAddress parses ip and returns an Address with the given slot.
func NewAddress(ip string, slot uint8) (Address, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Address{}, fmt.Errorf("parse controller address %q: %w", ip, err)
	}

	return Address{IP: addr.Unmap(), Slot: slot}, nil
}

// MustAddress is like NewAddress but panics on a malformed ip.
func MustAddress(ip string, slot uint8) Address {
	addr, err := NewAddress(ip, slot)
	if err != nil {
		panic(err)
	}

	return addr
}

// IsValid reports whether the address carries a usable IP.
func (a Address) IsValid() bool {
	return a.IP.IsValid()
}

// String returns "ip/slot".
func (a Address) String() string {
	return fmt.Sprintf("%s/%d", a.IP, a.Slot)
}

// AddrPort returns the network endpoint of the controller for the given port.
// The slot is not part of the network endpoint.
func (a Address) AddrPort(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(a.IP, port)
}
