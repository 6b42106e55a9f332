// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// MAC is an Ethernet hardware address.
type MAC [MACLen]byte

// BroadcastMAC is the all-ones Ethernet destination.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// String formats the address as AA-BB-CC-DD-EE-FF.
func (m MAC) String() string {
	return fmt.Sprintf("%02X-%02X-%02X-%02X-%02X-%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is the broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// ParseMAC accepts any notation understood by net.ParseMAC, limited to 48-bit addresses.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(hw) != MACLen {
		return MAC{}, fmt.Errorf("%w: %q is not a 48-bit MAC", ErrInvalidAddress, s)
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

// IPv4Addr is an IPv4 address in network byte order.
type IPv4Addr [IPv4Len]byte

func (a IPv4Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// Netip converts to the standard library value type.
func (a IPv4Addr) Netip() netip.Addr {
	return netip.AddrFrom4(a)
}

// ParseIPv4 parses dotted-decimal notation.
func ParseIPv4(s string) (IPv4Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IPv4Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !addr.Is4() {
		return IPv4Addr{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidAddress, s)
	}
	return IPv4Addr(addr.As4()), nil
}

// MustParseIPv4 is ParseIPv4 for constants; it panics on error.
func MustParseIPv4(s string) IPv4Addr {
	a, err := ParseIPv4(s)
	if err != nil {
		panic(err)
	}
	return a
}

// PrefixMatch returns the number of leading bits a and b have in common (0..32).
func PrefixMatch(a, b IPv4Addr) int {
	count := 0
	for i := 0; i < IPv4Len; i++ {
		diff := a[i] ^ b[i]
		for j := 0; j < 8; j++ {
			if diff&0x80 != 0 {
				return count
			}
			count++
			diff <<= 1
		}
	}
	return count
}

// FormatTimestamp renders t in UTC as "2006-01-02 15:04:05".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.DateTime)
}
