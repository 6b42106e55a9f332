// Package core defines core types with zero external dependencies.
package core

// EtherType identifies the protocol carried in an Ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	default:
		return "unknown"
	}
}

// IPProtocol is the IPv4 protocol number of the transport payload.
type IPProtocol uint8

const (
	IPProtocolICMP IPProtocol = 1
	IPProtocolUDP  IPProtocol = 17
)

func (p IPProtocol) String() string {
	switch p {
	case IPProtocolICMP:
		return "icmp"
	case IPProtocolUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Wire sizes.
const (
	MACLen  = 6
	IPv4Len = 4
)
