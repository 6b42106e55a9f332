package netstack

import (
	"encoding/binary"

	"firestige.xyz/ministack/internal/core"
)

// pseudoHeaderLen is source IP, destination IP, zero, protocol and length.
const pseudoHeaderLen = 12

// Checksum16 computes the RFC 1071 Internet checksum of data.
func Checksum16(data []byte) uint16 {
	return ^fold(sum16(data, 0))
}

// TransportChecksum computes the checksum of a UDP/TCP style segment
// prefixed by the IPv4 pseudo-header. segment is read but never modified;
// an odd trailing byte is summed as if padded with a zero.
func TransportChecksum(proto core.IPProtocol, segment []byte, src, dst core.IPv4Addr) uint16 {
	var ph [pseudoHeaderLen]byte
	copy(ph[0:4], src[:])
	copy(ph[4:8], dst[:])
	ph[9] = byte(proto)
	binary.BigEndian.PutUint16(ph[10:12], uint16(len(segment)))

	acc := sum16(ph[:], 0)
	acc = sum16(segment, acc)
	return ^fold(acc)
}

// sum16 adds data to acc as big-endian 16-bit words. A 32-bit accumulator
// holds the carries of any IPv4 datagram without loss.
func sum16(data []byte, acc uint32) uint32 {
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		acc += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if n%2 == 1 {
		acc += uint32(data[n-1]) << 8
	}
	return acc
}

func fold(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = acc&0xffff + acc>>16
	}
	return uint16(acc)
}
