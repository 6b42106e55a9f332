package netstack

import (
	"encoding/binary"
	"strconv"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
	"firestige.xyz/ministack/internal/metrics"
)

const (
	icmpHeaderLen       = 8
	icmpTypeEchoReply   = 0
	icmpTypeUnreachable = 3
	icmpTypeEchoRequest = 8

	// bytes of the offending datagram's payload quoted in an error
	icmpQuoteLen = 8
)

// ICMPCode is a destination-unreachable code.
type ICMPCode uint8

const (
	ICMPNetworkUnreachable  ICMPCode = 0
	ICMPHostUnreachable     ICMPCode = 1
	ICMPProtocolUnreachable ICMPCode = 2
	ICMPPortUnreachable     ICMPCode = 3
)

func (s *Stack) icmpIn(b *buf.Buffer, src core.IPv4Addr) {
	p := b.Bytes()
	if len(p) < icmpHeaderLen {
		s.drop(layerICMP, reasonTooShort, "len", len(p))
		return
	}
	if Checksum16(p) != 0 {
		s.drop(layerICMP, reasonBadChecksum, "src", src.String())
		return
	}
	if p[0] == icmpTypeEchoRequest {
		s.icmpEchoReply(b, src)
	}
}

// icmpEchoReply answers with a copy of the request in which only the type
// and checksum differ.
func (s *Stack) icmpEchoReply(req *buf.Buffer, dst core.IPv4Addr) {
	reply := req.Clone()
	p := reply.Bytes()
	p[0] = icmpTypeEchoReply
	p[2], p[3] = 0, 0
	binary.BigEndian.PutUint16(p[2:4], Checksum16(p))

	s.ipOut(reply, dst, core.IPProtocolICMP)
	metrics.ICMPMessagesSentTotal.WithLabelValues(strconv.Itoa(icmpTypeEchoReply), "0").Inc()
}

// icmpUnreachable reports orig, which starts at its IP header, as
// undeliverable to dst. The error quotes the original header and up to the
// first 8 bytes of its payload.
func (s *Stack) icmpUnreachable(orig *buf.Buffer, dst core.IPv4Addr, code ICMPCode) {
	p := orig.Bytes()
	if len(p) == 0 {
		return
	}
	hdrLen := min(int(p[0]&0x0f)*4, len(p))
	quote := min(hdrLen+icmpQuoteLen, len(p))

	msg := buf.New(icmpHeaderLen + quote)
	m := msg.Bytes()
	m[0] = icmpTypeUnreachable
	m[1] = byte(code)
	copy(m[icmpHeaderLen:], p[:quote])
	binary.BigEndian.PutUint16(m[2:4], Checksum16(m))

	s.logger.Debug("sending icmp unreachable", "dst", dst.String(), "code", code)
	s.ipOut(msg, dst, core.IPProtocolICMP)
	metrics.ICMPMessagesSentTotal.WithLabelValues(strconv.Itoa(icmpTypeUnreachable), strconv.Itoa(int(code))).Inc()
}
