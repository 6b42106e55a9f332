package netstack

import (
	"encoding/binary"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
	"firestige.xyz/ministack/internal/metrics"
)

const (
	ipHeaderLen         = 20
	ipVersion           = 4
	ipDefaultTTL        = 64
	ipFlagMoreFragments = 0x2000
	ipOffsetMask        = 0x1fff
)

// ipIn validates an inbound IPv4 packet and hands its payload to the
// transport handler. Fragments are not reassembled; each one is delivered
// as if it were a whole datagram.
func (s *Stack) ipIn(b *buf.Buffer, _ core.MAC) {
	p := b.Bytes()
	if len(p) < ipHeaderLen {
		s.drop(layerIP, reasonTooShort, "len", len(p))
		return
	}
	if p[0]>>4 != ipVersion {
		s.drop(layerIP, reasonBadVersion, "version", p[0]>>4)
		return
	}
	hdrLen := int(p[0]&0x0f) * 4
	if hdrLen < ipHeaderLen || hdrLen > len(p) {
		s.drop(layerIP, reasonBadHeaderLen, "header_len", hdrLen)
		return
	}
	total := int(binary.BigEndian.Uint16(p[2:4]))
	if total > len(p) || total < hdrLen {
		s.drop(layerIP, reasonBadLength, "total_len", total, "len", len(p))
		return
	}

	recvSum := binary.BigEndian.Uint16(p[10:12])
	p[10], p[11] = 0, 0
	calcSum := Checksum16(p[:hdrLen])
	binary.BigEndian.PutUint16(p[10:12], recvSum)
	if calcSum != recvSum {
		s.drop(layerIP, reasonBadChecksum, "got", recvSum, "want", calcSum)
		return
	}

	var src, dst core.IPv4Addr
	copy(src[:], p[12:16])
	copy(dst[:], p[16:20])
	if dst != s.ip {
		s.drop(layerIP, reasonNotForUs, "dst", dst.String())
		return
	}

	if frag := binary.BigEndian.Uint16(p[6:8]); frag&(ipFlagMoreFragments|ipOffsetMask) != 0 {
		metrics.IPFragmentsReceivedTotal.Inc()
		s.logger.Debug("fragment delivered without reassembly",
			"src", src.String(), "id", binary.BigEndian.Uint16(p[4:6]),
			"offset", int(frag&ipOffsetMask)*8, "more", frag&ipFlagMoreFragments != 0)
	}

	if len(p) > total {
		_ = b.RemovePadding(len(p) - total)
	}
	proto := core.IPProtocol(p[9])

	_ = b.RemoveHeader(hdrLen)
	s.rxHeaderLen = hdrLen
	if err := s.ipProtocols.Dispatch(b, proto, src); err != nil {
		b.AddHeader(hdrLen)
		s.icmpUnreachable(b, src, ICMPProtocolUnreachable)
	}
}

// ipOut sends payload to dst, splitting it into fragments when it exceeds
// the link MTU. All fragments of one datagram share a fresh ID.
func (s *Stack) ipOut(b *buf.Buffer, dst core.IPv4Addr, proto core.IPProtocol) {
	maxPayload := s.mtu - ipHeaderLen
	if b.Len() <= maxPayload {
		s.ipFragmentOut(b, dst, proto, 0, 0, false)
		return
	}

	id := s.fragID
	s.fragID++

	payload := b.Bytes()
	fragLen := maxPayload &^ 7
	for off := 0; off < len(payload); off += fragLen {
		end := min(off+fragLen, len(payload))
		frag := buf.FromBytes(payload[off:end])
		s.ipFragmentOut(frag, dst, proto, id, off, end < len(payload))
		metrics.IPFragmentsSentTotal.Inc()
	}
}

// ipFragmentOut prepends a complete IPv4 header and passes the packet to ARP.
// offset is in bytes and must be a multiple of 8.
func (s *Stack) ipFragmentOut(b *buf.Buffer, dst core.IPv4Addr, proto core.IPProtocol, id uint16, offset int, more bool) {
	b.AddHeader(ipHeaderLen)
	h := b.Bytes()

	flags := uint16(offset/8) & ipOffsetMask
	if more {
		flags |= ipFlagMoreFragments
	}
	h[0] = ipVersion<<4 | ipHeaderLen/4
	h[1] = 0
	binary.BigEndian.PutUint16(h[2:4], uint16(len(h)))
	binary.BigEndian.PutUint16(h[4:6], id)
	binary.BigEndian.PutUint16(h[6:8], flags)
	h[8] = ipDefaultTTL
	h[9] = byte(proto)
	h[10], h[11] = 0, 0
	copy(h[12:16], s.ip[:])
	copy(h[16:20], dst[:])
	binary.BigEndian.PutUint16(h[10:12], Checksum16(h[:ipHeaderLen]))

	s.arpOut(b, dst)
}
