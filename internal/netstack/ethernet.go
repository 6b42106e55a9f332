package netstack

import (
	"encoding/binary"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
	"firestige.xyz/ministack/internal/metrics"
)

const (
	ethHeaderLen  = 14
	ethMinPayload = 46
)

func (s *Stack) ethernetIn(b *buf.Buffer) {
	if b.Len() < ethHeaderLen {
		s.drop(layerEthernet, reasonTooShort, "len", b.Len())
		return
	}
	hdr := b.Bytes()
	var src core.MAC
	copy(src[:], hdr[6:12])
	proto := core.EtherType(binary.BigEndian.Uint16(hdr[12:14]))

	_ = b.RemoveHeader(ethHeaderLen)
	if err := s.etherTypes.Dispatch(b, proto, src); err != nil {
		s.drop(layerEthernet, reasonUnknownProtocol, "ethertype", uint16(proto))
	}
}

func (s *Stack) ethernetOut(b *buf.Buffer, dst core.MAC, proto core.EtherType) {
	if b.Len() < ethMinPayload {
		b.AddPadding(ethMinPayload - b.Len())
	}
	b.AddHeader(ethHeaderLen)
	hdr := b.Bytes()
	copy(hdr[0:6], dst[:])
	copy(hdr[6:12], s.mac[:])
	binary.BigEndian.PutUint16(hdr[12:14], uint16(proto))

	if err := s.drv.Send(b.Bytes()); err != nil {
		metrics.DriverErrorsTotal.WithLabelValues("send").Inc()
		s.logger.Warn("link send failed", "dst_mac", dst.String(), "ethertype", proto.String(), "error", err)
		return
	}
	metrics.FramesSentTotal.Inc()
}

// Poll reads at most one frame from the driver and processes it through
// every layer it reaches. It reports whether a frame was processed.
func (s *Stack) Poll() bool {
	ok, _ := s.poll()
	return ok
}

func (s *Stack) poll() (bool, error) {
	frame := s.rxPool.Get()
	defer s.rxPool.Put(frame)

	n, err := s.drv.Recv(frame[buf.DefaultHeadroom:])
	if err != nil {
		metrics.DriverErrorsTotal.WithLabelValues("recv").Inc()
		s.logger.Warn("link receive failed", "error", err)
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	metrics.FramesReceivedTotal.Inc()
	s.ethernetIn(buf.Window(frame, buf.DefaultHeadroom, buf.DefaultHeadroom+n))
	return true, nil
}
