package netstack

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
	"firestige.xyz/ministack/internal/metrics"
)

const (
	udpHeaderLen = 8

	// MaxUDPPayload is the largest payload an IPv4 UDP datagram can carry.
	MaxUDPPayload = 65535 - ipHeaderLen - udpHeaderLen
)

// UDPHandler receives datagrams for an open port. It runs on the polling
// goroutine; payload is only valid until it returns.
type UDPHandler func(payload []byte, src core.IPv4Addr, srcPort uint16)

func (s *Stack) udpIn(b *buf.Buffer, src core.IPv4Addr) {
	p := b.Bytes()
	if len(p) < udpHeaderLen {
		s.drop(layerUDP, reasonTooShort, "len", len(p))
		return
	}
	length := int(binary.BigEndian.Uint16(p[4:6]))
	if length > len(p) || length < udpHeaderLen {
		s.drop(layerUDP, reasonBadLength, "udp_len", length, "len", len(p))
		return
	}
	if length < len(p) {
		_ = b.RemovePadding(len(p) - length)
		p = b.Bytes()
	}

	if recvSum := binary.BigEndian.Uint16(p[6:8]); recvSum != 0 {
		p[6], p[7] = 0, 0
		calcSum := TransportChecksum(core.IPProtocolUDP, p, src, s.ip)
		binary.BigEndian.PutUint16(p[6:8], recvSum)
		// senders following RFC 768 transmit a computed zero as 0xffff
		if calcSum != recvSum && !(calcSum == 0 && recvSum == 0xffff) {
			s.drop(layerUDP, reasonBadChecksum, "got", recvSum, "want", calcSum)
			return
		}
	}

	srcPort := binary.BigEndian.Uint16(p[0:2])
	dstPort := binary.BigEndian.Uint16(p[2:4])
	handler, ok := s.udpPorts.Get(dstPort)
	if !ok {
		// the IP header is still in place in front of the segment
		b.AddHeader(s.rxHeaderLen)
		s.icmpUnreachable(b, src, ICMPPortUnreachable)
		return
	}

	_ = b.RemoveHeader(udpHeaderLen)
	metrics.UDPDatagramsDeliveredTotal.WithLabelValues(strconv.Itoa(int(dstPort))).Inc()
	handler(b.Bytes(), src, srcPort)
}

func (s *Stack) udpOut(b *buf.Buffer, srcPort uint16, dst core.IPv4Addr, dstPort uint16) {
	b.AddHeader(udpHeaderLen)
	h := b.Bytes()
	binary.BigEndian.PutUint16(h[0:2], srcPort)
	binary.BigEndian.PutUint16(h[2:4], dstPort)
	binary.BigEndian.PutUint16(h[4:6], uint16(len(h)))
	h[6], h[7] = 0, 0
	binary.BigEndian.PutUint16(h[6:8], TransportChecksum(core.IPProtocolUDP, h, s.ip, dst))

	s.ipOut(b, dst, core.IPProtocolUDP)
}

// UDPOpen registers handler for port, replacing any previous one.
func (s *Stack) UDPOpen(port uint16, handler UDPHandler) {
	s.udpPorts.Set(port, handler)
	metrics.TableSize.WithLabelValues(metrics.TableUDPPorts).Set(float64(s.udpPorts.Len()))
	s.logger.Debug("udp port opened", "port", port)
}

// UDPClose unregisters port.
func (s *Stack) UDPClose(port uint16) {
	s.udpPorts.Delete(port)
	metrics.TableSize.WithLabelValues(metrics.TableUDPPorts).Set(float64(s.udpPorts.Len()))
	s.logger.Debug("udp port closed", "port", port)
}

// UDPSend transmits data as one datagram. Delivery is not confirmed: the
// datagram may wait for address resolution or be dropped.
func (s *Stack) UDPSend(data []byte, srcPort uint16, dst core.IPv4Addr, dstPort uint16) error {
	if len(data) > MaxUDPPayload {
		return fmt.Errorf("%w: %d bytes exceeds %d", core.ErrPayloadTooLarge, len(data), MaxUDPPayload)
	}
	s.udpOut(buf.FromBytes(data), srcPort, dst, dstPort)
	return nil
}

// EchoHandler returns a handler that sends every datagram received on port
// back to where it came from.
func (s *Stack) EchoHandler(port uint16) UDPHandler {
	return func(payload []byte, src core.IPv4Addr, srcPort uint16) {
		if err := s.UDPSend(payload, port, src, srcPort); err != nil {
			s.logger.Warn("udp echo failed", "port", port, "peer", src.String(), "error", err)
		}
	}
}
