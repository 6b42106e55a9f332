package netstack

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
	"firestige.xyz/ministack/internal/metrics"
)

const (
	arpPacketLen     = 28
	arpHWTypeEther   = 1
	arpOpRequest     = 1
	arpOpReply       = 2
	arpTableHeader   = "===ARP TABLE BEGIN==="
	arpTableFooter   = "===ARP TABLE  END ==="
	arpOpNameRequest = "request"
	arpOpNameReply   = "reply"
)

// arpPacket is an Ethernet/IPv4 ARP message.
type arpPacket struct {
	op        uint16
	senderMAC core.MAC
	senderIP  core.IPv4Addr
	targetMAC core.MAC
	targetIP  core.IPv4Addr
}

// parseARP validates p as an Ethernet/IPv4 request or reply. On failure it
// returns the discard reason.
func parseARP(p []byte) (arpPacket, string) {
	var pkt arpPacket
	if len(p) < arpPacketLen {
		return pkt, reasonTooShort
	}
	if binary.BigEndian.Uint16(p[0:2]) != arpHWTypeEther ||
		core.EtherType(binary.BigEndian.Uint16(p[2:4])) != core.EtherTypeIPv4 ||
		p[4] != core.MACLen || p[5] != core.IPv4Len {
		return pkt, reasonBadFormat
	}
	pkt.op = binary.BigEndian.Uint16(p[6:8])
	if pkt.op != arpOpRequest && pkt.op != arpOpReply {
		return pkt, reasonBadOpcode
	}
	copy(pkt.senderMAC[:], p[8:14])
	copy(pkt.senderIP[:], p[14:18])
	copy(pkt.targetMAC[:], p[18:24])
	copy(pkt.targetIP[:], p[24:28])
	return pkt, ""
}

func (a *arpPacket) marshal(p []byte) {
	binary.BigEndian.PutUint16(p[0:2], arpHWTypeEther)
	binary.BigEndian.PutUint16(p[2:4], uint16(core.EtherTypeIPv4))
	p[4] = core.MACLen
	p[5] = core.IPv4Len
	binary.BigEndian.PutUint16(p[6:8], a.op)
	copy(p[8:14], a.senderMAC[:])
	copy(p[14:18], a.senderIP[:])
	copy(p[18:24], a.targetMAC[:])
	copy(p[24:28], a.targetIP[:])
}

// arpIn learns the sender's address from every valid ARP message, flushes a
// packet waiting on that address, and answers requests for the local IP.
func (s *Stack) arpIn(b *buf.Buffer, _ core.MAC) {
	pkt, reason := parseARP(b.Bytes())
	if reason != "" {
		s.drop(layerARP, reason, "len", b.Len())
		return
	}

	s.arpTable.Set(pkt.senderIP, pkt.senderMAC)

	if pending, ok := s.arpPending.Get(pkt.senderIP); ok {
		s.arpPending.Delete(pkt.senderIP)
		s.logger.Debug("arp resolved, flushing pending packet",
			"ip", pkt.senderIP.String(), "mac", pkt.senderMAC.String(), "len", pending.Len())
		s.ethernetOut(pending, pkt.senderMAC, core.EtherTypeIPv4)
		return
	}

	if pkt.op == arpOpRequest && pkt.targetIP == s.ip {
		s.arpReply(pkt.senderIP, pkt.senderMAC)
	}
}

// arpOut delivers an IPv4 packet to dst, resolving its MAC first when needed.
// Only one packet waits per unresolved address; later ones are dropped.
func (s *Stack) arpOut(b *buf.Buffer, dst core.IPv4Addr) {
	if mac, ok := s.arpTable.Get(dst); ok {
		s.ethernetOut(b, mac, core.EtherTypeIPv4)
		return
	}
	if _, ok := s.arpPending.Get(dst); ok {
		s.drop(layerARP, reasonPendingBusy, "ip", dst.String())
		return
	}
	// b may alias the receive frame, which is reused after this poll.
	s.arpPending.Set(dst, b.Clone())
	s.arpRequest(dst)
}

func (s *Stack) arpRequest(target core.IPv4Addr) {
	s.arpSend(&arpPacket{
		op:        arpOpRequest,
		senderMAC: s.mac,
		senderIP:  s.ip,
		targetIP:  target,
	}, core.BroadcastMAC)
	metrics.ARPMessagesSentTotal.WithLabelValues(arpOpNameRequest).Inc()
}

func (s *Stack) arpReply(targetIP core.IPv4Addr, targetMAC core.MAC) {
	s.arpSend(&arpPacket{
		op:        arpOpReply,
		senderMAC: s.mac,
		senderIP:  s.ip,
		targetMAC: targetMAC,
		targetIP:  targetIP,
	}, targetMAC)
	metrics.ARPMessagesSentTotal.WithLabelValues(arpOpNameReply).Inc()
}

func (s *Stack) arpSend(pkt *arpPacket, dst core.MAC) {
	b := buf.New(arpPacketLen)
	pkt.marshal(b.Bytes())
	s.ethernetOut(b, dst, core.EtherTypeARP)
}

// onPendingEvict releases a packet whose destination never resolved.
func (s *Stack) onPendingEvict(ip core.IPv4Addr, pending *buf.Buffer) {
	metrics.ARPPendingExpiredTotal.Inc()
	s.drop(layerARP, reasonUnresolved, "ip", ip.String(), "len", pending.Len())
}

// ARPEntry is one resolved address.
type ARPEntry struct {
	IP      core.IPv4Addr
	MAC     core.MAC
	Updated time.Time
}

// ARPEntries returns the live ARP table ordered by IP.
func (s *Stack) ARPEntries() []ARPEntry {
	var entries []ARPEntry
	s.arpTable.Foreach(func(ip core.IPv4Addr, mac core.MAC, updated time.Time) {
		entries = append(entries, ARPEntry{IP: ip, MAC: mac, Updated: updated})
	})
	sort.Slice(entries, func(i, j int) bool {
		return binary.BigEndian.Uint32(entries[i].IP[:]) < binary.BigEndian.Uint32(entries[j].IP[:])
	})
	return entries
}

// WriteARPTable writes the ARP table in its diagnostic text form.
func (s *Stack) WriteARPTable(w io.Writer) error {
	if _, err := fmt.Fprintln(w, arpTableHeader); err != nil {
		return err
	}
	for _, e := range s.ARPEntries() {
		if _, err := fmt.Fprintf(w, "%s | %s | %s\n", e.IP, e.MAC, core.FormatTimestamp(e.Updated)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, arpTableFooter)
	return err
}
