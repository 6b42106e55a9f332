package netstack

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/driver"
)

var (
	localIP  = core.MustParseIPv4("10.0.0.2")
	localMAC = core.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	peerIP   = core.MustParseIPv4("10.0.0.1")
	peerMAC  = core.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	otherIP  = core.MustParseIPv4("10.0.0.77")
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// testbed is a stack whose link is a pipe; the test plays the peer on the
// other end.
type testbed struct {
	t     *testing.T
	s     *Stack
	wire  *driver.PipeEnd
	clock *fakeClock
}

func newTestbed(t *testing.T, opts ...func(*Config)) *testbed {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	local, wire := driver.NewPipe(1024)
	cfg := Config{
		IP:  localIP,
		MAC: localMAC,
		MTU: 1500,
		Now: clock.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	s, err := New(local, cfg)
	require.NoError(t, err)
	return &testbed{t: t, s: s, wire: wire, clock: clock}
}

// inject delivers frame to the stack and processes it.
func (tb *testbed) inject(frame []byte) {
	tb.t.Helper()
	require.NoError(tb.t, tb.wire.Send(frame))
	require.True(tb.t, tb.s.Poll(), "stack did not pick up the frame")
}

// sent decodes every frame the stack has transmitted since the last call.
func (tb *testbed) sent() []gopacket.Packet {
	var pkts []gopacket.Packet
	for _, f := range tb.wire.Drain() {
		pkts = append(pkts, gopacket.NewPacket(f, layers.LayerTypeEthernet, gopacket.Default))
	}
	return pkts
}

// learn puts peer into the ARP table without traffic.
func (tb *testbed) learn(ip core.IPv4Addr, mac core.MAC) {
	tb.s.arpTable.Set(ip, mac)
}

func hw(m core.MAC) net.HardwareAddr { return net.HardwareAddr(m[:]) }
func ip4(a core.IPv4Addr) net.IP     { return net.IPv4(a[0], a[1], a[2], a[3]).To4() }

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	sb := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(sb, opts, ls...))
	return append([]byte(nil), sb.Bytes()...)
}

func ethLayer(src, dst core.MAC, et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: hw(src), DstMAC: hw(dst), EthernetType: et}
}

func arpLayer(op uint16, senderMAC core.MAC, senderIP core.IPv4Addr, targetMAC core.MAC, targetIP core.IPv4Addr) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   hw(senderMAC),
		SourceProtAddress: ip4(senderIP),
		DstHwAddress:      hw(targetMAC),
		DstProtAddress:    ip4(targetIP),
	}
}

func arpFrame(t *testing.T, op uint16, senderMAC core.MAC, senderIP core.IPv4Addr, targetMAC core.MAC, targetIP core.IPv4Addr) []byte {
	dst := core.BroadcastMAC
	if op == layers.ARPReply {
		dst = targetMAC
	}
	return serialize(t, ethLayer(senderMAC, dst, layers.EthernetTypeARP),
		arpLayer(op, senderMAC, senderIP, targetMAC, targetIP))
}

func ipLayer(src, dst core.IPv4Addr, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    ip4(src),
		DstIP:    ip4(dst),
	}
}

// udpFrame builds peer → local UDP with a valid checksum.
func udpFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	ip := ipLayer(peerIP, localIP, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethLayer(peerMAC, localMAC, layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

func echoRequestFrame(t *testing.T, id, seq uint16, data []byte) []byte {
	ip := ipLayer(peerIP, localIP, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	return serialize(t, ethLayer(peerMAC, localMAC, layers.EthernetTypeIPv4), ip, icmp, gopacket.Payload(data))
}

// ipHeaderOf returns the IPv4 header bytes of an Ethernet frame.
func ipHeaderOf(frame []byte) []byte {
	ihl := int(frame[ethHeaderLen]&0x0f) * 4
	return frame[ethHeaderLen : ethHeaderLen+ihl]
}

func layerOf[T gopacket.Layer](t *testing.T, p gopacket.Packet, lt gopacket.LayerType) T {
	t.Helper()
	l := p.Layer(lt)
	require.NotNil(t, l, "missing %s layer in %s", lt, p)
	v, ok := l.(T)
	require.True(t, ok)
	return v
}

// gopacket's own checksum of an IPv4 header, for comparison.
func oracleIPChecksum(t *testing.T, ip *layers.IPv4) uint16 {
	t.Helper()
	cp := *ip
	sb := gopacket.NewSerializeBuffer()
	require.NoError(t, cp.SerializeTo(sb, gopacket.SerializeOptions{ComputeChecksums: true}))
	return cp.Checksum
}

func oracleICMPChecksum(t *testing.T, icmp *layers.ICMPv4) uint16 {
	t.Helper()
	cp := *icmp
	sb := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(sb, gopacket.SerializeOptions{ComputeChecksums: true}, &cp, gopacket.Payload(icmp.Payload)))
	return cp.Checksum
}

func oracleUDPChecksum(t *testing.T, ip *layers.IPv4, udp *layers.UDP) uint16 {
	t.Helper()
	cp := *udp
	require.NoError(t, cp.SetNetworkLayerForChecksum(ip))
	sb := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(sb, gopacket.SerializeOptions{ComputeChecksums: true}, &cp, gopacket.Payload(udp.Payload)))
	return cp.Checksum
}
