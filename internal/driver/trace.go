package driver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type traceDriver struct {
	Driver
	logger *slog.Logger
}

// Trace wraps d so that every frame it moves is decoded and logged at debug
// level. Decoding is skipped entirely when debug logging is off.
func Trace(d Driver, logger *slog.Logger) Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &traceDriver{Driver: d, logger: logger.With("component", "link")}
}

func (t *traceDriver) Send(frame []byte) error {
	err := t.Driver.Send(frame)
	t.log("tx", frame, err)
	return err
}

func (t *traceDriver) Recv(buf []byte) (int, error) {
	n, err := t.Driver.Recv(buf)
	if n > 0 || err != nil {
		t.log("rx", buf[:n], err)
	}
	return n, err
}

func (t *traceDriver) log(dir string, frame []byte, err error) {
	if !t.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := append([]any{"dir", dir, "len", len(frame)}, describeFrame(frame)...)
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	t.logger.Debug("frame", attrs...)
}

// describeFrame summarizes the layers of an Ethernet frame as log attributes.
func describeFrame(frame []byte) []any {
	if len(frame) == 0 {
		return nil
	}
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	names := make([]string, 0, 4)
	for _, l := range pkt.Layers() {
		names = append(names, l.LayerType().String())
	}
	attrs := []any{"layers", strings.Join(names, "/")}

	if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		attrs = append(attrs, "src_mac", eth.SrcMAC.String(), "dst_mac", eth.DstMAC.String())
	}
	if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		attrs = append(attrs, "arp_op", arp.Operation)
	}
	if ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		attrs = append(attrs, "src_ip", ip.SrcIP.String(), "dst_ip", ip.DstIP.String(), "proto", ip.Protocol.String())
	}
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		attrs = append(attrs, "decode_error", errLayer.Error())
	}
	return attrs
}
