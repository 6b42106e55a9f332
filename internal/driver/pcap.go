package driver

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"firestige.xyz/ministack/internal/core"
)

type pcapOptions struct {
	Input  string `mapstructure:"input"`  // frames to replay; empty = no inbound traffic
	Output string `mapstructure:"output"` // file receiving transmitted frames; empty = discard
}

func init() {
	Register("pcap", openPcap)
}

// pcapDriver replays frames from a capture file and records transmitted
// frames to another. Once the input is exhausted Recv reports no frame.
type pcapDriver struct {
	mu      sync.Mutex
	in      *os.File
	reader  *pcapgo.Reader
	out     *os.File
	writer  *pcapgo.Writer
	drained bool
	closed  bool
	now     func() time.Time
}

func openPcap(cfg Config) (Driver, error) {
	var opts pcapOptions
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	return newPcapDriver(opts, frameSnapLen(cfg.MTU))
}

func newPcapDriver(opts pcapOptions, snapLen int) (*pcapDriver, error) {
	d := &pcapDriver{now: time.Now, drained: opts.Input == ""}

	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return nil, errors.Wrap(err, "open pcap input")
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "read pcap header of %s", opts.Input)
		}
		if r.LinkType() != layers.LinkTypeEthernet {
			f.Close()
			return nil, errors.Errorf("pcap input %s has link type %s, want Ethernet", opts.Input, r.LinkType())
		}
		d.in, d.reader = f, r
	}

	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			d.closeFiles()
			return nil, errors.Wrap(err, "create pcap output")
		}
		w := pcapgo.NewWriter(f)
		if err := w.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
			f.Close()
			d.closeFiles()
			return nil, errors.Wrap(err, "write pcap header")
		}
		d.out, d.writer = f, w
	}

	slog.Info("pcap driver opened", "input", opts.Input, "output", opts.Output)
	return d, nil
}

func (d *pcapDriver) Send(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return core.ErrDriverClosed
	}
	if d.writer == nil {
		return nil
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     d.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return errors.Wrap(d.writer.WritePacket(ci, frame), "pcap write")
}

func (d *pcapDriver) Recv(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, core.ErrDriverClosed
	}
	if d.drained {
		return 0, nil
	}
	data, _, err := d.reader.ReadPacketData()
	if err == io.EOF {
		d.drained = true
		slog.Debug("pcap input exhausted")
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "pcap read")
	}
	return copy(buf, data), nil
}

func (d *pcapDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.closeFiles()
}

func (d *pcapDriver) closeFiles() error {
	var err error
	if d.in != nil {
		err = d.in.Close()
	}
	if d.out != nil {
		if cerr := d.out.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "close pcap files")
}
