//go:build linux && cgo

package driver

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/pkg/errors"

	"firestige.xyz/ministack/internal/core"
)

const (
	defaultRingSizeMB  = 4
	defaultPollTimeout = time.Millisecond
)

type afpacketOptions struct {
	Device       string        `mapstructure:"device"`         // required
	BufferSizeMB int           `mapstructure:"buffer_size_mb"` // optional, default 4
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`   // optional, default 1ms
}

func init() {
	Register("afpacket", openAFPacket)
}

type afpacketDriver struct {
	handle *afpacket.TPacket
	device string
	closed atomic.Bool
}

func openAFPacket(cfg Config) (Driver, error) {
	opts := afpacketOptions{
		BufferSizeMB: defaultRingSizeMB,
		PollTimeout:  defaultPollTimeout,
	}
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if opts.Device == "" {
		return nil, errors.Wrap(core.ErrConfigInvalid, "afpacket: device is required")
	}

	snapLen := frameSnapLen(cfg.MTU)
	frameSize, blockSize, numBlocks, err := ringLayout(opts.BufferSizeMB, snapLen, os.Getpagesize())
	if err != nil {
		return nil, errors.Wrap(err, "afpacket ring")
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "create TPacket on %s", opts.Device)
	}

	filter, err := assembleLinkFilter(cfg.MAC, uint32(snapLen))
	if err != nil {
		tp.Close()
		return nil, errors.Wrap(err, "assemble link filter")
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, errors.Wrapf(err, "set link filter on %s", opts.Device)
	}

	slog.Info("afpacket driver opened",
		"device", opts.Device,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks,
		"mac", cfg.MAC.String())

	return &afpacketDriver{handle: tp, device: opts.Device}, nil
}

func (d *afpacketDriver) Send(frame []byte) error {
	if d.closed.Load() {
		return core.ErrDriverClosed
	}
	if err := d.handle.WritePacketData(frame); err != nil {
		return errors.Wrapf(err, "afpacket send on %s", d.device)
	}
	return nil
}

// Recv copies the next frame out of the ring. The ring slot is released on
// the following read, so the frame must not be referenced after return.
func (d *afpacketDriver) Recv(buf []byte) (int, error) {
	if d.closed.Load() {
		return 0, core.ErrDriverClosed
	}
	data, _, err := d.handle.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "afpacket recv on %s", d.device)
	}
	return copy(buf, data), nil
}

// Close releases the ring. It must not race with Recv; the stack closes its
// driver only after the poll loop has returned.
func (d *afpacketDriver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.handle.Close()
	slog.Info("afpacket driver closed", "device", d.device)
	return nil
}
