// Package netstack implements a user-space IPv4 stack: Ethernet, ARP,
// IPv4 with outbound fragmentation, ICMP and UDP.
//
// A Stack is single-threaded. Poll, Sweep and every exported method other
// than Run and Do must be called from one goroutine at a time; Run provides
// that goroutine and Do forwards work onto it.
package netstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/core/buf"
	"firestige.xyz/ministack/internal/core/dispatch"
	"firestige.xyz/ministack/internal/core/tmap"
	"firestige.xyz/ministack/internal/driver"
	"firestige.xyz/ministack/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultMTU               = 1500
	DefaultARPTimeout        = 5 * time.Minute
	DefaultARPPendingTimeout = time.Second
	DefaultPollInterval      = time.Millisecond

	sweepInterval = time.Second
)

// Config is the identity and tuning of one stack instance.
type Config struct {
	IP                core.IPv4Addr
	MAC               core.MAC
	MTU               int           // IP packet size limit, 0 = DefaultMTU
	ARPTimeout        time.Duration // 0 = DefaultARPTimeout
	ARPPendingTimeout time.Duration // 0 = DefaultARPPendingTimeout
	Announce          bool          // gratuitous ARP on Start

	Logger *slog.Logger     // nil = slog.Default()
	Now    func() time.Time // nil = time.Now
}

func (c *Config) applyDefaults() error {
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.MTU < 68 {
		return fmt.Errorf("%w: mtu %d below IPv4 minimum 68", core.ErrConfigInvalid, c.MTU)
	}
	if c.ARPTimeout == 0 {
		c.ARPTimeout = DefaultARPTimeout
	}
	if c.ARPPendingTimeout == 0 {
		c.ARPPendingTimeout = DefaultARPPendingTimeout
	}
	if c.ARPTimeout < 0 || c.ARPPendingTimeout < 0 {
		return fmt.Errorf("%w: negative arp timeout", core.ErrConfigInvalid)
	}
	if c.IP == (core.IPv4Addr{}) {
		return fmt.Errorf("%w: local ip is unset", core.ErrConfigInvalid)
	}
	if c.MAC == (core.MAC{}) || c.MAC.IsBroadcast() {
		return fmt.Errorf("%w: local mac %s is not a unicast address", core.ErrConfigInvalid, c.MAC)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Stack is one interface's protocol state.
type Stack struct {
	drv      driver.Driver
	ip       core.IPv4Addr
	mac      core.MAC
	mtu      int
	announce bool
	logger   *slog.Logger
	now      func() time.Time

	arpTable   *tmap.Map[core.IPv4Addr, core.MAC]
	arpPending *tmap.Map[core.IPv4Addr, *buf.Buffer]
	udpPorts   *tmap.Map[uint16, UDPHandler]

	etherTypes  *dispatch.Registry[core.EtherType, core.MAC]
	ipProtocols *dispatch.Registry[core.IPProtocol, core.IPv4Addr]

	rxPool *buf.Pool

	// header length of the inbound IP packet being processed
	rxHeaderLen int
	fragID      uint16

	jobs      chan job
	stopped   chan struct{}
	stopOnce  sync.Once
	lastSweep time.Time
}

type job struct {
	fn   func(*Stack)
	done chan struct{}
}

// New builds a stack on drv. It transmits nothing until Start.
func New(drv driver.Driver, cfg Config) (*Stack, error) {
	if drv == nil {
		return nil, fmt.Errorf("%w: nil driver", core.ErrConfigInvalid)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	s := &Stack{
		drv:      drv,
		ip:       cfg.IP,
		mac:      cfg.MAC,
		mtu:      cfg.MTU,
		announce: cfg.Announce,
		logger:   cfg.Logger.With("component", "netstack", "ip", cfg.IP.String()),
		now:      cfg.Now,
		jobs:     make(chan job),
		stopped:  make(chan struct{}),
	}

	s.arpTable = tmap.New(tmap.Options[core.IPv4Addr, core.MAC]{
		TTL:      cfg.ARPTimeout,
		Capacity: 16,
		Now:      cfg.Now,
	})
	s.arpPending = tmap.New(tmap.Options[core.IPv4Addr, *buf.Buffer]{
		TTL:      cfg.ARPPendingTimeout,
		Capacity: 16,
		OnEvict:  s.onPendingEvict,
		Now:      cfg.Now,
	})
	s.udpPorts = tmap.New(tmap.Options[uint16, UDPHandler]{
		Capacity: 8,
		Now:      cfg.Now,
	})

	s.etherTypes = dispatch.NewRegistry[core.EtherType, core.MAC]()
	s.etherTypes.Register(core.EtherTypeARP, s.arpIn)
	s.etherTypes.Register(core.EtherTypeIPv4, s.ipIn)

	s.ipProtocols = dispatch.NewRegistry[core.IPProtocol, core.IPv4Addr]()
	s.ipProtocols.Register(core.IPProtocolICMP, s.icmpIn)
	s.ipProtocols.Register(core.IPProtocolUDP, s.udpIn)

	// one frame of MTU plus link header, behind room for replies to grow into
	s.rxPool = buf.NewPool(buf.DefaultHeadroom + cfg.MTU + ethHeaderLen)

	return s, nil
}

// IP returns the local address.
func (s *Stack) IP() core.IPv4Addr { return s.ip }

// MAC returns the local hardware address.
func (s *Stack) MAC() core.MAC { return s.mac }

// Start announces the local address when configured to.
func (s *Stack) Start() {
	s.lastSweep = s.now()
	s.logger.Info("stack started", "mac", s.mac.String(), "mtu", s.mtu, "announce", s.announce)
	if s.announce {
		s.arpRequest(s.ip)
	}
}

// Sweep evicts expired ARP table and pending entries and refreshes the
// table size gauges.
func (s *Stack) Sweep() {
	expired := s.arpTable.Sweep()
	released := s.arpPending.Sweep()
	if expired > 0 || released > 0 {
		s.logger.Debug("arp sweep", "expired", expired, "released", released)
	}
	metrics.TableSize.WithLabelValues(metrics.TableARP).Set(float64(s.arpTable.Len()))
	metrics.TableSize.WithLabelValues(metrics.TableARPPending).Set(float64(s.arpPending.Len()))
	metrics.TableSize.WithLabelValues(metrics.TableUDPPorts).Set(float64(s.udpPorts.Len()))
}

// Stats is a snapshot of table sizes.
type Stats struct {
	ARPEntries int
	ARPPending int
	UDPPorts   int
}

// Stats returns the current table sizes.
func (s *Stack) Stats() Stats {
	return Stats{
		ARPEntries: s.arpTable.Len(),
		ARPPending: s.arpPending.Len(),
		UDPPorts:   s.udpPorts.Len(),
	}
}

// Run drives the stack until ctx is done or the driver is closed: it runs
// jobs queued by Do, polls one frame per iteration, sweeps expired entries
// once a second and sleeps for interval when there was nothing to do.
func (s *Stack) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	defer s.stopOnce.Do(func() { close(s.stopped) })

	if s.lastSweep.IsZero() {
		s.lastSweep = s.now()
	}
	idle := time.NewTimer(interval)
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		busy := s.runJobs()
		polled, err := s.poll()
		if errors.Is(err, core.ErrDriverClosed) {
			return fmt.Errorf("%w: %v", core.ErrStackStopped, err)
		}
		busy = busy || polled

		if now := s.now(); now.Sub(s.lastSweep) >= sweepInterval {
			s.Sweep()
			s.lastSweep = now
		}

		if busy {
			continue
		}
		idle.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-s.jobs:
			j.run(s)
		case <-idle.C:
		}
	}
}

func (s *Stack) runJobs() bool {
	ran := false
	for {
		select {
		case j := <-s.jobs:
			j.run(s)
			ran = true
		default:
			return ran
		}
	}
}

func (j job) run(s *Stack) {
	defer close(j.done)
	j.fn(s)
}

// Do runs fn on the goroutine executing Run and waits for it to finish.
func (s *Stack) Do(ctx context.Context, fn func(*Stack)) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case s.jobs <- j:
	case <-s.stopped:
		return core.ErrStackStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard reasons, used as metric labels.
const (
	layerEthernet = "ethernet"
	layerARP      = "arp"
	layerIP       = "ip"
	layerICMP     = "icmp"
	layerUDP      = "udp"

	reasonTooShort        = "too_short"
	reasonUnknownProtocol = "unknown_protocol"
	reasonBadFormat       = "bad_format"
	reasonBadOpcode       = "bad_opcode"
	reasonPendingBusy     = "pending_busy"
	reasonUnresolved      = "unresolved"
	reasonBadVersion      = "bad_version"
	reasonBadHeaderLen    = "bad_header_len"
	reasonBadLength       = "bad_length"
	reasonBadChecksum     = "bad_checksum"
	reasonNotForUs        = "not_for_us"
)

func (s *Stack) drop(layer, reason string, attrs ...any) {
	metrics.DropsTotal.WithLabelValues(layer, reason).Inc()
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("packet discarded", append([]any{"layer", layer, "reason", reason}, attrs...)...)
	}
}
