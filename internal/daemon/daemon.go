// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/ministack/internal/config"
	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/driver"
	logpkg "firestige.xyz/ministack/internal/log"
	"firestige.xyz/ministack/internal/metrics"
	"firestige.xyz/ministack/internal/netstack"
)

// Version is reported at startup.
const Version = "0.1.0"

// Daemon manages the ministack process lifecycle: one link driver, one
// stack instance and the optional metrics server.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	link          driver.Driver
	stack         *netstack.Stack
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	runDone      chan error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New creates a new Daemon instance.
func New(configPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		pidFile:      pidFile,
		runDone:      make(chan error, 1),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes all components and starts the stack loop.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting ministack daemon",
		"version", Version,
		"config", d.configPath,
		"ip", d.config.Node.Addr.String(),
		"mac", d.config.Node.HWAddr.String(),
		"driver", d.config.Link.Driver,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Open the link
	if err := d.openLink(); err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}

	// 5. Build the stack and its services
	stack, err := netstack.New(d.link, netstack.Config{
		IP:                d.config.Node.Addr,
		MAC:               d.config.Node.HWAddr,
		MTU:               d.config.Link.MTU,
		ARPTimeout:        d.config.ARP.EntryTTL,
		ARPPendingTimeout: d.config.ARP.PendingTTL,
		Announce:          d.config.ARP.Announce,
	})
	if err != nil {
		return fmt.Errorf("failed to build stack: %w", err)
	}
	d.stack = stack

	for _, p := range d.config.UDP.EchoPorts {
		port := uint16(p)
		d.stack.UDPOpen(port, d.stack.EchoHandler(port))
		slog.Info("udp echo service listening", "port", port)
	}

	// 6. Announce and hand the stack to its own goroutine
	d.stack.Start()
	go func() {
		d.runDone <- d.stack.Run(d.ctx, d.config.Link.Interval)
	}()

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop the stack loop before its driver goes away
	d.cancel()
	if d.stack != nil {
		select {
		case err := <-d.runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("stack loop ended with error", "error", err)
			}
		case <-time.After(5 * time.Second):
			slog.Error("stack loop did not stop in time")
		}
	}

	// 2. Close the link
	if d.link != nil {
		if err := d.link.Close(); err != nil {
			slog.Error("error closing link", "error", err)
		}
	}

	// 3. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 4. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 5. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 6. Release the log file
	if err := logpkg.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

// Run blocks until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. the stack loop ending on its own, e.g. a closed link
//
// SIGHUP reloads the log configuration and SIGUSR1 dumps the ARP table.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGUSR1)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case unix.SIGTERM, unix.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case unix.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}

			case unix.SIGUSR1:
				d.logARPTable()
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case err := <-d.runDone:
			// Stop must not wait for a result that was already consumed
			d.runDone <- err
			slog.Error("stack loop exited", "error", err)
			d.Stop()
			return err
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format/outputs.
// Cold (requires restart): node identity, link, arp, udp, metrics.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	requiresRestart := []string{}
	if newConfig.Node.Addr != d.config.Node.Addr || newConfig.Node.HWAddr != d.config.Node.HWAddr {
		requiresRestart = append(requiresRestart, "node")
	}
	if newConfig.Link.Driver != d.config.Link.Driver || newConfig.Link.MTU != d.config.Link.MTU {
		requiresRestart = append(requiresRestart, "link")
	}
	if newConfig.ARP.EntryTTL != d.config.ARP.EntryTTL || newConfig.ARP.PendingTTL != d.config.ARP.PendingTTL {
		requiresRestart = append(requiresRestart, "arp")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	oldLog := d.config.Log
	d.config.Log = newConfig.Log
	if err := d.initLogging(); err != nil {
		d.config.Log = oldLog
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	slog.Info("configuration reloaded",
		"log_changed", newConfig.Log != oldLog,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown makes Run stop the daemon and return.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
		// already requested
	}
}

// Stack returns the running stack, nil before Start.
func (d *Daemon) Stack() *netstack.Stack {
	return d.stack
}

// WriteARPTable writes the ARP table of the running stack to w.
func (d *Daemon) WriteARPTable(ctx context.Context, w io.Writer) error {
	if d.stack == nil {
		return core.ErrStackStopped
	}
	var werr error
	if err := d.stack.Do(ctx, func(s *netstack.Stack) {
		werr = s.WriteARPTable(w)
	}); err != nil {
		return err
	}
	return werr
}

func (d *Daemon) logARPTable() {
	ctx, cancel := context.WithTimeout(d.ctx, time.Second)
	defer cancel()

	var sb strings.Builder
	if err := d.WriteARPTable(ctx, &sb); err != nil {
		slog.Error("failed to dump arp table", "error", err)
		return
	}
	sc := bufio.NewScanner(strings.NewReader(sb.String()))
	for sc.Scan() {
		slog.Info(sc.Text())
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start()
}

// openLink opens the configured driver, wrapped for frame tracing if asked.
func (d *Daemon) openLink() error {
	link, err := driver.Open(driver.Config{
		Name:    d.config.Link.Driver,
		MAC:     d.config.Node.HWAddr,
		MTU:     d.config.Link.MTU,
		Options: d.config.Link.Options,
	})
	if err != nil {
		return err
	}
	if d.config.Link.Trace {
		link = driver.Trace(link, slog.Default())
	}
	d.link = link
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
