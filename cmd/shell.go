package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"firestige.xyz/ministack/internal/config"
	"firestige.xyz/ministack/internal/core"
	"firestige.xyz/ministack/internal/driver"
	logpkg "firestige.xyz/ministack/internal/log"
	"firestige.xyz/ministack/internal/netstack"
)

const (
	shellPrompt     = "ministack> "
	shellHistory    = ".ministack_history"
	shellCmdTimeout = 2 * time.Second
	defaultSrcPort  = 40000
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell over a running stack",
	Long: `Start a stack from the configuration file and open an interactive shell on it.

With --peer the configured link driver is not used. Instead a second stack
with the given address is started in-process and connected through a memory
pipe; it answers ARP, ICMP echo and serves UDP echo on port 7 and on the
configured echo ports.

Commands:
  arp                                show the ARP table
  send <ip> <port> <text> [src-port] send one UDP datagram
  listen <port>                      print datagrams arriving on port
  close <port>                       stop listening on port
  stats                              show table sizes
  help                               show this help
  exit                               leave the shell`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runShell(cmd.Context(), configFile, shellPeer); err != nil {
			exitWithError("shell failed", err)
		}
	},
}

var shellPeer string

func init() {
	shellCmd.Flags().StringVar(&shellPeer, "peer", "",
		"address of an in-process peer stack joined over a memory pipe")
}

// StackClient is the view of a running stack the shell works with.
type StackClient interface {
	ARPTable(ctx context.Context, w io.Writer) error
	Send(ctx context.Context, dst core.IPv4Addr, dstPort, srcPort uint16, data []byte) error
	Listen(ctx context.Context, port uint16) error
	Unlisten(ctx context.Context, port uint16) error
	Stats(ctx context.Context) (netstack.Stats, error)
}

// stackClient forwards every call onto the stack loop with Do.
type stackClient struct {
	stack *netstack.Stack
	out   io.Writer
}

func (c *stackClient) ARPTable(ctx context.Context, w io.Writer) error {
	var werr error
	if err := c.stack.Do(ctx, func(s *netstack.Stack) { werr = s.WriteARPTable(w) }); err != nil {
		return err
	}
	return werr
}

func (c *stackClient) Send(ctx context.Context, dst core.IPv4Addr, dstPort, srcPort uint16, data []byte) error {
	var serr error
	if err := c.stack.Do(ctx, func(s *netstack.Stack) { serr = s.UDPSend(data, srcPort, dst, dstPort) }); err != nil {
		return err
	}
	return serr
}

func (c *stackClient) Listen(ctx context.Context, port uint16) error {
	return c.stack.Do(ctx, func(s *netstack.Stack) {
		s.UDPOpen(port, func(payload []byte, src core.IPv4Addr, srcPort uint16) {
			fmt.Fprintf(c.out, "\n[udp %d] %s:%d %q\n", port, src, srcPort, payload)
		})
	})
}

func (c *stackClient) Unlisten(ctx context.Context, port uint16) error {
	return c.stack.Do(ctx, func(s *netstack.Stack) { s.UDPClose(port) })
}

func (c *stackClient) Stats(ctx context.Context) (netstack.Stats, error) {
	var st netstack.Stats
	err := c.stack.Do(ctx, func(s *netstack.Stack) { st = s.Stats() })
	return st, err
}

// lockedWriter serializes shell output with datagram reports written from
// the stack goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runShell(ctx context.Context, path, peer string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := logpkg.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logpkg.Close()

	out := &lockedWriter{w: os.Stdout}
	client, shutdown, err := startShellStacks(ctx, cfg, peer, out)
	if err != nil {
		return err
	}
	defer shutdown()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeShellCommand)

	historyFile := filepath.Join(os.Getenv("HOME"), shellHistory)
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(out, "ministack %s (%s)\n", cfg.Node.Addr, cfg.Node.HWAddr)
	fmt.Fprintln(out, "Type 'help' for available commands or 'exit' to quit.")

	for {
		input, err := line.Prompt(shellPrompt)
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Fprintln(out, "Use 'exit' to quit")
				continue
			}
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			break
		}
		if err := executeShellLine(ctx, client, input, out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	if f, err := os.Create(historyFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}

// startShellStacks builds the local stack, plus the in-process peer when
// peer is set, and runs them until the returned shutdown is called.
func startShellStacks(ctx context.Context, cfg *config.GlobalConfig, peer string, out io.Writer) (StackClient, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	var (
		wg      sync.WaitGroup
		drivers []driver.Driver
	)
	shutdown := func() {
		cancel()
		wg.Wait()
		for _, d := range drivers {
			d.Close()
		}
	}
	run := func(s *netstack.Stack) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Run(ctx, cfg.Link.Interval); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(out, "\nstack %s stopped: %v\n", s.IP(), err)
			}
		}()
	}

	var link driver.Driver
	if peer == "" {
		var err error
		link, err = driver.Open(driver.Config{
			Name:    cfg.Link.Driver,
			MAC:     cfg.Node.HWAddr,
			MTU:     cfg.Link.MTU,
			Options: cfg.Link.Options,
		})
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to open link: %w", err)
		}
	} else {
		peerIP, err := core.ParseIPv4(peer)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("--peer: %w", err)
		}
		local, remote := driver.NewPipe(driver.DefaultPipeDepth)
		link = local
		drivers = append(drivers, remote)

		ps, err := netstack.New(remote, netstack.Config{
			IP:                peerIP,
			MAC:               peerMAC(peerIP),
			MTU:               cfg.Link.MTU,
			ARPTimeout:        cfg.ARP.EntryTTL,
			ARPPendingTimeout: cfg.ARP.PendingTTL,
		})
		if err != nil {
			shutdown()
			return nil, nil, fmt.Errorf("failed to build peer stack: %w", err)
		}
		ps.UDPOpen(7, ps.EchoHandler(7))
		for _, p := range cfg.UDP.EchoPorts {
			ps.UDPOpen(uint16(p), ps.EchoHandler(uint16(p)))
		}
		ps.Start()
		run(ps)
	}
	if cfg.Link.Trace {
		link = driver.Trace(link, nil)
	}
	drivers = append(drivers, link)

	s, err := netstack.New(link, netstack.Config{
		IP:                cfg.Node.Addr,
		MAC:               cfg.Node.HWAddr,
		MTU:               cfg.Link.MTU,
		ARPTimeout:        cfg.ARP.EntryTTL,
		ARPPendingTimeout: cfg.ARP.PendingTTL,
		Announce:          cfg.ARP.Announce,
	})
	if err != nil {
		shutdown()
		return nil, nil, fmt.Errorf("failed to build stack: %w", err)
	}
	s.Start()
	run(s)

	return &stackClient{stack: s, out: out}, shutdown, nil
}

// peerMAC derives a locally administered MAC from an IPv4 address.
func peerMAC(ip core.IPv4Addr) core.MAC {
	return core.MAC{0x02, 0x00, ip[0], ip[1], ip[2], ip[3]}
}

// executeShellLine parses one input line and runs it against client.
func executeShellLine(ctx context.Context, client StackClient, input string, out io.Writer) error {
	args, err := splitShellLine(input)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	root := newShellRoot(ctx, client, out)
	root.SetArgs(args)
	return root.Execute()
}

func newShellRoot(ctx context.Context, client StackClient, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ministack>",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.CompletionOptions.DisableDefaultCmd = true

	withTimeout := func(run func(context.Context, []string) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			cctx, cancel := context.WithTimeout(ctx, shellCmdTimeout)
			defer cancel()
			return run(cctx, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "arp",
			Short: "show the ARP table",
			Args:  cobra.NoArgs,
			RunE: withTimeout(func(ctx context.Context, _ []string) error {
				return client.ARPTable(ctx, out)
			}),
		},
		&cobra.Command{
			Use:   "send <ip> <port> <text> [src-port]",
			Short: "send one UDP datagram",
			Args:  cobra.RangeArgs(3, 4),
			RunE: withTimeout(func(ctx context.Context, args []string) error {
				dst, err := core.ParseIPv4(args[0])
				if err != nil {
					return err
				}
				dstPort, err := parsePort(args[1])
				if err != nil {
					return err
				}
				srcPort := uint16(defaultSrcPort)
				if len(args) == 4 {
					if srcPort, err = parsePort(args[3]); err != nil {
						return err
					}
				}
				if err := client.Send(ctx, dst, dstPort, srcPort, []byte(args[2])); err != nil {
					return err
				}
				fmt.Fprintf(out, "sent %d bytes to %s:%d from port %d\n", len(args[2]), dst, dstPort, srcPort)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "listen <port>",
			Short: "print datagrams arriving on port",
			Args:  cobra.ExactArgs(1),
			RunE: withTimeout(func(ctx context.Context, args []string) error {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				if err := client.Listen(ctx, port); err != nil {
					return err
				}
				fmt.Fprintf(out, "listening on udp port %d\n", port)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "close <port>",
			Short: "stop listening on port",
			Args:  cobra.ExactArgs(1),
			RunE: withTimeout(func(ctx context.Context, args []string) error {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				return client.Unlisten(ctx, port)
			}),
		},
		&cobra.Command{
			Use:   "stats",
			Short: "show table sizes",
			Args:  cobra.NoArgs,
			RunE: withTimeout(func(ctx context.Context, _ []string) error {
				st, err := client.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "arp entries: %d\narp pending: %d\nudp ports:   %d\n",
					st.ARPEntries, st.ARPPending, st.UDPPorts)
				return nil
			}),
		},
	)
	root.SetHelpCommand(&cobra.Command{
		Use:   "help",
		Short: "show this help",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(out, "Available commands:")
			for _, c := range root.Commands() {
				if !c.Hidden {
					fmt.Fprintf(out, "  %-36s %s\n", c.Use, c.Short)
				}
			}
			fmt.Fprintf(out, "  %-36s %s\n", "exit", "leave the shell")
		},
	})
	return root
}

func completeShellCommand(line string) []string {
	var c []string
	for _, name := range []string{"arp", "send ", "listen ", "close ", "stats", "help", "exit"} {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			c = append(c, name)
		}
	}
	return c
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// splitShellLine splits input on whitespace; double quotes group words and
// are removed.
func splitShellLine(input string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		inWord  bool
	)
	for _, r := range input {
		switch {
		case r == '"':
			inQuote = !inQuote
			inWord = true
		case !inQuote && (r == ' ' || r == '\t'):
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
