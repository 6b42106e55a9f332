package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/ministack/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the ministack daemon in foreground",
	Long: `Run the ministack daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Open the link driver and build the stack
  4. Serve UDP echo on the configured ports and announce its address
  5. Handle signals: SIGTERM/SIGINT stop, SIGHUP reloads logging,
     SIGUSR1 dumps the ARP table to the log`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			exitWithError("daemon failed", err)
		}
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "/var/run/ministack.pid",
		"PID file path")
}

func runDaemon() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
