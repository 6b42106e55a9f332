package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ministack/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the stack.

Defaults and MINISTACK_* environment overrides are applied before
validation. With --print the effective configuration is written as YAML.

Examples:
  ministack validate -c /etc/ministack/config.yml
  MINISTACK_LINK_MTU=9000 ministack validate -c config.yml --print`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, validatePrint, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false,
		"print the effective configuration as YAML")
}

func runValidate(path string, printConfig bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "VALID: %s on %s (%s), driver %s, mtu %d, %d echo port(s)\n",
		cfg.Node.Addr, cfg.Node.HWAddr, configFileName(path),
		cfg.Link.Driver, cfg.Link.MTU, len(cfg.UDP.EchoPorts))

	if !printConfig {
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*config.GlobalConfig{"ministack": cfg}); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func configFileName(path string) string {
	if fi, err := os.Stat(path); err == nil {
		return fi.Name()
	}
	return path
}
