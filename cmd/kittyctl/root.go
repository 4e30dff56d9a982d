package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds the state shared by the commands of one invocation.
type cli struct {
	configDir string
	jsonOut   bool

	cfg *viper.Viper
}

// newRootCmd assembles the kittyctl command tree.
func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "kittyctl",
		Short:         "kittyctl operates a kitty ledger",
		Long:          `kittyctl mints, breeds, trades and inspects kitties held in a persistent ledger, and serves the ledger over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, c.configDir)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configDir, "config-dir", ".", "directory holding kittyctl.yaml")
	flags.BoolVar(&c.jsonOut, "json", false, "output as JSON")
	flags.String("as", "", "calling account (config key: account)")
	flags.Uint64("stake", 0, "amount reserved per kitty (config key: stake)")
	flags.String("balances-file", "", "YAML balances file (config key: balances_file)")
	flags.String("seed", "", "hex randomness seed, 32 bytes (config key: seed)")
	flags.String("log-level", "", "debug, info, warn or error (config key: log.level)")
	flags.String("log-format", "", "text or json (config key: log.format)")
	flags.String("audit-log", "", "append audit entries as JSON lines to this file (config key: audit_log)")
	flags.String("trace-file", "", "append transition spans as JSON lines to this file (config key: trace_file)")
	flags.String("events-log", "", "append ledger events as JSON lines to this file (config key: events_log)")

	root.AddCommand(
		c.createCmd(),
		c.breedCmd(),
		c.transferCmd(),
		c.sellCmd(),
		c.buyCmd(),
		c.showCmd(),
		c.kittiesCmd(),
		c.balanceCmd(),
		c.depositCmd(),
		c.exportCmd(),
		c.restoreCmd(),
		c.serveCmd(),
	)
	return root
}

// caller returns the configured calling account.
func (c *cli) caller() (string, error) {
	account := c.cfg.GetString(cfgKeyAccount)
	if account == "" {
		return "", fmt.Errorf("no calling account: pass --as or set %s_ACCOUNT", envPrefix)
	}
	return account, nil
}
