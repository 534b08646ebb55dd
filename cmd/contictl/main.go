package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"conti/internal/cli"
	"conti/internal/log"
)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "contictl",
		Short: "Administer a conti ledger",
		Long: `contictl works directly on the ledger configured for the conti server:
backups, recurring rules and category integrity.

Configuration comes from the environment (and .env), optionally layered over
a config file given with --config.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(backupCmd(opts))
	cmd.AddCommand(recurringCmd(opts))
	cmd.AddCommand(categoriesCmd(opts))
	cmd.AddCommand(eventsCmd(opts))
	return cmd
}

func main() {
	cli.LoadEnvFile()

	ctx, cancel := cli.ShutdownContext(log.Discard())
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp loads configuration and opens the ledger for one command. Logs go to
// stderr so command output on stdout stays machine readable.
func openApp(ctx context.Context, cmd *cobra.Command, opts *options, openOpts ...cli.OpenOption) (*cli.App, error) {
	cfg, err := cli.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		if _, err := log.ParseLevel(opts.logLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = opts.logLevel
	}
	logger := cli.SetupLoggerTo(cfg, cmd.ErrOrStderr()).WithComponent(log.ComponentCLI)
	return cli.Open(ctx, cfg, logger, openOpts...)
}
