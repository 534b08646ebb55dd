package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"conti/internal/backup"
	"conti/internal/cli"
)

func backupCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or restore the whole ledger",
	}
	cmd.AddCommand(exportBackupCmd(opts))
	cmd.AddCommand(importBackupCmd(opts))
	return cmd
}

func exportBackupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write a backup document to file, or to stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			doc := backup.Export(app.Book.Snapshot(), app.BackupSettings(), time.Now())

			var out io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("create backup file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := backup.Encode(out, doc); err != nil {
				return err
			}
			if len(args) == 1 {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d categories, %d transactions, %d rules to %s\n",
					len(doc.Categories), len(doc.Transactions), len(doc.RecurringRules), args[0])
			}
			return nil
		},
	}
}

func importBackupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the ledger with a backup document",
		Long: `Replace every category, transaction and recurring rule with the contents of
a backup document. Older document versions are migrated first. A document that
fails the integrity check is rejected and the ledger is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open backup file: %w", err)
			}
			defer f.Close()

			doc, err := backup.Decode(f)
			if err != nil {
				return err
			}

			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Restore(cmd.Context(), doc, app.Logger); err != nil {
				return err
			}
			txns, cats, rules := app.Book.Snapshot().Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d categories, %d transactions, %d rules (ledger version %d)\n",
				cats, txns, rules, app.Book.Snapshot().Version())
			return nil
		},
	}
}
