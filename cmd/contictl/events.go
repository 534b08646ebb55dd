package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conti/internal/amqp"
	"conti/internal/cli"
)

func eventsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow ledger change events on the message broker",
	}
	cmd.AddCommand(tailEventsCmd(opts))
	return cmd
}

func tailEventsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Print ledger events as JSON lines until interrupted",
		Long: `Consume the configured ledger event queue and print one JSON object per
event. Consumed events are acknowledged, so run this against a dedicated
queue (AMQP_QUEUE) when another consumer owns the default one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Events == nil {
				return errors.New("ledger events are disabled: set AMQP_URL")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = app.Events.Consume(cmd.Context(), func(_ context.Context, msg *amqp.LedgerEventMessage) error {
				if err := enc.Encode(msg); err != nil {
					return fmt.Errorf("write event: %w", err)
				}
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
