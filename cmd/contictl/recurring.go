package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conti/internal/cli"
	"conti/internal/core"
)

func recurringCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Inspect and run recurring rules",
	}
	cmd.AddCommand(evaluateCmd(opts))
	cmd.AddCommand(dueCmd(opts))
	cmd.AddCommand(upcomingCmd(opts))
	return cmd
}

func evaluateCmd(opts *options) *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Materialize every due auto-pay occurrence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			day, err := todayFlag(app, today)
			if err != nil {
				return err
			}
			if now := app.Book.Today(); day.After(now) {
				return fmt.Errorf("invalid --today %s: cannot evaluate after %s", day, now)
			}
			result, evalErr := app.Scheduler.Evaluate(cmd.Context(), day)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "materialized %d transactions\n", len(result.Materialized))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, t := range result.Materialized {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Date, t.ID, t.Description, t.Amount)
			}
			w.Flush()
			if len(result.AwaitingApproval) > 0 {
				fmt.Fprintf(out, "%d rules await approval\n", len(result.AwaitingApproval))
			}
			return evalErr
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "evaluate as of this day (YYYY-MM-DD)")
	return cmd
}

func dueCmd(opts *options) *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List manual rules due or overdue for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			day, err := todayFlag(app, today)
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), app.Scheduler.DueForApproval(day))
			return nil
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "list as of this day (YYYY-MM-DD)")
	return cmd
}

func upcomingCmd(opts *options) *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List auto-pay rules falling due within the upcoming window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			day, err := todayFlag(app, today)
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), app.Scheduler.UpcomingAuto(day))
			return nil
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "list as of this day (YYYY-MM-DD)")
	return cmd
}

func todayFlag(app *cli.App, value string) (core.Date, error) {
	if value == "" {
		return app.Book.Today(), nil
	}
	d, err := core.ParseDate(value)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid --today %q: expected YYYY-MM-DD", value)
	}
	return d, nil
}

func printRules(out io.Writer, rules []core.RecurringRule) {
	if len(rules) == 0 {
		fmt.Fprintln(out, "no rules")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "DUE\tID\tDESCRIPTION\tAMOUNT\tFREQUENCY\tAUTOPAY")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", r.NextDueDate, r.ID, r.Description, r.Amount, r.Frequency, r.AutoPay)
	}
}
