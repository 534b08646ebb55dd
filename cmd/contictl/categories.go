package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conti/internal/cli"
	"conti/internal/ledger"
)

func categoriesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Inspect categories and reference integrity",
	}
	cmd.AddCommand(listCategoriesCmd(opts))
	cmd.AddCommand(checkCategoriesCmd(opts))
	return cmd
}

func listCategoriesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories with their subcategories and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			snap := app.Book.Snapshot()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "ID\tNAME\tKIND\tTRANSACTIONS\tSUBCATEGORIES")
			for _, cat := range snap.Categories() {
				subs := make([]string, 0, len(cat.Subcategories))
				for _, s := range cat.Subcategories {
					subs = append(subs, s.Name)
				}
				name := cat.Name
				if cat.IsSystemDefined {
					name += " (system)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					cat.ID, name, cat.Kind, len(snap.TransactionsByCategory(cat.ID)), strings.Join(subs, ", "))
			}
			return nil
		},
	}
}

func checkCategoriesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify every transaction and rule points at a valid category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), cmd, opts, cli.WithoutDefaults())
			if err != nil {
				return err
			}
			defer app.Close()

			violations := ledger.CheckIntegrity(app.Book.Snapshot())
			for _, v := range violations {
				fmt.Fprintln(cmd.OutOrStdout(), v.String())
			}
			if len(violations) > 0 {
				return fmt.Errorf("%d integrity violations", len(violations))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger is consistent")
			return nil
		},
	}
}
