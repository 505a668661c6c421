package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/web/handlers"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect stored accounts",
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Show an account's display attributes",
	Long: `Show the public view of an account: email, role, display attributes
and whether a face is enrolled. Password hashes and descriptors are never printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountsShow,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts with an enrolled face",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsShowCmd)
	accountsCmd.AddCommand(accountsListCmd)

	accountsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAccountsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading account %s: %w", args[0], err)
	}
	view := handlers.NewAccountResponse(rec)

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Email:\t%s\n", view.Email)
	fmt.Fprintf(w, "Role:\t%s\n", view.Role)
	fmt.Fprintf(w, "Enrolled:\t%v\n", view.Enrolled)
	fmt.Fprintf(w, "Created:\t%s\n", view.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, key := range slices.Sorted(maps.Keys(view.Attributes)) {
		fmt.Fprintf(w, "%s:\t%s\n", key, view.Attributes[key])
	}
	return w.Flush()
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.store.List(ctx)
	if err != nil {
		return err
	}
	total, enrolled, err := rt.store.Count(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tROLE\tCREATED")
	for _, rec := range records {
		view := handlers.NewAccountResponse(rec)
		fmt.Fprintf(w, "%s\t%s\t%s\n", view.Email, view.Role, view.CreatedAt.Format("2006-01-02"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d accounts, %d with an enrolled face\n", total, enrolled)
	return nil
}
