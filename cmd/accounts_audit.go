package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facematch"
)

var accountsAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Find accounts whose enrolled faces match each other",
	Long: fmt.Sprintf(`Index every enrolled face descriptor and report pairs of different
accounts whose faces are closer than the match threshold (%.2f).

Such pairs can pass each other's face check, so only their passwords tell
them apart.

With --index the HNSW graph is loaded from (and saved to) a file; it is
rebuilt whenever the number of enrolled accounts changed.

Examples:
  facegate accounts audit
  facegate accounts audit --index /var/lib/facegate/descriptors.hnsw --json`, facematch.MatchThreshold),
	Args: cobra.NoArgs,
	RunE: runAccountsAudit,
}

func init() {
	accountsCmd.AddCommand(accountsAuditCmd)

	accountsAuditCmd.Flags().String("index", "", "Path of a persisted HNSW index")
	accountsAuditCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAccountsAudit(cmd *cobra.Command, args []string) error {
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
	fmt.Fprintf(os.Stderr, "Auditing %d enrolled accounts\n", len(records))

	index := database.NewDescriptorIndex()
	if path := mustGetString(cmd, "index"); path != "" {
		loaded, err := index.LoadOrBuild(path, records)
		if err != nil {
			return err
		}
		if !loaded {
			if err := index.Save(path); err != nil {
				return fmt.Errorf("saving index: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Index rebuilt and saved to %s\n", path)
		}
	} else {
		index.Build(records)
	}

	bar := progressbar.NewOptions(index.Len(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Comparing faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("accounts"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	collisions, err := index.Collisions(func() { _ = bar.Add(1) })
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil && !errors.Is(err, database.ErrIndexEmpty) {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if collisions == nil {
			collisions = []database.Collision{}
		}
		return enc.Encode(collisions)
	}

	if len(collisions) == 0 {
		fmt.Println("No matching faces between different accounts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT A\tACCOUNT B\tDISTANCE")
	for _, c := range collisions {
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", c.A, c.B, c.Distance)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d matching pairs\n", len(collisions))
	return nil
}
