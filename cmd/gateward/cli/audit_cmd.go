package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/store"
)

func newAuditCmd() *cobra.Command {
	var (
		identity   string
		action     string
		page       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit ledger",
		Long:  "Read the append-only history of access decisions, newest first.",
		Example: `  gateward audit
  gateward audit --identity 123456789
  gateward audit --action restricted --page 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			log := audit.New(st)
			events, info, err := log.Query(context.Background(), store.AuditFilter{
				Identity: identity,
				Action:   action,
			}, page, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}

			if len(events) == 0 {
				fmt.Println("No events.")
				return nil
			}

			for _, ev := range events {
				by := ev.HandledBy
				if by == "" {
					by = "-"
				}
				fmt.Printf("%s  %-20s %-18s by %-12s %s\n",
					ev.CreatedAt.UTC().Format(time.RFC3339), ev.Identity, ev.Action, by, ev.Details)
			}
			fmt.Printf("\nPage %d of %d (%d total)\n", info.Page, info.TotalPages, info.TotalCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Filter by identity")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (e.g. approved, restricted)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
