package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/backup"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and import registry snapshots",
		Long:  "Export the membership sets to a YAML snapshot, or restore one into a fresh deployment. Quota counters and the audit ledger stay put.",
	}

	cmd.AddCommand(newBackupExportCmd())
	cmd.AddCommand(newBackupImportCmd())

	return cmd
}

// ---------- backup export ----------

func newBackupExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a YAML snapshot of all membership sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			snap, err := backup.Export(context.Background(), st)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if out == "" {
				return backup.Write(cmd.OutOrStdout(), snap)
			}
			if err := backup.WriteFile(out, snap); err != nil {
				return err
			}
			fmt.Printf("Exported %d entries to %s\n", len(snap.Members), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")

	return cmd
}

// ---------- backup import ----------

func newBackupImportCmd() *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore a YAML snapshot into the registry",
		Long:  "Restore a snapshot. Existing identities are skipped, never overwritten, so re-running an import is safe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			snap, err := backup.ReadFile(in)
			if err != nil {
				return err
			}

			res, err := backup.Import(context.Background(), st, snap)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			fmt.Printf("Imported %d entries (%d already present, skipped)\n", res.Created, res.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "Snapshot file to import (required)")
	cmd.MarkFlagRequired("in")

	return cmd
}
