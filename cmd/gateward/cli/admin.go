package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/telemetry"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin identities",
		Long:  "Bootstrap the super admin and list the administrative identities of the registry.",
	}

	cmd.AddCommand(newAdminBootstrapCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// openRegistry wires a registry over the local store for CLI use. CLI
// invocations notify nobody; events still land in the audit ledger.
func openRegistry() (*registry.Registry, func(), error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	reg := registry.New(st, &notify.LogNotifier{Logger: logger}, telemetry.New(), logger)
	return reg, func() { st.Close() }, nil
}

// ---------- admin bootstrap ----------

func newAdminBootstrapCmd() *cobra.Command {
	var (
		identity string
		label    string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the designated super admin",
		Long:  "Create the one super admin identity. Runs once per registry; the super admin can never be demoted.",
		Example: `  gateward admin bootstrap --identity 123456789 --label "Alice"
  gateward admin bootstrap --identity ops@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminBootstrap(identity, label)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Super admin identity (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	cmd.MarkFlagRequired("identity")

	return cmd
}

func runAdminBootstrap(identity, label string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	m, err := reg.BootstrapSuperAdmin(context.Background(), identity, label)
	if err != nil {
		return fmt.Errorf("bootstrap super admin: %w", err)
	}

	fmt.Printf("Created super admin %q\n", m.Identity)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	var admins []model.Member
	for page := 1; ; page++ {
		members, info, err := reg.ListByRole(context.Background(), model.RoleAdmin, page, 100)
		if err != nil {
			return fmt.Errorf("list admins: %w", err)
		}
		admins = append(admins, members...)
		if page >= info.TotalPages {
			break
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(admins)
	}

	if len(admins) == 0 {
		fmt.Println("No admin identities. Use 'gateward admin bootstrap' to create the super admin.")
		return nil
	}

	fmt.Printf("%-24s %-24s %-6s\n", "IDENTITY", "LABEL", "SUPER")
	fmt.Printf("%-24s %-24s %-6s\n", "--------", "-----", "-----")
	for _, a := range admins {
		super := ""
		if a.IsSuperAdmin {
			super = "yes"
		}
		fmt.Printf("%-24s %-24s %-6s\n", a.Identity, a.Label, super)
	}

	return nil
}
