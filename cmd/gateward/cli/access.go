package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/model"
)

// cliAdmin is the acting-admin name recorded for transitions performed from
// the command line.
const cliAdmin = "cli"

func newAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Inspect and change access roles",
		Long:  "Classify identities, list membership sets, and perform role transitions directly against the local store.",
	}

	cmd.AddCommand(newAccessShowCmd())
	cmd.AddCommand(newAccessListCmd())
	cmd.AddCommand(newAccessApproveCmd())
	cmd.AddCommand(newAccessRejectCmd())
	cmd.AddCommand(newAccessPromoteCmd())
	cmd.AddCommand(newAccessDemoteCmd())
	cmd.AddCommand(newAccessRestrictCmd())
	cmd.AddCommand(newAccessUnrestrictCmd())
	cmd.AddCommand(newAccessSetExpirationCmd())

	return cmd
}

// ---------- access show ----------

func newAccessShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <identity>",
		Short: "Show an identity's current role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			role, err := reg.Classify(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", args[0], role)
			return nil
		},
	}
	return cmd
}

// ---------- access list ----------

func newAccessListCmd() *cobra.Command {
	var (
		page       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:       "list <role>",
		Short:     "List identities holding a role",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"pending", "whitelisted", "admin", "blacklisted"},
		Example: `  gateward access list pending
  gateward access list whitelisted --page 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := model.Role(args[0])
			if !role.Valid() || role == model.RoleUnknown {
				return fmt.Errorf("unknown role %q", args[0])
			}

			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			members, info, err := reg.ListByRole(context.Background(), role, page, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(members)
			}

			if len(members) == 0 {
				fmt.Printf("No %s identities on page %d.\n", role, info.Page)
				return nil
			}

			fmt.Printf("%-24s %-24s %-25s\n", "IDENTITY", "LABEL", "EXPIRES/ENDS")
			fmt.Printf("%-24s %-24s %-25s\n", "--------", "-----", "------------")
			for _, m := range members {
				until := ""
				if m.ExpiresAt != nil {
					until = m.ExpiresAt.UTC().Format(time.RFC3339)
				} else if m.RestrictionEnd != nil {
					until = m.RestrictionEnd.UTC().Format(time.RFC3339)
				}
				fmt.Printf("%-24s %-24s %-25s\n", m.Identity, m.Label, until)
			}
			fmt.Printf("\nPage %d of %d (%d total)\n", info.Page, info.TotalPages, info.TotalCount)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- access approve ----------

func newAccessApproveCmd() *cobra.Command {
	var expiresIn time.Duration

	cmd := &cobra.Command{
		Use:   "approve <identity>",
		Short: "Approve a pending access request",
		Example: `  gateward access approve 123456789
  gateward access approve 123456789 --expires-in 720h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().UTC().Add(expiresIn)
				expiresAt = &t
			}

			m, err := reg.Approve(context.Background(), args[0], cliAdmin, expiresAt)
			if err != nil {
				return err
			}
			if m.ExpiresAt != nil {
				fmt.Printf("Approved %s until %s\n", m.Identity, m.ExpiresAt.UTC().Format(time.RFC3339))
			} else {
				fmt.Printf("Approved %s with unlimited access\n", m.Identity)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Grant access for this long (e.g. 720h); 0 = unlimited")

	return cmd
}

// ---------- access reject ----------

func newAccessRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <identity>",
		Short: "Reject a pending access request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := reg.Reject(context.Background(), args[0], cliAdmin); err != nil {
				return err
			}
			fmt.Printf("Rejected %s\n", args[0])
			return nil
		},
	}
}

// ---------- access promote ----------

func newAccessPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <identity>",
		Short: "Promote a whitelisted identity to admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			m, err := reg.Promote(context.Background(), args[0], cliAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("Promoted %s to admin\n", m.Identity)
			return nil
		},
	}
}

// ---------- access demote ----------

func newAccessDemoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demote <identity>",
		Short: "Demote an admin back to unknown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := reg.Demote(context.Background(), args[0], cliAdmin); err != nil {
				return err
			}
			fmt.Printf("Demoted %s\n", args[0])
			return nil
		},
	}
}

// ---------- access restrict ----------

func newAccessRestrictCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "restrict <identity>",
		Short: "Blacklist an identity",
		Example: `  gateward access restrict 123456789              # permanent
  gateward access restrict 123456789 --for 48h    # temporary`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			kind := model.RestrictionPermanent
			var d *time.Duration
			if duration > 0 {
				kind = model.RestrictionTemporary
				d = &duration
			}

			m, err := reg.Restrict(context.Background(), args[0], kind, d, cliAdmin)
			if err != nil {
				return err
			}
			if m.RestrictionEnd != nil {
				fmt.Printf("Restricted %s until %s\n", m.Identity, m.RestrictionEnd.UTC().Format(time.RFC3339))
			} else {
				fmt.Printf("Restricted %s permanently\n", m.Identity)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "for", 0, "Restriction duration (e.g. 48h); 0 = permanent")

	return cmd
}

// ---------- access set-expiration ----------

func newAccessSetExpirationCmd() *cobra.Command {
	var (
		expiresIn time.Duration
		clear     bool
	)

	cmd := &cobra.Command{
		Use:   "set-expiration <identity>",
		Short: "Change a whitelisted identity's expiration",
		Example: `  gateward access set-expiration 123456789 --expires-in 720h
  gateward access set-expiration 123456789 --clear`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clear && expiresIn == 0 {
				return fmt.Errorf("pass --expires-in or --clear")
			}

			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			var expiresAt *time.Time
			if !clear {
				t := time.Now().UTC().Add(expiresIn)
				expiresAt = &t
			}

			m, err := reg.SetExpiration(context.Background(), args[0], expiresAt, cliAdmin)
			if err != nil {
				return err
			}
			if m.ExpiresAt != nil {
				fmt.Printf("%s now expires at %s\n", m.Identity, m.ExpiresAt.UTC().Format(time.RFC3339))
			} else {
				fmt.Printf("%s now has unlimited access\n", m.Identity)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "New expiration relative to now (e.g. 720h); negative values force expiry on the next sweep")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove the expiration (unlimited access)")

	return cmd
}

// ---------- access unrestrict ----------

func newAccessUnrestrictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unrestrict <identity>",
		Short: "Remove an identity from the blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := reg.Unrestrict(context.Background(), args[0], cliAdmin); err != nil {
				return err
			}
			fmt.Printf("Unrestricted %s\n", args[0])
			return nil
		},
	}
}
