package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gateward/gateward/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the shared service token",
		Long:  "Set or rotate the shared token collaborating services authenticate with. Only the SHA-256 hash is stored.",
	}

	cmd.AddCommand(newTokenSetCmd())
	cmd.AddCommand(newTokenGenerateCmd())

	return cmd
}

func openAuthService() (*service.AuthService, func(), error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	// The registry is only needed for session issuance, not for token storage.
	authSvc := service.NewAuthService(st, nil, "")
	return authSvc, func() { st.Close() }, nil
}

// ---------- token set ----------

func newTokenSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Set the service token (prompted, not echoed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("Service token: ")
			tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			fmt.Println()

			fmt.Print("Confirm token: ")
			confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("failed to read confirmation: %w", err)
			}
			fmt.Println()

			if string(tokenBytes) != string(confirmBytes) {
				return fmt.Errorf("tokens do not match")
			}
			if len(tokenBytes) < 16 {
				return fmt.Errorf("token must be at least 16 characters")
			}

			authSvc, closeFn, err := openAuthService()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := authSvc.SetServiceToken(context.Background(), string(tokenBytes)); err != nil {
				return fmt.Errorf("store token: %w", err)
			}

			fmt.Println("Service token updated.")
			return nil
		},
	}
}

// ---------- token generate ----------

func newTokenGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate and set a random service token",
		Long:  "Generate a 32-byte random token, store its hash, and print the raw token once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			token := hex.EncodeToString(raw)

			authSvc, closeFn, err := openAuthService()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := authSvc.SetServiceToken(context.Background(), token); err != nil {
				return fmt.Errorf("store token: %w", err)
			}

			fmt.Println("New service token (shown once, store it now):")
			fmt.Println()
			fmt.Printf("  %s\n", token)
			fmt.Println()
			return nil
		},
	}
}
