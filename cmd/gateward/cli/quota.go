package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/quota"
	"github.com/gateward/gateward/internal/telemetry"
)

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and adjust daily quotas",
	}

	cmd.AddCommand(newQuotaShowCmd())
	cmd.AddCommand(newQuotaSetLimitCmd())

	return cmd
}

func openTracker() (*quota.Tracker, func(), error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tracker := quota.New(st, &notify.LogNotifier{Logger: logger}, telemetry.New(), logger, 0)
	return tracker, func() { st.Close() }, nil
}

// ---------- quota show ----------

func newQuotaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <identity>",
		Short: "Show an identity's usage against today's ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, closeFn, err := openTracker()
			if err != nil {
				return err
			}
			defer closeFn()

			status, err := tracker.CheckLimit(context.Background(), args[0])
			if err != nil {
				return err
			}

			if status.Limit == 0 {
				fmt.Printf("%s: %d used today (unlimited)\n", args[0], status.Used)
				return nil
			}
			fmt.Printf("%s: %d/%d used today, %d remaining\n", args[0], status.Used, status.Limit, status.Remaining)
			return nil
		},
	}
}

// ---------- quota set-limit ----------

func newQuotaSetLimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-limit <identity> <ceiling>",
		Short: "Override an identity's daily ceiling (0 = unlimited)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ceiling, err := strconv.Atoi(args[1])
			if err != nil || ceiling < 0 {
				return fmt.Errorf("ceiling must be a non-negative integer, got %q", args[1])
			}

			tracker, closeFn, err := openTracker()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := tracker.SetLimit(context.Background(), args[0], ceiling, cliAdmin); err != nil {
				return err
			}

			if ceiling == 0 {
				fmt.Printf("Set %s to unlimited daily usage\n", args[0])
			} else {
				fmt.Printf("Set %s daily ceiling to %d\n", args[0], ceiling)
			}
			return nil
		},
	}
}
