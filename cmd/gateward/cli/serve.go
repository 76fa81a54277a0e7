package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/quota"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/server"
	"github.com/gateward/gateward/internal/service"
	"github.com/gateward/gateward/internal/sweeper"
	"github.com/gateward/gateward/internal/telemetry"
)

const banner = `
  ___   _ _____ _____      ___   ___ ___
 / __| /_\_   _| __\ \    / /_\ | _ \   \
| (_ |/ _ \| | | _| \ \/\/ / _ \|   / |) |
 \___/_/ \_\_| |___| \_/\_/_/ \_\_|_\___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gateward API server",
		Long:  "Start the HTTP server and the background expiration sweeper.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	// Set up logger
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	var logger *slog.Logger
	if viper.GetString("log.format") == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	// 1. Open the store
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "data_dir", resolveDataDir())

	// 2. Notifier: AMQP when a broker URL is configured, log-only otherwise
	var notifier notify.Notifier = &notify.LogNotifier{Logger: logger}
	if brokerURL := viper.GetString("broker.url"); brokerURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(brokerURL, logger)
		if err != nil {
			return fmt.Errorf("connect notifier: %w", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
		logger.Info("notifier connected", "broker", brokerURL)
	}

	// 3. Core components
	metrics := telemetry.New()
	reg := registry.New(st, notifier, metrics, logger)
	tracker := quota.New(st, notifier, metrics, logger, viper.GetInt("quota.default_limit"))
	auditLog := audit.New(st)

	// 4. Auth service
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "gateward-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using development default")
	}
	authSvc := service.NewAuthService(st, reg, jwtSecret)

	// 5. First-run hints
	ctx := context.Background()
	if exists, err := st.HasSuperAdmin(ctx); err == nil && !exists {
		logger.Warn("no super admin configured - run: gateward admin bootstrap")
	}
	if err := authSvc.ValidateServiceToken(ctx, ""); errors.Is(err, service.ErrNotConfigured) {
		logger.Warn("no service token configured - run: gateward token set")
	}

	// 6. Background expiration sweeper
	sweepCfg := sweeper.Config{
		Interval:        viper.GetDuration("sweeper.interval"),
		IdentityTimeout: viper.GetDuration("sweeper.identity_timeout"),
		RequeueExpired:  viper.GetBool("sweeper.requeue_expired"),
	}
	sw := sweeper.New(sweepCfg, st, reg, metrics, logger)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sw.Run(sweepCtx)

	// 7. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if ttl := viper.GetDuration("auth.session_ttl"); ttl > 0 {
		srvCfg.SessionTTL = ttl
	}
	if rpm := viper.GetInt("server.requests_per_minute"); rpm > 0 {
		srvCfg.RequestsPerMinute = rpm
	}

	srv := server.New(srvCfg, st, reg, tracker, auditLog, authSvc, metrics, logger)

	fmt.Printf("→ Gateward %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Metrics: http://%s:%d/metrics\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	return appVersion
}
