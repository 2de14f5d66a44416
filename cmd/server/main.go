package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"google.golang.org/grpc"

	"semaphore/devicehub/internal/config"
	internalgrpc "semaphore/devicehub/internal/grpc"
	internalhttp "semaphore/devicehub/internal/http"
	"semaphore/devicehub/internal/jobs"
	"semaphore/devicehub/internal/logging"
	"semaphore/devicehub/internal/store/postgres/migrations"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "devicehub",
	Short:        "Device management backend",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP action boundary, gRPC health and background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			return err
		}
		version, dirty, err := migrations.Version(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Printf("Schema at version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-admin USERNAME EMAIL",
	Short: "Create the first Admin account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		cfg := config.Load()
		log := newLogger(cfg)
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.close()

		user, err := a.services.Auth.Bootstrap(cmd.Context(), args[0], args[1], password)
		if err != nil {
			return err
		}
		fmt.Printf("Admin %s created (id %s)\n", user.Username, user.ID)
		return nil
	},
}

var syncVersionsCmd = &cobra.Command{
	Use:   "sync-versions",
	Short: "Run one version sync against the configured source",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := newLogger(cfg)
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.close()

		if full, _ := cmd.Flags().GetBool("full"); full {
			result, err := a.services.Versions.InitialSync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s sync: %d added\n", result.Mode, result.Added)
			return nil
		}
		result, err := a.services.Versions.Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s sync: %d added\n", result.Mode, result.Added)
		if result.Reason != "" {
			fmt.Printf("Reason: %s\n", result.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(bootstrapCmd)
	bootstrapCmd.Flags().String("password", "", "Admin password (prompted when omitted)")
	rootCmd.AddCommand(syncVersionsCmd)
	syncVersionsCmd.Flags().Bool("full", false, "Rebuild the whole version history")
}

func readPassword(cmd *cobra.Command) (string, error) {
	if password, _ := cmd.Flags().GetString("password"); password != "" {
		return password, nil
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		return password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("password required: use --password or ADMIN_PASSWORD")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "devicehub",
	})
}

func serve() error {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.close()

	server := internalhttp.NewServer(a.services, internalhttp.Options{
		Logger:      log.With().Str("component", "http").Logger(),
		SyncTimeout: time.Minute,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 2)

	grpcServer, err := startGRPC(cfg, a, log, errs)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("http server error: %w", err)
		}
	}()

	jobs.StartVersionSyncJob(ctx, cfg, a.services.Versions, log.With().Str("component", "jobs").Logger())
	jobs.StartRetentionJob(ctx, cfg, a.services.Notifications, log.With().Str("component", "jobs").Logger())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		log.Error().Err(runErr).Msg("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	log.Info().Msg("stopped")
	return runErr
}

// startGRPC serves grpc.health.v1 when GRPC_ADDR is set. It needs a
// SERVICE_AUTH_TOKEN.
func startGRPC(cfg config.Config, a *app, log zerolog.Logger, errs chan<- error) (*grpc.Server, error) {
	if cfg.GRPCAddr == "" {
		return nil, nil
	}
	grpcServer, err := internalgrpc.NewServer(a.store, cfg.ServiceAuthToken, log.With().Str("component", "grpc").Logger())
	if err != nil {
		return nil, fmt.Errorf("grpc init failed: %w", err)
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen error: %w", err)
	}
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcServer.Serve(listener); err != nil {
			errs <- fmt.Errorf("grpc server error: %w", err)
		}
	}()
	return grpcServer, nil
}
