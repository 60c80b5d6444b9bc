package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/mortuary/internal/config"
	"github.com/ehr/mortuary/internal/domain/casefile"
	"github.com/ehr/mortuary/internal/domain/correction"
	"github.com/ehr/mortuary/internal/domain/tray"
	"github.com/ehr/mortuary/internal/platform/auth"
	"github.com/ehr/mortuary/internal/platform/db"
	"github.com/ehr/mortuary/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mortuary-server",
		Short: "Mortuary custody and tray management API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(trayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetInt("seed-trays")
			return runServer(seed)
		},
	}
	cmd.Flags().Int("seed-trays", 0, "Create this many trays at startup (memory store only)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := db.NewMigrator(pool, migrationFiles(cfg)).Up(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(cfg)).Status(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func trayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tray",
		Short: "Manage the tray inventory",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create numbered trays, skipping codes that already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			count, _ := cmd.Flags().GetInt("count")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := tray.NewService(st.trays, st.tx, thresholds(cfg), logger)
			created, err := seedTrays(ctx, svc, prefix, count)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d tray(s).\n", created)
			return nil
		},
	}
	seedCmd.Flags().String("prefix", "A", "Tray code prefix")
	seedCmd.Flags().Int("count", 10, "Number of trays")
	cmd.AddCommand(seedCmd)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "mortuary").Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}
	return logger
}

func runServer(seed int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer st.Close()
	logger.Info().Str("store", cfg.Store).Msg("store ready")

	pub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up notifications")
		return err
	}
	defer pub.Close()

	a := newApp(cfg, st, newGate(cfg, logger), pub, logger)
	if seed > 0 {
		if cfg.Store != config.StoreMemory {
			return fmt.Errorf("--seed-trays is only available with STORE=%s", config.StoreMemory)
		}
		n, err := seedTrays(ctx, a.trays, "A", seed)
		if err != nil {
			return err
		}
		logger.Info().Int("trays", n).Msg("trays seeded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewHTTPMetrics(reg)
	a.registerMetrics(reg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if st.pool != nil {
		e.GET("/health/db", db.HealthHandler(st.pool))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Str("default_user", cfg.DevUserID).Msg("development auth enabled, identities come from X-Dev-User and X-Dev-Roles")
		apiV1.Use(auth.DevAuthMiddleware(cfg.DevUserID))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	// The memory store has no audit table; its entries only reach the log.
	apiV1.Use(middleware.Audit(logger, st.audit))

	a.registerRoutes(apiV1)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	// In-flight notifications finish before the redis client closes.
	pub.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

func thresholds(cfg *config.Config) tray.Thresholds {
	return tray.Thresholds{Warn: cfg.TrayAlertWarn, Critical: cfg.TrayAlertCritical}
}

// registerMetrics exposes tray occupancy and the correction backlog.
func (a *app) registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(tray.NewCollector(a.trays, a.logger))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mortuary_corrections_over_sla",
		Help: "Pending correction requests older than the correction SLA.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := a.corrections.CountOverSLA(ctx, time.Now().UTC())
		if err != nil {
			a.logger.Warn().Err(err).Msg("correction backlog metric unavailable")
			return 0
		}
		return float64(n)
	}))
}

func (a *app) registerRoutes(api *echo.Group) {
	casefile.NewHandler(a.cases).RegisterRoutes(api)
	tray.NewHandler(a.trays).RegisterRoutes(api)
	correction.NewHandler(a.corrections).RegisterRoutes(api)
}
