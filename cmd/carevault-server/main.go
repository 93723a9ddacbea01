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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carevault/carevault/internal/config"
	"github.com/carevault/carevault/internal/domain/account"
	"github.com/carevault/carevault/internal/domain/auditlog"
	"github.com/carevault/carevault/internal/domain/patient"
	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/db"
	"github.com/carevault/carevault/internal/platform/hipaa"
	"github.com/carevault/carevault/internal/platform/middleware"
)

// DenialAuditAdapter adapts the hipaa.Recorder to the auth.DenialRecorder
// interface, avoiding a circular import between the auth and hipaa packages.
// Denials are written synchronously so the audit row exists before the 403
// leaves the server.
type DenialAuditAdapter struct {
	recorder *hipaa.Recorder
}

// NewDenialAuditAdapter creates a new adapter.
func NewDenialAuditAdapter(recorder *hipaa.Recorder) *DenialAuditAdapter {
	return &DenialAuditAdapter{recorder: recorder}
}

// RecordDenial implements auth.DenialRecorder.
func (a *DenialAuditAdapter) RecordDenial(ctx context.Context, d auth.Denial) error {
	detail := map[string]any{
		"method": d.Method,
		"path":   d.Path,
	}
	for k, v := range d.Detail {
		detail[k] = v
	}

	e := &hipaa.Event{
		Tenant:     db.TenantFromContext(ctx),
		Action:     d.Action,
		EntityType: "route",
		EntityID:   d.Path,
		IPAddress:  d.IP,
		UserAgent:  d.UserAgent,
		Detail:     detail,
	}
	if d.Principal != nil {
		id := d.Principal.ID
		e.ActorID = &id
		e.ActorName = d.Principal.Name
		e.ActorRole = d.Principal.Role
	}
	return a.recorder.Record(ctx, e)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "carevault-server",
		Short: "CareVault clinical records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(phiCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CareVault API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			applied, err := migrator.Up(ctx, schema)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s) to schema %s\n", applied, schema)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return err
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema and run migrations against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func phiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phi",
		Short: "Manage protected field encryption",
	}

	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-seal patient records under the active key, placeholdering fields whose key is lost",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			keys, err := buildKeyring(cfg, logger)
			if err != nil {
				return err
			}
			cipher := hipaa.NewFieldCipher(keys, logger)

			auditStore := auditlog.NewStorePG(pool)
			recorder := hipaa.NewRecorder(auditStore, cfg.AuditQueueSize, logger)
			defer recorder.Close()

			// The repair runs outside a request, so the tenant-scoped
			// connection normally placed in context by TenantMiddleware is
			// set up by hand here.
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire connection: %w", err)
			}
			defer conn.Release()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO tenant_%s, shared, public", tenant)); err != nil {
				return fmt.Errorf("set tenant search path: %w", err)
			}
			ctx = context.WithValue(ctx, db.TenantIDKey, tenant)
			ctx = context.WithValue(ctx, db.DBConnKey, conn)

			repo := patient.NewRepoPG(pool, cipher)
			repair := patient.NewRepairService(repo, cipher, recorder, logger)

			report, err := repair.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Scanned %d record(s): %d repaired with placeholders, %d re-sealed, %d already current\n",
				report.Scanned, report.Repaired, report.Resealed, report.Skipped)
			return nil
		},
	}
	repairCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")

	cmd.AddCommand(repairCmd)
	return cmd
}

// buildKeyring assembles the PHI keyring from configuration. A missing
// active key returns a nil keyring, which leaves field encryption disabled;
// Validate already refuses that in production.
func buildKeyring(cfg *config.Config, logger zerolog.Logger) (*hipaa.Keyring, error) {
	if cfg.PHIEncryptionKey == "" {
		logger.Warn().Msg("PHI_ENCRYPTION_KEY not set; protected fields will be stored in plaintext")
		return nil, nil
	}

	keys, err := hipaa.NewKeyring(cfg.PHIEncryptionKey, cfg.PHIEncryptionKeyID, cfg.PHIKeyVersion)
	if err != nil {
		return nil, err
	}

	legacy, err := cfg.ParseLegacyKeys()
	if err != nil {
		return nil, err
	}
	for _, lk := range legacy {
		if err := keys.AddLegacyKey(lk.HexKey, lk.KeyID, lk.Version); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// PHI field encryption
	keys, err := buildKeyring(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build PHI keyring")
	}
	cipher := hipaa.NewFieldCipher(keys, logger)

	// Audit trail. The recorder's background worker drains the queue on
	// Close, so deferred shutdown flushes pending access events.
	auditStore := auditlog.NewStorePG(pool)
	recorder := hipaa.NewRecorder(auditStore, cfg.AuditQueueSize, logger)
	defer recorder.Close()

	denials := NewDenialAuditAdapter(recorder)
	authorizer := auth.NewAuthorizer(denials, logger)
	authStore := auth.NewStorePG(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "20M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Login is the one route without a resolved principal. It still needs
	// the tenant middleware: the users table lives in the tenant schema, so
	// callers select their clinic with X-Tenant-ID or fall back to the
	// default tenant.
	public := apiV1.Group("", db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Everything else resolves the principal first. Authenticate runs before
	// TenantMiddleware because it pins the token's tenant claim on the
	// request, which takes precedence over headers and query parameters.
	protected := apiV1.Group("",
		auth.Authenticate(auth.ResolverConfig{
			Secret:     []byte(cfg.JWTSecret),
			Accounts:   authStore,
			Privileges: authStore,
			Logger:     logger,
		}),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.PHIAccess(recorder),
	)

	// Account domain
	accountRepo := account.NewRepoPG(pool)
	accountSvc := account.NewService(accountRepo, recorder, []byte(cfg.JWTSecret), cfg.TokenTTL)
	accountHandler := account.NewHandler(accountSvc)
	accountHandler.RegisterAuthRoutes(public)
	accountHandler.RegisterRoutes(protected, authorizer)

	// Patient domain
	patientRepo := patient.NewRepoPG(pool, cipher)
	patientSvc := patient.NewService(patientRepo, recorder)
	patientHandler := patient.NewHandler(patientSvc)
	patientHandler.RegisterRoutes(protected, authorizer)

	// Audit log domain
	auditSvc := auditlog.NewService(auditStore, recorder)
	auditHandler := auditlog.NewHandler(auditSvc)
	auditHandler.RegisterRoutes(protected, authorizer)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
