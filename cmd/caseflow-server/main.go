package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caseflow/caseflow/internal/config"
	"github.com/caseflow/caseflow/internal/domain/cases"
	"github.com/caseflow/caseflow/internal/domain/identity"
	"github.com/caseflow/caseflow/internal/platform/activity"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/internal/platform/blobstore"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/platform/middleware"
)

var migrationsDir = "migrations"

func main() {
	root := &cobra.Command{
		Use:   "caseflow-server",
		Short: "Hospital case lifecycle and assignment service",
	}
	root.PersistentFlags().StringVar(&migrationsDir, "migrations", "migrations", "path to SQL migrations")

	root.AddCommand(serveCmd(), migrateCmd(), hospitalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "caseflow").Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			blobs, err := newBlobStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init blobstore: %w", err)
			}

			userRepo := identity.NewUserRepoPG(pool)
			userSvc := identity.NewService(userRepo)

			caseRepo := cases.NewCaseRepoPG(pool)
			versionRepo := cases.NewVersionRepoPG(pool)
			assignmentRepo := cases.NewAssignmentRepoPG(pool)
			auditRepo := cases.NewAuditRepoPG(pool)
			documentRepo := cases.NewDocumentRepoPG(pool)

			history := cases.NewAssignmentHistory(assignmentRepo, versionRepo)
			guard := cases.NewAccessGuard(history)
			policy := cases.NewStatusPolicy()
			emitter := activity.NewFanout(activity.NewLogEmitter(logger))
			engine := cases.NewWorkflowEngine(pool, caseRepo, versionRepo, auditRepo,
				documentRepo, history, guard, policy, userSvc, blobs, emitter, logger)

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true

			e.Use(middleware.Recovery(logger))
			e.Use(middleware.RequestID())
			e.Use(middleware.Logger(logger))
			e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
				AllowOrigins: cfg.CORSOrigins,
				AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
				AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, "X-Hospital-ID", "X-Request-ID"},
			}))
			e.Use(middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimitRPS,
				BurstSize:         cfg.RateLimitBurst,
			}))

			e.GET("/health", db.HealthHandler(pool))

			api := e.Group("/api/v1")
			if cfg.IsDev() && cfg.AuthIssuer == "" {
				api.Use(auth.DevAuthMiddleware())
			} else {
				api.Use(auth.JWTMiddleware(auth.JWTConfig{
					Issuer:   cfg.AuthIssuer,
					Audience: cfg.AuthAudience,
					JWKSURL:  cfg.AuthJWKSURL,
				}))
			}
			api.Use(db.HospitalMiddleware(pool, cfg.DefaultHospital))
			api.Use(middleware.Audit(logger))

			identity.NewHandler(userSvc).RegisterRoutes(api)
			cases.NewHandler(engine).RegisterRoutes(api)

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown")
				}
			}()

			logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
			if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobDriver {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:    cfg.BlobS3Bucket,
			Region:    cfg.BlobS3Region,
			Endpoint:  cfg.BlobS3Endpoint,
			PathStyle: cfg.BlobS3Endpoint != "",
		})
	default:
		return blobstore.NewMemoryStore(), nil
	}
}

func migrateCmd() *cobra.Command {
	var hospital string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.PersistentFlags().StringVar(&hospital, "hospital", "default", "hospital whose schema to migrate")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				migrator := db.NewMigrator(pool, migrationsDir)
				n, err := migrator.Up(ctx, "hospital_"+hospital)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s) to hospital_%s\n", n, hospital)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				migrator := db.NewMigrator(pool, migrationsDir)
				statuses, err := migrator.Status(ctx, "hospital_"+hospital)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%03d %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

func hospitalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospital",
		Short: "Manage hospital tenants",
	}

	create := &cobra.Command{
		Use:   "create <hospital-id>",
		Short: "Create a hospital schema and run migrations against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := db.CreateHospitalSchema(ctx, pool, args[0], migrationsDir); err != nil {
					return err
				}
				fmt.Printf("hospital %s ready\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(create)
	return cmd
}

// withPool loads config, opens a pool and hands it to fn.
func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool)
}
