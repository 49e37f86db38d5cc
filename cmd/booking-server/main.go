package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/booking/internal/config"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/events"
	"github.com/clinic/booking/internal/platform/middleware"
	"github.com/clinic/booking/internal/platform/reminder"
	"github.com/clinic/booking/internal/platform/validation"
	"github.com/clinic/booking/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "booking-server",
		Short:         "Clinic appointment booking API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd(os.Stdout))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				printStatuses(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.UsesPostgres() {
		return errors.New("DATABASE_URL is required for migrations")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationFiles(cfg.MigrationsDir)))
}

// migrationFiles prefers an on-disk directory so operators can add files
// without rebuilding, and falls back to the copies compiled into the binary.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.Files
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-8s %-36s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, at := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-8d %-36s %-8s %s\n", s.Version, s.Name, status, at)
	}
}

// slotsCmd prints the offered slots for a date. With --doctor and a database
// it prints only the slots still free for that doctor.
func slotsCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List bookable slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			doctor, _ := cmd.Flags().GetString("doctor")

			d, err := scheduling.ParseDate(raw)
			if err != nil {
				return err
			}

			var repo scheduling.AppointmentRepository
			if doctor != "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if cfg.UsesPostgres() {
					pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 1})
					if err != nil {
						return err
					}
					defer pool.Close()
					repo = scheduling.NewAppointmentRepoPG(pool)
				}
			}
			return printSlots(cmd.Context(), out, repo, doctor, d)
		},
	}
	cmd.Flags().String("date", "", "Date to list (YYYY-MM-DD)")
	cmd.Flags().String("doctor", "", "Only show slots free for this doctor")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func printSlots(ctx context.Context, out io.Writer, repo scheduling.AppointmentRepository, doctor string, d scheduling.Date) error {
	var slots []string
	if doctor == "" || repo == nil {
		seq, err := scheduling.SlotCalendar{}.Slots(d)
		if errors.Is(err, scheduling.ErrNonClinicDay) {
			fmt.Fprintf(out, "%s: clinic closed\n", d)
			return nil
		}
		for s := range seq {
			slots = append(slots, s)
		}
	} else {
		svc := scheduling.NewService(repo)
		if err := svc.LoadIndex(ctx); err != nil {
			return err
		}
		free, err := svc.ListAvailableSlots(ctx, doctor, d)
		if errors.Is(err, scheduling.ErrNonClinicDay) {
			fmt.Fprintf(out, "%s: clinic closed\n", d)
			return nil
		}
		slots = free
	}
	fmt.Fprintf(out, "%s: %s\n", d, strings.Join(slots, " "))
	return nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newPublisher always logs events and also streams them to Kafka when brokers
// are configured. The returned close func flushes the Kafka writer.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (scheduling.Publisher, func() error) {
	pubs := events.Multi{events.NewLogPublisher(logger)}
	closer := func() error { return nil }
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		pubs = append(pubs, kp)
		closer = kp.Close
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka event publishing enabled")
	}
	return pubs, closer
}

type serverDeps struct {
	svc       *scheduling.Service
	reminders *reminder.Scheduler
	dbHealth  db.Checker
}

// newServer builds the echo instance: middleware, auth, and routes.
func newServer(cfg *config.Config, deps serverDeps, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if cfg.IsDev() && cfg.AuthSecret == "" {
		logger.Warn().Msg("development mode: caller identity is taken from X-Actor-ID / X-Actor-Role headers")
		e.Use(auth.DevActorMiddleware())
	} else {
		e.Use(auth.ActorMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSecret),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     version,
			"index_slots": deps.svc.Availability().Len(),
		})
	})
	if deps.dbHealth != nil {
		e.GET("/health/db", db.HealthHandler(deps.dbHealth))
	}

	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		KeyFunc:           actorKey,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
		rl.KeyFunc = actorKey
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rl))
	scheduling.NewHandler(deps.svc).RegisterRoutes(apiV1)

	if deps.reminders != nil {
		apiV1.POST("/reminders/run", runReminders(deps.reminders), auth.RequireRole(string(scheduling.RoleStaff)))
	}
	return e
}

func actorKey(c echo.Context) string {
	if id := auth.ActorIDFromContext(c.Request().Context()); id != "" {
		return "actor:" + id
	}
	return "ip:" + c.RealIP()
}

func runReminders(s *reminder.Scheduler) echo.HandlerFunc {
	return func(c echo.Context) error {
		sent, err := s.RunOnce(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("sent %d reminders before failing: %v", sent, err))
		}
		return c.JSON(http.StatusOK, map[string]int{"sent": sent})
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()

	var (
		repo   scheduling.AppointmentRepository
		pool   *pgxpool.Pool
		health db.Checker
	)
	if cfg.UsesPostgres() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = scheduling.NewAppointmentRepoPG(pool)
		health = db.NewChecker(pool)
		logger.Info().Msg("connected to database")
	} else {
		repo = scheduling.NewAppointmentRepoMemory()
		logger.Warn().Msg("DATABASE_URL not set: appointments are kept in memory")
	}

	publisher, closePublisher := newPublisher(cfg, logger)
	defer func() {
		if err := closePublisher(); err != nil {
			logger.Error().Err(err).Msg("close event publisher")
		}
	}()

	svc := scheduling.NewService(repo,
		scheduling.WithLocation(loc),
		scheduling.WithPublisher(publisher),
		scheduling.WithLogger(logger.With().Str("component", "scheduling").Logger()),
	)
	if err := svc.LoadIndex(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to build availability index")
	}

	reminders, err := reminder.New(svc, cfg.ReminderCron, cfg.ReminderWindow(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid reminder schedule")
	}
	reminders.Start()

	e := newServer(cfg, serverDeps{svc: svc, reminders: reminders, dbHealth: health}, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reminders.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
