package runhub

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sheenhq/runhub/internal/attribution"
	"github.com/sheenhq/runhub/internal/cache"
	"github.com/sheenhq/runhub/internal/config"
	"github.com/sheenhq/runhub/internal/controllers"
	"github.com/sheenhq/runhub/internal/digest"
	"github.com/sheenhq/runhub/internal/engine"
	"github.com/sheenhq/runhub/internal/migrations"
	"github.com/sheenhq/runhub/internal/policy"
	"github.com/sheenhq/runhub/internal/recipients"
	"github.com/sheenhq/runhub/internal/repository"
	"github.com/sheenhq/runhub/internal/transport"
	"github.com/sheenhq/runhub/pkg/runhub/core"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the run engine, attribution sweep, digest scheduler and HTTP
// server. This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("RUNHUB_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := core.NewRealClock()

	runRepo := repository.NewRunRepository(db, clock)
	messageRepo := repository.NewMessageRepository(db, clock)
	eventRepo := repository.NewEventRepository(db, clock)
	attributionRepo := repository.NewAttributionRepository(db, clock)
	digestRepo := repository.NewDigestRepository(db, clock)
	projectRepo := repository.NewProjectRepository(db, clock)
	kpiRepo := repository.NewKpiRepository(db, clock)
	lockRepo := repository.NewLockRepository(db, clock)
	executorRepo := repository.NewExecutorRepository(db, clock)
	userRepo := repository.NewUserRepository(db, clock)

	resolver := recipients.NewResolver(eventRepo, messageRepo, clock)
	policyEngine := policy.NewEngine(runRepo, clock)
	estimates := setupEstimateCache(clock)
	messenger := transport.NewHTTPMessenger(
		config.GetSystemSettingString(config.DELIVERY_ENDPOINT),
		config.GetSystemSettingString(config.DELIVERY_SHARED_SECRET),
	)

	owner := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if owner == "" {
		if hostname, err := os.Hostname(); err == nil {
			owner = hostname
		} else {
			owner = "runhub-engine"
		}
	}

	ctx := context.Background()

	runManager := engine.NewRunManager(runRepo, messageRepo, lockRepo, projectRepo,
		executorRepo, resolver, policyEngine, messenger, clock)
	pollInterval, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_CHECK_DB_INTERVAL))
	go runManager.StartEngine(ctx, pollInterval)

	attributionEngine := attribution.NewEngine(eventRepo, attributionRepo, messageRepo,
		runRepo, projectRepo, lockRepo, clock, owner)
	go attributionEngine.StartSweep(ctx)

	composer := digest.NewComposer(kpiRepo, attributionRepo, runRepo)
	scheduler := digest.NewScheduler(digestRepo, composer, messenger, lockRepo, clock, owner)
	go scheduler.Start(ctx)

	if mux == nil {
		mux = http.NewServeMux()
	}
	runsController := controllers.NewRunsController(runRepo, attributionRepo, resolver,
		policyEngine, estimates, runManager, userRepo)
	runsController.RegisterRoutes(mux)
	digestController := controllers.NewDigestController(digestRepo, clock, userRepo)
	digestController.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func setupEstimateCache(clock core.Clock) cache.EstimateCache {
	ttl, err := time.ParseDuration(config.GetSystemSettingString(config.ESTIMATE_CACHE_TTL))
	if err != nil || ttl <= 0 {
		ttl = time.Minute
	}
	if redisURL := config.GetSystemSettingString(config.REDIS_URL); redisURL != "" {
		c, err := cache.NewRedisCache(redisURL, ttl)
		if err != nil {
			slog.Error("Redis estimate cache unavailable, falling back to in-process cache", "error", err)
		} else {
			slog.Info("Using Redis estimate cache")
			return c
		}
	}
	return cache.NewMemoryCache(ttl, clock)
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("RUNHUB_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("RUNHUB_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("RUNHUB_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("RUNHUB_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("RUNHUB_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	_ = slog.New(tint.NewHandler(w, nil))
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
