package main

import (
	"database/sql"
	"errors"
	"flag"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/db"
	"github.com/hackgods/dental-intake-scheduling/internal/logging"
)

// Usage: migrate [up|down|force <version>]
func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	sqlDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer func() { _ = sqlDB.Close() }()

	if err := sqlDB.Ping(); err != nil {
		logger.Fatal("ping db", zap.Error(err))
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		logger.Fatal("db driver", zap.Error(err))
	}

	srcDriver, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		logger.Fatal("source driver", zap.Error(err))
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Fatal("create migrator", zap.Error(err))
	}
	defer func() { _, _ = m.Close() }()

	switch flag.Arg(0) {
	case "", "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		version, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			logger.Fatal("invalid version", zap.String("version", flag.Arg(1)), zap.Error(convErr))
		}
		err = m.Force(version)
	default:
		logger.Fatal("unknown command", zap.String("command", flag.Arg(0)))
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migrate", zap.String("command", flag.Arg(0)), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal("read version", zap.Error(err))
	}
	logger.Info("migrations complete", zap.Uint("version", version), zap.Bool("dirty", dirty))
}
