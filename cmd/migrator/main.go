// Command migrator applies or rolls back the outbox schema used by the postgres
// delivery sink.
//
//	migrator                 apply all pending migrations
//	migrator -down -steps 1  roll back the latest migration
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"smsgate/internal/config"
	"smsgate/internal/lib/logger/sl"
)

func main() {
	var (
		down  bool
		steps int
	)
	flag.BoolVar(&down, "down", false, "roll migrations back instead of applying them")
	flag.IntVar(&steps, "steps", 0, "number of migrations to move, 0 means all")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := config.MustLoad()

	m, err := migrate.New(
		"file://"+cfg.Migrator.MigrationsPath,
		databaseURL(cfg),
	)
	if err != nil {
		log.Error("failed to create migrate instance", sl.Err(err))
		os.Exit(1)
	}
	defer m.Close()

	log.Info("starting migration",
		slog.Bool("down", down),
		slog.Int("steps", steps),
		slog.String("path", cfg.Migrator.MigrationsPath),
	)

	if err := apply(m, down, steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no changes to migrate")
			return
		}
		log.Error("migration failed", sl.Err(err))
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("migrations applied, schema is empty")
	case err != nil:
		log.Error("failed to read schema version", sl.Err(err))
	default:
		log.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}
}

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
}

func apply(m migrator, down bool, steps int) error {
	switch {
	case steps < 0:
		return fmt.Errorf("steps must not be negative, got %d", steps)
	case steps > 0 && down:
		return m.Steps(-steps)
	case steps > 0:
		return m.Steps(steps)
	case down:
		return m.Down()
	default:
		return m.Up()
	}
}

func databaseURL(cfg *config.Config) string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("x-migrations-table", cfg.Migrator.MigrationsTable)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Postgres.User, cfg.Postgres.Password),
		Host:     cfg.Postgres.Host + ":" + cfg.Postgres.Port,
		Path:     "/" + cfg.Postgres.Database,
		RawQuery: q.Encode(),
	}

	return u.String()
}
