package kotori

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrateUp applies every pending catalog schema migration from an
// embedded iofs source; the migrations ship inside the binary rather than
// alongside it.
func MigrateUp(databaseURL string, logger *slog.Logger) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: load embedded source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, pgx5URL(databaseURL))
	if err != nil {
		return fmt.Errorf("migrate: initialize: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil && logger != nil {
			logger.Error("migrate: source close failed", "error", sourceErr)
		}
		if dbErr != nil && logger != nil {
			logger.Error("migrate: db close failed", "error", dbErr)
		}
	}()

	if logger != nil {
		m.Log = &migrateLogger{logger: logger}
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Info("migrate: already up to date")
			}
			return nil
		}
		return fmt.Errorf("migrate: up failed: %w", err)
	}

	return nil
}

// pgx5URL rewrites a postgres:// or postgresql:// DSN to the pgx5://
// scheme golang-migrate's pgx driver requires, leaving an already-correct
// scheme untouched.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(dsn) >= len(prefix) && dsn[:len(prefix)] == prefix {
			return "pgx5://" + dsn[len(prefix):]
		}
	}
	return dsn
}

// migrateLogger adapts golang-migrate's logger interface to slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *migrateLogger) Verbose() bool { return false }
