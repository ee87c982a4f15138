package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/danthegoodman1/kvsql/gologger"
	// registers the "pgx" database/sql driver
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed *.sql
	migrations embed.FS

	ErrMigrationsNotRun = fmt.Errorf("not all migrations applied")

	logger = gologger.NewLogger()

	migrationSet = migrate.MigrationSet{
		TableName: "kvsql_migrations",
	}
	source = migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       ".",
	}
)

func withDB(crdbDsn string, f func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		return fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()
	return f(db)
}

// RunMigrations applies every pending catalog migration.
func RunMigrations(crdbDsn string) (applied int, err error) {
	err = withDB(crdbDsn, func(db *sql.DB) error {
		applied, err = migrationSet.Exec(db, "postgres", source, migrate.Up)
		return err
	})
	if err == nil {
		logger.Info().Int("applied", applied).Msg("ran catalog migrations")
	}
	return
}

// CheckMigrations returns ErrMigrationsNotRun when the catalog schema is behind.
func CheckMigrations(crdbDsn string) error {
	return withDB(crdbDsn, func(db *sql.DB) error {
		pending, _, err := migrationSet.PlanMigration(db, "postgres", source, migrate.Up, 0)
		if err != nil {
			return fmt.Errorf("error in PlanMigration: %w", err)
		}
		if len(pending) > 0 {
			for _, mig := range pending {
				logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
			}
			return ErrMigrationsNotRun
		}
		return nil
	})
}
