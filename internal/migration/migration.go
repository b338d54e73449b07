// Package migration creates the schema on startup so the service is
// usable out of the box. Postgres runs versioned SQL migrations;
// sqlite and mysql fall back to model-driven migration, which is what
// local development and the test suite use.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	alertdomain "github.com/voxmeter/voxmeter/internal/alerts/domain"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	identitydomain "github.com/voxmeter/voxmeter/internal/identity/domain"
	ingestdomain "github.com/voxmeter/voxmeter/internal/ingest/domain"
	invoicedomain "github.com/voxmeter/voxmeter/internal/invoice/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	if conn.Dialector.Name() == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return runVersioned(sqlDB)
	}
	return AutoMigrate(conn)
}

func runVersioned(db *sql.DB) error {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the models. The test suite calls
// this directly against in-memory sqlite.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&identitydomain.Identity{},
		&directorydomain.Assistant{},
		&directorydomain.Account{},
		&ledgerdomain.UsageRecord{},
		&snapshotdomain.UserUsageSnapshot{},
		&alertdomain.UsageAlert{},
		&ingestdomain.UnattributedEvent{},
		&invoicedomain.Invoice{},
	)
}
