package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	reminderdomain "github.com/smallbiznis/instructorledger/internal/reminder/domain"
	settlementdomain "github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema. The ledger tables are
// created on startup so a fresh database is usable without a separate step.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

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
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// Models lists every table the ledger owns, in dependency order.
func Models() []any {
	return []any{
		&compdomain.ProfileRecord{},
		&ledgerdomain.RevenueSplit{},
		&ledgerdomain.Obligation{},
		&ledgerdomain.PayoutLine{},
		&settlementdomain.BatchPayment{},
		&settlementdomain.BatchPaymentItem{},
		&reminderdomain.State{},
		&eventdomain.LedgerEvent{},
		&auditdomain.AuditLog{},
	}
}

// mysqlProfilesDDL replaces the partial unique index, which mysql lacks, with
// a unique key on a generated column that is NULL for closed profiles.
const mysqlProfilesDDL = `CREATE TABLE IF NOT EXISTS compensation_profiles (
    id                 BIGINT       NOT NULL PRIMARY KEY,
    instructor_id      VARCHAR(64)  NOT NULL,
    model_kind         VARCHAR(16)  NOT NULL,
    monthly_amount     BIGINT       NULL,
    auto_debit         BOOLEAN      NOT NULL DEFAULT FALSE,
    rate_basis_points  BIGINT       NULL,
    effective_from     DATETIME(6)  NOT NULL,
    effective_to       DATETIME(6)  NULL,
    created_by         VARCHAR(128) NOT NULL DEFAULT '',
    created_at         DATETIME(6)  NOT NULL,
    open_instructor_id VARCHAR(64) AS (IF(effective_to IS NULL, instructor_id, NULL)) VIRTUAL,
    KEY idx_compensation_profiles_instructor (instructor_id, effective_from),
    UNIQUE KEY ux_compensation_profiles_open (open_instructor_id)
)`

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql, which the embedded SQL does not target.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	dialect := ""
	if conn.Dialector != nil {
		dialect = conn.Dialector.Name()
	}
	if dialect == "mysql" {
		if err := conn.Exec(mysqlProfilesDDL).Error; err != nil {
			return fmt.Errorf("create compensation_profiles: %w", err)
		}
	}
	if err := conn.AutoMigrate(modelsFor(dialect)...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// modelsFor drops the tables a dialect creates from its own DDL.
func modelsFor(dialect string) []any {
	models := Models()
	if dialect != "mysql" {
		return models
	}
	out := make([]any, 0, len(models))
	for _, m := range models {
		if _, ok := m.(*compdomain.ProfileRecord); ok {
			continue
		}
		out = append(out, m)
	}
	return out
}
