package migration

import (
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	require.Equal(t, ups, downs)

	versions := make([]string, 0, len(ups))
	for v := range ups {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	require.True(t, strings.HasPrefix(versions[0], "000001_"))
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn, zap.NewNop()))

	for _, table := range []string{
		"compensation_profiles", "revenue_splits", "obligations", "payout_lines",
		"batch_payments", "batch_payment_items", "reminder_states", "ledger_events", "audit_logs",
	} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}

	// idempotent on restart
	require.NoError(t, Run(conn, zap.NewNop()))
}

func TestAutoMigrateKeepsOneOpenProfile(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))

	insert := `INSERT INTO compensation_profiles
		(id, instructor_id, model_kind, auto_debit, effective_from, effective_to, created_by, created_at)
		VALUES (?, 'ins-1', 'free', false, ?, ?, '', ?)`
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := jan.AddDate(0, 1, 0)
	closed := feb.Add(-time.Microsecond)

	require.NoError(t, conn.Exec(insert, 1, jan, closed, jan).Error)
	require.NoError(t, conn.Exec(insert, 2, feb, nil, jan).Error)
	require.Error(t, conn.Exec(insert, 3, feb.AddDate(0, 1, 0), nil, jan).Error, "second open profile")
}

func TestModelsForMySQLSkipsProfiles(t *testing.T) {
	require.Len(t, modelsFor("sqlite"), len(Models()))

	mysqlModels := modelsFor("mysql")
	require.Len(t, mysqlModels, len(Models())-1)
	for _, m := range mysqlModels {
		_, ok := m.(*compdomain.ProfileRecord)
		require.False(t, ok)
	}
	require.Contains(t, mysqlProfilesDDL, "UNIQUE KEY ux_compensation_profiles_open (open_instructor_id)")
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	require.Error(t, RunMigrations(nil))
	require.Error(t, AutoMigrate(nil))
}
