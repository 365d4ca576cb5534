package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migrate_%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestUpCreatesSettlementSchema(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	require.NoError(t, Up(ctx, db, "sqlite", nil))

	for _, table := range []string{"products", "inventory", "orders", "order_lines", "outbox_events"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	version, err := Version(ctx, db, "sqlite")
	require.NoError(t, err)
	require.EqualValues(t, 20261001093000, version)

	// re-running is a no-op
	require.NoError(t, Up(ctx, db, "sqlite", nil))
}

func TestInventoryRejectsNegativeStock(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	require.NoError(t, Up(ctx, db, "sqlite", nil))

	_, err := db.ExecContext(ctx, `INSERT INTO products (id, name, base_price) VALUES (1, 'SSD', 100)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO inventory (product_id, quantity_on_hand, min_threshold) VALUES (1, 2, 1)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE inventory SET quantity_on_hand = quantity_on_hand - 3 WHERE product_id = 1`)
	require.Error(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO inventory (product_id, quantity_on_hand) VALUES (99, 1)`)
	require.Error(t, err, "inventory rows need a product")
}

func TestMigrateToVersionWalksDown(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	require.NoError(t, Up(ctx, db, "sqlite", nil))

	require.NoError(t, MigrateToVersion(ctx, db, "sqlite", "20261001090000", nil))
	version, err := Version(ctx, db, "sqlite")
	require.NoError(t, err)
	require.EqualValues(t, 20261001090000, version)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'orders'`).Scan(&count))
	require.Zero(t, count)

	require.Error(t, MigrateToVersion(ctx, db, "sqlite", "not-a-version", nil))
}

func TestStatusReportsPendingAndApplied(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	require.NoError(t, MigrateToVersion(ctx, db, "sqlite", "20261001090000", nil))

	statuses, err := Status(ctx, db, "sqlite")
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	require.Equal(t, goose.StateApplied, statuses[0].State)
	require.Equal(t, goose.StatePending, statuses[2].State)
}

func TestValidateEmbeddedMigrations(t *testing.T) {
	require.NoError(t, Validate(Migrations()))
}

func TestValidateRejectsBadNames(t *testing.T) {
	bad := fstest.MapFS{
		"001_init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	require.Error(t, Validate(bad))

	missingDown := fstest.MapFS{
		"20260101000000_init.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	}
	require.Error(t, Validate(missingDown))

	require.Error(t, Validate(fstest.MapFS{}))
}

func TestDialectFor(t *testing.T) {
	_, err := DialectFor("mysql")
	require.Error(t, err)

	d, err := DialectFor("POSTGRES")
	require.NoError(t, err)
	require.NotEmpty(t, d)
}
