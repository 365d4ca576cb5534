// Package dbtest opens throwaway migrated SQLite stores for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/config"
	"github.com/angelmondragon/settlement/pkg/db"
	"github.com/angelmondragon/settlement/pkg/migrate"
)

// Open returns a client over a fresh in-memory database with every
// migration applied. The database lives until the test ends.
func Open(t testing.TB, opts ...db.Option) *db.Client {
	t.Helper()

	name := fmt.Sprintf("file:settle_%s?mode=memory&cache=shared", uuid.NewString())
	dsn, err := db.SQLiteDSN(name, 0)
	if err != nil {
		t.Fatalf("sqlite dsn: %v", err)
	}

	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping sqlite: %v", err)
	}

	migrator, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open migrator: %v", err)
	}
	defer migrator.Close()
	if err := migrate.Up(context.Background(), migrator, config.DriverSQLite, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db.NewFromConn(conn, nil, opts...)
}
