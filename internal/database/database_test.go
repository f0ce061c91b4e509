package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, SQLite); err != nil {
			t.Fatalf("Migrate run %d: %v", i+1, err)
		}
	}
	for _, table := range []string{"users", "refresh_tokens", "donations", "requests", "deliveries", "delivery_events"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
}

func TestSchemaDialects(t *testing.T) {
	mysql := strings.Join(schemaStatements(MySQL), "\n")
	sqlite := strings.Join(schemaStatements(SQLite), "\n")
	if !strings.Contains(mysql, "ENGINE=InnoDB") || !strings.Contains(mysql, "DATETIME(6)") {
		t.Fatalf("mysql schema lacks dialect markers")
	}
	if strings.Contains(sqlite, "DATETIME(6)") {
		t.Fatalf("sqlite schema uses mysql types")
	}
}

func TestWithTx(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	if _, err := db.Exec(`CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error: got=%v want=%v", err, boom)
	}
	if err := WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (v) VALUES (2)`)
		return err
	}); err != nil {
		t.Fatalf("WithTx commit: %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = WithTx(ctx, db, func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO t (v) VALUES (3)`)
			panic("mid-transaction")
		})
	}()

	var n, sum int
	if err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(v), 0) FROM t`).Scan(&n, &sum); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 || sum != 2 {
		t.Fatalf("rows after WithTx: got=%d/%d want=1/2", n, sum)
	}
}
