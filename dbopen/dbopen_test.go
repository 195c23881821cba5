package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenMemoryAppliesPragmas(t *testing.T) {
	db := OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fk)
	}
}

func TestWithSchema(t *testing.T) {
	db := OpenMemory(t, WithSchema("CREATE TABLE IF NOT EXISTS x (id INTEGER PRIMARY KEY)"))

	if _, err := db.Exec("INSERT INTO x (id) VALUES (1)"); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
}

func TestRunTxCommits(t *testing.T) {
	db := OpenMemory(t, WithSchema("CREATE TABLE x (id INTEGER)"))
	ctx := context.Background()

	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO x (id) VALUES (42)")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM x").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestRunTxRollsBackOnError(t *testing.T) {
	db := OpenMemory(t, WithSchema("CREATE TABLE x (id INTEGER)"))
	ctx := context.Background()

	boom := errors.New("boom")
	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO x (id) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM x").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestIsBusy(t *testing.T) {
	if IsBusy(nil) {
		t.Fatal("nil is not busy")
	}
	if !IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected busy")
	}
	if IsBusy(errors.New("syntax error")) {
		t.Fatal("syntax error is not busy")
	}
}
