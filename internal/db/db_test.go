package db

import (
	"context"
	"testing"
)

func TestMigrateCreatesTables(t *testing.T) {
	db := NewTestDB(t)

	for _, table := range []string{"users", "settings", "revoked_tokens", "items", "item_photos", "attachments"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := NewTestDB(t)

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
}

func TestForeignKeysEnabledOnEveryConnection(t *testing.T) {
	db := NewTestDB(t)
	db.SetMaxOpenConns(4)

	ctx := context.Background()
	conns := make([]interface{ Close() error }, 0, 3)
	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("getting connection: %v", err)
		}
		conns = append(conns, conn)

		var fk int
		if err := conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk); err != nil {
			t.Fatalf("reading pragma: %v", err)
		}
		if fk != 1 {
			t.Errorf("connection %d: foreign_keys = %d, want 1", i, fk)
		}
	}
	for _, c := range conns {
		c.Close()
	}
}

func TestPhotoRowsCascadeWithItem(t *testing.T) {
	db := NewTestDB(t)

	if _, err := db.Exec(`INSERT INTO items (id) VALUES ('i1')`); err != nil {
		t.Fatalf("inserting item: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO item_photos (item_id, attachment_id, position) VALUES ('i1', 'a1', 1)`); err != nil {
		t.Fatalf("inserting photo: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM items WHERE id = 'i1'`); err != nil {
		t.Fatalf("deleting item: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM item_photos`).Scan(&n); err != nil {
		t.Fatalf("counting photos: %v", err)
	}
	if n != 0 {
		t.Errorf("expected photo rows to cascade, %d left", n)
	}
}
