package shared

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestMigrationRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("loadMigrations", func(t *testing.T) {
		migrations, err := loadMigrations()
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}

		if len(migrations) == 0 {
			t.Fatal("expected at least one migration")
		}

		for i := 1; i < len(migrations); i++ {
			if migrations[i].Version <= migrations[i-1].Version {
				t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
			}
		}

		if migrations[0].Name != "create_tables" {
			t.Errorf("expected first migration create_tables, got %q", migrations[0].Name)
		}
	})

	t.Run("RunMigrations And Rollback", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		applied, err := RunMigrations(ctx, db)
		if err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
		if applied == 0 {
			t.Error("expected at least one migration to be applied")
		}

		for _, table := range []string{"users", "credentials", "playlists"} {
			if _, err := db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
				t.Errorf("%s table should exist after migrations: %v", table, err)
			}
		}

		if err := RollbackMigration(ctx, db); err != nil {
			t.Fatalf("failed to rollback migration: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("failed to query schema_migrations after rollback: %v", err)
		}
		if count != applied-1 {
			t.Errorf("expected %d applied migrations after rollback, got %d", applied-1, count)
		}
	})

	t.Run("Idempotent Migrations", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if _, err := RunMigrations(ctx, db); err != nil {
			t.Fatalf("failed to run migrations first time: %v", err)
		}

		applied, err := RunMigrations(ctx, db)
		if err != nil {
			t.Fatalf("failed to run migrations second time: %v", err)
		}
		if applied != 0 {
			t.Errorf("expected no migrations on second run, got %d", applied)
		}
	})

	t.Run("Cascade", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if _, err := RunMigrations(ctx, db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		now := time.Now().UTC()
		stmts := []string{
			"INSERT INTO users (id, display_name, created_at, updated_at) VALUES ('u1', 'U', ?, ?)",
			"INSERT INTO credentials (user_id, access_token, refresh_token, expires_at) VALUES ('u1', 'a', 'r', ?)",
			"INSERT INTO playlists (id, name, owner_id, oldest_track, created_at, updated_at) VALUES ('p1', 'P', 'u1', ?, ?, ?)",
		}
		args := [][]any{{now, now}, {now}, {now, now, now}}
		for i, stmt := range stmts {
			if _, err := db.Exec(stmt, args[i]...); err != nil {
				t.Fatalf("insert %d failed: %v", i, err)
			}
		}

		if _, err := db.Exec("DELETE FROM users WHERE id = 'u1'"); err != nil {
			t.Fatalf("delete user failed: %v", err)
		}

		for _, table := range []string{"credentials", "playlists"} {
			var n int
			if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
				t.Fatalf("count %s failed: %v", table, err)
			}
			if n != 0 {
				t.Errorf("expected %s rows to cascade, got %d", table, n)
			}
		}
	})
}

func TestSplitStatements(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (id INT); -- trailing
CREATE TABLE b (
    id INT
);
`
	got := splitStatements(script)
	want := []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (\nid INT\n)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements() = %q, want %q", got, want)
	}
}
