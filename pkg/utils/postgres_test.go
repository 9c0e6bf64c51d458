package utils

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPendingMigrations_SortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_audit.sql":         {Data: []byte("select 1")},
		"001_call_sessions.sql": {Data: []byte("select 1")},
		"003_profiles.sql":      {Data: []byte("select 1")},
		"README.md":             {Data: []byte("docs")},
	}

	got, err := PendingMigrations(fsys, map[string]bool{"002_audit": true})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := []string{"001_call_sessions.sql", "003_profiles.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPostgresPoolDefaults(t *testing.T) {
	p := PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if p.MaxOpenConns != 4 || p.MaxIdleConns != 4 || p.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected pool defaults: %+v", p)
	}
	if d := (PostgresPoolConfig{}).withDefaults(); d.MaxOpenConns != 25 || d.MaxIdleConns != 10 {
		t.Fatalf("unexpected zero-value defaults: %+v", d)
	}
}

func TestUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "call_sessions_room_id_key"})
	if name, ok := UniqueViolation(dup); !ok || name != "call_sessions_room_id_key" {
		t.Fatalf("expected unique violation, got %q %v", name, ok)
	}
	if _, ok := UniqueViolation(&pgconn.PgError{Code: "23503"}); ok {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if _, ok := UniqueViolation(errors.New("boom")); ok {
		t.Fatalf("plain error is not a unique violation")
	}
}
