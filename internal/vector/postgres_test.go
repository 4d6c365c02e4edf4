package vector

import (
	"context"
	"testing"
)

func TestNewPostgresBackend_RequiresTable(t *testing.T) {
	_, err := NewPostgresBackend(context.Background(), PostgresConfig{DSN: "postgres://localhost/db"})
	if err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestPgVector(t *testing.T) {
	got := pgVector([]float32{0.1, 0.2, 0.3})
	want := "[0.1,0.2,0.3]"
	if got != want {
		t.Fatalf("pgVector = %q, want %q", got, want)
	}
}

func TestPgVector_Empty(t *testing.T) {
	if got := pgVector(nil); got != "[]" {
		t.Fatalf("pgVector(nil) = %q, want []", got)
	}
}
