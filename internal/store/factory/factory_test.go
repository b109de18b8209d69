package factory

import (
	"path/filepath"
	"testing"
)

func TestNewFromDSNSelectsSQLite(t *testing.T) {
	for _, dsn := range []string{
		filepath.Join(t.TempDir(), "state.db"),
		"sqlite://" + filepath.Join(t.TempDir(), "state.db"),
	} {
		s, err := NewFromDSN(dsn)
		if err != nil {
			t.Fatalf("%q: %v", dsn, err)
		}
		_ = s.Close()
	}
}

func TestNewFromDSNRejectsEmpty(t *testing.T) {
	if _, err := NewFromDSN("  "); err == nil {
		t.Fatalf("want error for empty DSN")
	}
}
