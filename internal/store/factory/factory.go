// Package factory selects a store backend from a DSN.
package factory

import (
	"errors"
	"strings"

	"github.com/daehan/warden/internal/store"
	pg "github.com/daehan/warden/internal/store/postgres"
	sq "github.com/daehan/warden/internal/store/sqlite"
)

// NewFromDSN selects a store implementation:
//   - "postgres://..." / "postgresql://..." -> PostgreSQL
//   - "sqlite://<path>" or a bare filesystem path -> SQLite
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty store DSN")
	}
	ld := strings.ToLower(d)
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	return sq.New(d)
}
