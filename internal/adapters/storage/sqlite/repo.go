package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/uktrade/tamato/internal/adapters/storage/sqlstore"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// pragmas are applied to every connection opened through the DSN.
const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

var memoryDBSeq atomic.Int64

// Repository represents repository data used by this package.
type Repository struct {
	*sqlstore.Store
}

// Dialect returns the sqlite flavour of the shared SQL store.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:            driverName,
		UniqueViolation: uniqueViolation,
	}
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return open("file:" + path + "?" + pragmas)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	name := fmt.Sprintf("tamato-%d", memoryDBSeq.Add(1))
	return open("file:" + name + "?mode=memory&cache=shared&" + pragmas)
}

func open(dsn string) (*Repository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers, which the order counter relies on.
	db.SetMaxOpenConns(1)
	store := sqlstore.New(db, Dialect())
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{Store: store}, nil
}

// uniqueViolation reports whether err is a sqlite unique-key failure.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	if !strings.Contains(strings.ToLower(msg), "unique constraint failed") {
		return "", false
	}
	return msg, true
}
