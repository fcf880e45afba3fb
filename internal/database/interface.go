// Package database stores the local run ledger.
package database

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/deltascan/internal/config"
)

// Supported values of database.driver.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Querier runs raw SQL. Rows are scanned into structs through their db tags.
type Querier interface {
	// Select fills dest, a pointer to a slice of structs.
	Select(ctx context.Context, dest any, query string, args ...any) error
	// Get fills dest from the first row, or returns sql.ErrNoRows.
	Get(ctx context.Context, dest any, query string, args ...any) error
	Exec(ctx context.Context, query string, args ...any) error
}

// Recorder writes db-tagged records.
type Recorder interface {
	Insert(ctx context.Context, table string, record any) (int64, error)
	Update(ctx context.Context, table string, record any, where string, args ...any) error
}

// DB is a ledger connection, backed by SQLite or MySQL.
type DB interface {
	Querier
	Recorder

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	// Driver reports DriverSQLite or DriverMySQL.
	Driver() string
}

// New opens the ledger selected by cfg.Driver; an empty driver means SQLite.
func New(cfg config.DatabaseConfig) (DB, error) {
	switch cfg.Driver {
	case DriverMySQL:
		return NewMySQL(cfg)
	case DriverSQLite, "sqlite3", "":
		return NewSQLite(cfg)
	}
	return nil, fmt.Errorf("database driver %q is not supported, use %s or %s", cfg.Driver, DriverSQLite, DriverMySQL)
}
