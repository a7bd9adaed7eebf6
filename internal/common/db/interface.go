package db

import (
	"context"
	"database/sql"
	"time"
)

// Database abstracts a relational database with connection pooling.
// Implementations wrap a concrete driver so repositories stay driver-agnostic.
type Database interface {
	// Query executes a query that returns rows
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// QueryRow executes a query that returns at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) Row

	// Exec executes a query that doesn't return rows
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Transaction executes fn within a transaction, committing on nil error
	// and rolling back otherwise
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a new transaction with the given options
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	// Prepare creates a prepared statement
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Ping verifies the connection is still alive
	Ping(ctx context.Context) error

	// Close closes the database and releases pooled connections
	Close() error

	// Stats returns connection pool statistics
	Stats() Stats
}

// Transaction represents an in-progress database transaction
type Transaction interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	Prepare(ctx context.Context, query string) (Stmt, error)
	Commit() error
	Rollback() error
}

// Rows is the result of a query that returns multiple rows
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
	Columns() ([]string, error)
	ColumnTypes() ([]ColumnType, error)
	NextResultSet() bool
}

// Row is the result of a query that returns at most one row
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Stmt is a prepared statement bound to a database or transaction
type Stmt interface {
	Exec(ctx context.Context, args ...interface{}) (Result, error)
	Query(ctx context.Context, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, args ...interface{}) Row
	Close() error
}

// ColumnType describes the type of a result column
type ColumnType interface {
	Name() string
	DatabaseTypeName() string
	Length() (int64, bool)
	Nullable() (bool, bool)
	DecimalSize() (int64, int64, bool)
	ScanType() interface{}
}

// IsolationLevel is the transaction isolation level
type IsolationLevel int

// Isolation levels, mirroring database/sql
const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelWriteCommitted
	LevelRepeatableRead
	LevelSnapshot
	LevelSerializable
	LevelLinearizable
)

// TxOptions holds transaction options
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions maps TxOptions to database/sql options
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{
		Isolation: sql.IsolationLevel(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	}
}

// Stats holds connection pool statistics
type Stats struct {
	MaxOpenConnections int

	OpenConnections int
	InUse           int
	Idle            int

	WaitCount         int64
	WaitDuration      time.Duration
	MaxIdleClosed     int64
	MaxIdleTimeClosed int64
	MaxLifetimeClosed int64
}

// ConvertSQLStats maps database/sql pool stats to Stats
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
		MaxIdleClosed:      s.MaxIdleClosed,
		MaxIdleTimeClosed:  s.MaxIdleTimeClosed,
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
	}
}
