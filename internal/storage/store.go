// Package storage is the relational backing for the order bot: customer
// directory, product and payment catalogs, settings, the order commit
// protocol, artwork and the audit log. SQLite is the default; PostgreSQL is
// supported through the same queries.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"orderbot/internal/domain"
)

// Dialect selects placeholder and DDL flavour.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a config driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// Store wraps a *sql.DB. Typed views (Customers, Products, Payments, Orders)
// share it.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger

	defaultLeadTimeDays    int
	initialStageID         int64
	inProductionSettingKey string
}

// Options tune the commit protocol.
type Options struct {
	DefaultLeadTimeDays    int
	InitialStageID         int64
	InProductionSettingKey string
}

func (o Options) withDefaults() Options {
	if o.DefaultLeadTimeDays <= 0 {
		o.DefaultLeadTimeDays = 30
	}
	if o.InitialStageID <= 0 {
		o.InitialStageID = 1
	}
	if o.InProductionSettingKey == "" {
		o.InProductionSettingKey = "status_em_producao"
	}
	return o
}

// Open connects, applies pending migrations and returns a ready store. For
// sqlite, dsn is a file path.
func Open(dialect Dialect, dsn string, opts Options, logger *slog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		db, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err != nil {
			return nil, fmt.Errorf("cannot open database: %w", err)
		}
		// single connection for SQLite
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("cannot open database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	store := New(db, dialect, opts, logger)
	if err := RunMigrations(db, dialect, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

// New wraps an already opened database without migrating it.
func New(db *sql.DB, dialect Dialect, opts Options, logger *slog.Logger) *Store {
	opts = opts.withDefaults()
	return &Store{
		db:                     db,
		dialect:                dialect,
		logger:                 logger,
		defaultLeadTimeDays:    opts.DefaultLeadTimeDays,
		initialStageID:         opts.InitialStageID,
		inProductionSettingKey: opts.InProductionSettingKey,
	}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// q rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) q(query string) string {
	return rebind(s.dialect, query)
}

func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// likeContains builds a %token% pattern escaping LIKE metacharacters; use with
// ESCAPE '\'.
func likeContains(token string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(token) + "%"
}

func depErr(op string, err error) error {
	return domain.Wrap(domain.KindDependency, op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
