package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied once each, in order, and tracked in schema_version.
// {{PK}}, {{BLOB}} and {{TS}} are expanded per dialect.
var migrations = []migration{
	{
		Version:     1,
		Description: "catalog: sizes, grades, products, customers, payment methods, settings, statuses, stages",
		SQL: `
		CREATE TABLE IF NOT EXISTS sizes (
			id    {{PK}},
			label TEXT NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS grades (
			id   {{PK}},
			name TEXT NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS grade_sizes (
			id       {{PK}},
			grade_id BIGINT NOT NULL REFERENCES grades(id),
			size_id  BIGINT NOT NULL REFERENCES sizes(id),
			position INTEGER NOT NULL DEFAULT 0,
			UNIQUE (grade_id, size_id)
		);

		CREATE TABLE IF NOT EXISTS products (
			id             {{PK}},
			code           TEXT NOT NULL UNIQUE,
			description    TEXT NOT NULL,
			grade_id       BIGINT REFERENCES grades(id),
			lead_time_days INTEGER,
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			search_key     TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS customers (
			id          {{PK}},
			code        BIGINT NOT NULL UNIQUE,
			person_type TEXT NOT NULL,
			name        TEXT NOT NULL,
			trade_name  TEXT NOT NULL DEFAULT '',
			tax_id      TEXT NOT NULL,
			phone       TEXT NOT NULL DEFAULT '',
			address     TEXT NOT NULL DEFAULT '',
			postal_code TEXT NOT NULL DEFAULT '',
			city        TEXT NOT NULL DEFAULT '',
			search_key  TEXT NOT NULL DEFAULT '',
			created_at  {{TS}} DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_customers_tax ON customers(tax_id);

		CREATE TABLE IF NOT EXISTS payment_methods (
			id       {{PK}},
			name     TEXT NOT NULL UNIQUE,
			visible  BOOLEAN NOT NULL DEFAULT TRUE,
			active   BOOLEAN NOT NULL DEFAULT TRUE,
			position INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS settings (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS order_statuses (
			code INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS production_stages (
			id       INTEGER PRIMARY KEY,
			name     TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0
		);
		`,
	},
	{
		Version:     2,
		Description: "orders: headers, lines, size rows, stage progress, line artwork",
		SQL: `
		CREATE TABLE IF NOT EXISTS orders (
			id                {{PK}},
			code              BIGINT NOT NULL UNIQUE,
			customer_id       BIGINT NOT NULL REFERENCES customers(id),
			created_on        TEXT NOT NULL,
			delivery_on       TEXT NOT NULL,
			status_code       INTEGER NOT NULL,
			payment_method_id BIGINT REFERENCES payment_methods(id),
			emit_invoice      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        {{TS}} DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, code);

		CREATE TABLE IF NOT EXISTS order_lines (
			id          {{PK}},
			order_id    BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position    INTEGER NOT NULL,
			product_id  BIGINT NOT NULL REFERENCES products(id),
			grade_id    BIGINT REFERENCES grades(id),
			description TEXT NOT NULL DEFAULT '',
			quantity    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines(order_id, position);

		CREATE TABLE IF NOT EXISTS order_line_sizes (
			id            {{PK}},
			line_id       BIGINT NOT NULL REFERENCES order_lines(id) ON DELETE CASCADE,
			grade_size_id BIGINT NOT NULL REFERENCES grade_sizes(id),
			quantity      INTEGER NOT NULL,
			stage_id      BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_order_line_sizes_line ON order_line_sizes(line_id);

		CREATE TABLE IF NOT EXISTS stage_progress (
			id           {{PK}},
			line_size_id BIGINT NOT NULL REFERENCES order_line_sizes(id) ON DELETE CASCADE,
			size_id      BIGINT NOT NULL REFERENCES sizes(id),
			stage_id     BIGINT NOT NULL,
			worker_id    BIGINT,
			completed    BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   {{TS}}
		);
		CREATE INDEX IF NOT EXISTS idx_stage_progress_row ON stage_progress(line_size_id);

		CREATE TABLE IF NOT EXISTS order_line_images (
			id         {{PK}},
			line_id    BIGINT NOT NULL REFERENCES order_lines(id) ON DELETE CASCADE,
			image_ref  TEXT NOT NULL UNIQUE,
			mime       TEXT NOT NULL,
			width      INTEGER NOT NULL DEFAULT 0,
			height     INTEGER NOT NULL DEFAULT 0,
			data       {{BLOB}} NOT NULL,
			created_at {{TS}} DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_order_line_images_line ON order_line_images(line_id);
		`,
	},
	{
		Version:     3,
		Description: "audit_log for order and session events",
		SQL: `
		CREATE TABLE IF NOT EXISTS audit_log (
			id         {{PK}},
			action     TEXT NOT NULL,
			contact_id TEXT NOT NULL DEFAULT '',
			details    TEXT NOT NULL DEFAULT '',
			created_at {{TS}} DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
		`,
	},
}

// expandDDL fills the dialect tokens of a migration.
func expandDDL(dialect Dialect, ddl string) string {
	var r *strings.Replacer
	if dialect == DialectPostgres {
		r = strings.NewReplacer("{{PK}}", "BIGSERIAL PRIMARY KEY", "{{BLOB}}", "BYTEA", "{{TS}}", "TIMESTAMPTZ")
	} else {
		r = strings.NewReplacer("{{PK}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{BLOB}}", "BLOB", "{{TS}}", "DATETIME")
	}
	return r.Replace(ddl)
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	if _, err := db.Exec(expandDDL(dialect, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  {{TS}} DEFAULT CURRENT_TIMESTAMP
		)
	`)); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	record := rebind(dialect, "INSERT INTO schema_version (version, description) VALUES (?, ?)")
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		ddl := expandDDL(dialect, m.SQL)
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			logger.Warn("migration batch failed, retrying statement by statement",
				"version", m.Version,
				"err", err,
			)
			if err := applyMigrationStatements(db, m.Version, ddl, logger); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(record, m.Version, m.Description); err != nil {
				tx.Rollback()
				return fmt.Errorf("record migration v%d: %w", m.Version, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit migration v%d: %w", m.Version, err)
			}
			logger.Info("migration applied", "version", m.Version)
			continue
		}

		if _, err := db.Exec(record, m.Version, m.Description); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

// applyMigrationStatements runs each statement on its own, skipping the ones
// that were already applied by a partial earlier run.
func applyMigrationStatements(db *sql.DB, version int, ddl string, logger *slog.Logger) error {
	for _, stmt := range splitSQL(ddl) {
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", version, err, truncate(stmt, 200))
		}
	}
	return nil
}

func splitSQL(ddl string) []string {
	var out []string
	for _, s := range strings.Split(ddl, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// SchemaVersion returns the applied schema version, 0 on a fresh database.
func SchemaVersion(db *sql.DB, dialect Dialect) (int, error) {
	probe := "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'"
	if dialect == DialectPostgres {
		probe = "SELECT table_name FROM information_schema.tables WHERE table_name = 'schema_version'"
	}
	var tableName string
	if err := db.QueryRow(probe).Scan(&tableName); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// LatestSchemaVersion is the version RunMigrations brings a database to.
func LatestSchemaVersion() int { return schemaVersion }
