package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"intervue/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps *sql.DB with the driver name so queries written with "?"
// placeholders run unchanged on postgres.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db     *sql.DB
		err    error
		driver string
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if !strings.Contains(dbCfg.DSN, ":memory:") && !strings.HasPrefix(dbCfg.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(dbCfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", sqliteDSN(dbCfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// Every new connection to :memory: is a fresh database.
		if strings.Contains(dbCfg.DSN, ":memory:") {
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		driver = "mysql"
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true&loc=UTC"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "postgresql":
		driver = "postgres"
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "sslmode=disable"
			}
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

// sqliteDSN turns on foreign keys for every pooled connection.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// Rebind rewrites "?" placeholders into the driver's native form.
func (db *DB) Rebind(query string) string {
	if db.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

// InsertID runs an INSERT and returns the generated integer primary key.
// postgres has no LastInsertId, so the statement gets a RETURNING clause there.
func (db *DB) InsertID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.Driver == "postgres" {
		var id int64
		if err := db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Migrate ensures the required tables are present.
func Migrate(db *DB) error {
	var stmts []string
	switch db.Driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				profile_image TEXT NOT NULL DEFAULT '',
				realtime_id TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS interview_sessions (
				id TEXT PRIMARY KEY,
				problem TEXT NOT NULL,
				difficulty TEXT NOT NULL,
				host_id INTEGER NOT NULL,
				participant_id INTEGER,
				joined_at DATETIME,
				call_id TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'active',
				resource_state TEXT NOT NULL DEFAULT 'provisioning',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				ended_at DATETIME,
				FOREIGN KEY(host_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY(participant_id) REFERENCES users(id) ON DELETE SET NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON interview_sessions(status, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_host ON interview_sessions(host_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_participant ON interview_sessions(participant_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_resource_state ON interview_sessions(resource_state)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT NOT NULL AUTO_INCREMENT,
				username VARCHAR(255) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL,
				profile_image TEXT NOT NULL,
				realtime_id VARCHAR(64) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				expires_at DATETIME(6) NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS interview_sessions (
				id VARCHAR(36) NOT NULL,
				problem VARCHAR(255) NOT NULL,
				difficulty VARCHAR(64) NOT NULL,
				host_id BIGINT NOT NULL,
				participant_id BIGINT NULL,
				joined_at DATETIME(6) NULL,
				call_id VARCHAR(128) NOT NULL UNIQUE,
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				resource_state VARCHAR(32) NOT NULL DEFAULT 'provisioning',
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				ended_at DATETIME(6) NULL,
				PRIMARY KEY (id),
				INDEX idx_sessions_status_created (status, created_at),
				INDEX idx_sessions_host (host_id),
				INDEX idx_sessions_participant (participant_id),
				INDEX idx_sessions_resource_state (resource_state),
				CONSTRAINT fk_sessions_host FOREIGN KEY (host_id) REFERENCES users(id) ON DELETE CASCADE,
				CONSTRAINT fk_sessions_participant FOREIGN KEY (participant_id) REFERENCES users(id) ON DELETE SET NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				profile_image TEXT NOT NULL DEFAULT '',
				realtime_id TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS interview_sessions (
				id TEXT PRIMARY KEY,
				problem TEXT NOT NULL,
				difficulty TEXT NOT NULL,
				host_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				participant_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
				joined_at TIMESTAMPTZ,
				call_id TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'active',
				resource_state TEXT NOT NULL DEFAULT 'provisioning',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				ended_at TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON interview_sessions(status, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_host ON interview_sessions(host_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_participant ON interview_sessions(participant_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_resource_state ON interview_sessions(resource_state)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.Driver)
	}

	for _, stmt := range stmts {
		if _, err := db.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.Driver, err)
		}
	}
	return nil
}
