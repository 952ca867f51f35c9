// Package database opens the shared gorm handle used by the identity and application stores.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DriverPostgres labels connections opened with the Postgres dialector.
	DriverPostgres = "postgres"
	// DriverSQLite labels connections opened with the SQLite dialector.
	DriverSQLite = "sqlite"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("database.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("database.empty_database_url")
	errSQLiteEmptyPath     = errors.New("database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("database.unsupported_no_scheme")
)

// Connection bundles the gorm handle with the selected driver label.
type Connection struct {
	DB     *gorm.DB
	Driver string

	pool *pgxpool.Pool
}

// Open resolves the dialector from the URL scheme and connects.
func Open(ctx context.Context, databaseURL string) (*Connection, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	var pool *pgxpool.Pool
	if driverLabel == DriverPostgres {
		pool, err = buildPostgresPool(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		dialector = postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)})
	}
	connection := &Connection{Driver: driverLabel, pool: pool}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if openErr != nil {
		connection.closePool()
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, openErr)
	}
	connection.DB = gormDB
	sqlDB, sqlErr := gormDB.DB()
	if sqlErr != nil {
		connection.closePool()
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, sqlErr)
	}
	if driverLabel == DriverSQLite {
		// SQLite has a single writer; one connection keeps transactions from tripping over table locks.
		sqlDB.SetMaxOpenConns(1)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("database.ping.%s: %w", driverLabel, pingErr)
	}
	return connection, nil
}

// Close releases the underlying pool.
func (connection *Connection) Close() error {
	defer connection.closePool()
	sqlDB, err := connection.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (connection *Connection) closePool() {
	if connection.pool != nil {
		connection.pool.Close()
	}
}

func buildPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := postgresPoolConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("database.postgres.pool: %w", err)
	}
	return pool, nil
}

// postgresPoolConfig applies pool limits unless the URL already sets pool_* parameters.
func postgresPoolConfig(databaseURL string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database.postgres.config: %w", err)
	}
	if !strings.Contains(databaseURL, "pool_min_conns") {
		config.MinConns = 1
	}
	if !strings.Contains(databaseURL, "pool_max_conns") {
		config.MaxConns = 8
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	return config, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), DriverPostgres, nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), DriverSQLite, nil
	default:
		return nil, "", fmt.Errorf("database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
