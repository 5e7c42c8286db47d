package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jordanlanch/bioforge/pkg/logger"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported dialects
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Client holds the database handle and the dialect it speaks
type Client struct {
	DB      *sql.DB
	Dialect string
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum amount of time a connection may be reused
	ConnMaxIdleTime time.Duration // Maximum amount of time a connection may be idle
}

// SSLConfig holds SSL/TLS configuration for database connections
type SSLConfig struct {
	Mode         string // disable, require, verify-ca, verify-full
	CertPath     string // Path to client certificate
	KeyPath      string // Path to client key
	RootCertPath string // Path to root CA certificate
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// BuildConnectionString builds a PostgreSQL connection string with SSL parameters
func BuildConnectionString(baseURL string, sslCfg *SSLConfig) (string, error) {
	if sslCfg == nil {
		return baseURL, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	query := parsedURL.Query()

	// Set SSL mode (overrides any existing sslmode in URL)
	if sslCfg.Mode != "" {
		query.Set("sslmode", sslCfg.Mode)
	}
	if sslCfg.CertPath != "" {
		query.Set("sslcert", sslCfg.CertPath)
	}
	if sslCfg.KeyPath != "" {
		query.Set("sslkey", sslCfg.KeyPath)
	}
	if sslCfg.RootCertPath != "" {
		query.Set("sslrootcert", sslCfg.RootCertPath)
	}

	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// NewClient opens a PostgreSQL client with the default pool and applies migrations
func NewClient(ctx context.Context, databaseURL string, sslCfg *SSLConfig, log logger.Logger) (*Client, error) {
	return NewClientWithPool(ctx, databaseURL, DefaultPoolConfig(), sslCfg, log)
}

// NewClientWithPool opens a PostgreSQL client with custom pool and SSL configuration
func NewClientWithPool(ctx context.Context, databaseURL string, poolCfg PoolConfig, sslCfg *SSLConfig, log logger.Logger) (*Client, error) {
	connStr, err := BuildConnectionString(databaseURL, sslCfg)
	if err != nil {
		return nil, fmt.Errorf("failed building connection string: %w", err)
	}

	if sslCfg != nil && sslCfg.Mode != "" && sslCfg.Mode != "disable" {
		log.Info("database SSL enabled", "mode", sslCfg.Mode, "client_cert", sslCfg.CertPath, "root_cert", sslCfg.RootCertPath)
	}

	db, err := sql.Open(DialectPostgres, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to postgres: %w", err)
	}

	db.SetMaxOpenConns(poolCfg.MaxOpenConns)
	db.SetMaxIdleConns(poolCfg.MaxIdleConns)
	db.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)

	log.Info("database connection pool configured",
		"max_open", poolCfg.MaxOpenConns,
		"max_idle", poolCfg.MaxIdleConns,
		"max_lifetime", poolCfg.ConnMaxLifetime.String(),
		"max_idle_time", poolCfg.ConnMaxIdleTime.String())

	client := &Client{DB: db, Dialect: DialectPostgres}
	if err := client.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("database connected and migrations applied")
	return client, nil
}

// NewSQLiteClient opens a SQLite database and applies migrations. A single
// connection is used so in-memory databases are shared by every query.
func NewSQLiteClient(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open(DialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	client := &Client{DB: db, Dialect: DialectSQLite}
	if err := client.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return client, nil
}

// Migrate creates the tables and indexes if they do not exist
func (c *Client) Migrate(ctx context.Context) error {
	stmts, ok := migrations[c.Dialect]
	if !ok {
		return fmt.Errorf("unsupported dialect %q", c.Dialect)
	}
	for _, stmt := range stmts {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed creating schema resources: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.DB.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Stats returns database connection pool statistics
func (c *Client) Stats() sql.DBStats {
	return c.DB.Stats()
}
