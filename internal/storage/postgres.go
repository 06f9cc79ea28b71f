package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Credentials locates the cart database.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// MaxOpenConns caps the pool; zero picks defaultMaxOpenConns.
	MaxOpenConns int
}

const (
	defaultMaxOpenConns = 10
	connMaxIdleTime     = 5 * time.Minute
)

// DSN renders the credentials as a lib/pq connection URL, escaping the user
// and password.
func (c *Credentials) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// PostgresStorage keeps cart payloads as JSONB rows keyed by cart key.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens a pool for cred and checks the server answers.
func NewPostgresStorage(ctx context.Context, cred *Credentials) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("open cart database: %w", err)
	}

	maxOpen := cred.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(maxOpen/2, 1))
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cart database %s: %w", cred.Host, err)
	}
	return &PostgresStorage{db: db}, nil
}

// RunMigrations applies the migrations under dir, tracking them in their own
// table so the schema can share a database with other services.
func (p *PostgresStorage) RunMigrations(dir string) error {
	driver, err := postgres.WithInstance(p.db, &postgres.Config{
		MigrationsTable: "cart_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("cart migrations driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("cart migrations source %s: %w", dir, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply cart migrations: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM cart_payloads WHERE cart_key = $1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart payload: %w", err)
	}
	return payload, nil
}

// Set stores value as JSONB; it must be valid JSON.
func (p *PostgresStorage) Set(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO cart_payloads (cart_key, payload, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (cart_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`

	if _, err := p.db.ExecContext(ctx, query, key, string(value)); err != nil {
		return fmt.Errorf("upsert cart payload: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM cart_payloads WHERE cart_key = $1`, key); err != nil {
		return fmt.Errorf("delete cart payload: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Close() error {
	return p.db.Close()
}
