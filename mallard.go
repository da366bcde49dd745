package mallard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
)

// DriverName is the name this package registers with database/sql.
const DriverName = "mallard"

func init() {
	sql.Register(DriverName, &Driver{})
}

// Driver implements driver.Driver and driver.DriverContext over worker
// processes.
type Driver struct{}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

// Open implements driver.Driver.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	connector, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}

	return connector.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	return NewConnector(cfg)
}

// Connector hands the pool new connections, each backed by its own worker
// process. The config is validated once here, so every Connect call works
// from known-good settings.
type Connector struct {
	cfg Config
}

var _ driver.Connector = (*Connector)(nil)

// NewConnector validates cfg, fills in defaults and returns a connector
// for sql.OpenDB.
func NewConnector(cfg Config) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Connector{cfg: cfg.withDefaults()}, nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	return connect(ctx, c.cfg)
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &Driver{}
}

// OpenDB builds a connection pool from a Config. Pool sizing is the
// caller's business through the usual db.SetMaxOpenConns and friends;
// each pooled connection is one worker process.
func OpenDB(cfg Config) (*sql.DB, error) {
	connector, err := NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return sql.OpenDB(connector), nil
}

// MustOpenDB is OpenDB for program setup paths where a bad config is
// unrecoverable. It panics on error.
func MustOpenDB(cfg Config) *sql.DB {
	db, err := OpenDB(cfg)
	if err != nil {
		panic(err)
	}

	return db
}
