// Package database provides support for access the database.
package database

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	// PostgresDriver is the pgx stdlib driver name
	PostgresDriver = "pgx"
	// SqliteDriver is the pure go sqlite driver name
	SqliteDriver = "sqlite"
)

func init() {
	// sqlx only knows the cgo sqlite driver names, register the bind type for modernc's driver
	sqlx.BindDriver(SqliteDriver, sqlx.QUESTION)
}

// Config is the required properties to use the database.
// When Driver is SqliteDriver, Name is the sqlite file name (or ":memory:") and the remaining fields are ignored.
type Config struct {
	Driver     string
	User       string
	Password   string
	Host       string
	Name       string
	DisableTLS bool
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "", PostgresDriver:
		return sqlx.Connect(PostgresDriver, postgresURL(cfg))
	case SqliteDriver:
		db, err := sqlx.Connect(SqliteDriver, cfg.Name)
		if err != nil {
			return nil, err
		}
		// every connection to ":memory:" is its own database
		if cfg.Name == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// postgresURL builds connection url for pgx from Config
func postgresURL(cfg Config) string {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// StatusCheck returns nil if it can successfully talk to the database.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	const q = `SELECT true`
	var tmp bool
	return db.QueryRowContext(ctx, q).Scan(&tmp)
}

// PrepareNamedQueryFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns rebound query string and arguments slice
func PrepareNamedQueryFromMap(
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (string, []interface{}, error) {

	query, args, err := sqlx.Named(statementString, sqlArgMap)
	if err != nil {
		return query, nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return query, nil, err
	}
	query = db.Rebind(query)
	return query, args, nil
}

// PrepareNamedQueryRowsFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns sqlx.Rows after executing query with db.QueryxContext
func PrepareNamedQueryRowsFromMap(
	ctx context.Context,
	statementString string,
	db *sqlx.DB,
	sqlArgMap map[string]interface{}) (*sqlx.Rows, error) {

	query, args, err := PrepareNamedQueryFromMap(statementString, db, sqlArgMap)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
