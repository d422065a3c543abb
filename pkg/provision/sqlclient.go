package provision

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SQLClient executes admin statements against a named database on the
// shared server. The pipeline uses the pgx-backed implementation; tests
// substitute a fake.
type SQLClient interface {
	// Exec runs a statement in database db.
	Exec(ctx context.Context, db, sql string, args ...any) error
	// Exists runs a query in database db and reports whether it returned
	// at least one row.
	Exists(ctx context.Context, db, query string, args ...any) (bool, error)
}

// PgClient is a pgx-backed SQLClient. It opens a short-lived connection
// per statement: provisioning runs a handful of statements once per
// deploy, so pooling would buy nothing.
type PgClient struct {
	// Host, Port, User, Password identify the admin principal on the
	// shared server.
	Host     string
	Port     int
	User     string
	Password string
}

func (c *PgClient) dsn(db string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, db)
}

func (c *PgClient) connect(ctx context.Context, db string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.dsn(db))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", db, err)
	}
	return conn, nil
}

// Exec implements SQLClient.
func (c *PgClient) Exec(ctx context.Context, db, sql string, args ...any) error {
	conn, err := c.connect(ctx, db)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, sql, args...); err != nil {
		return err
	}
	return nil
}

// Exists implements SQLClient.
func (c *PgClient) Exists(ctx context.Context, db, query string, args ...any) (bool, error) {
	conn, err := c.connect(ctx, db)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx)

	var one int
	err = conn.QueryRow(ctx, query, args...).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
