package quorumlock

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const DefaultTable = "quorumlock_locks"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type sqlDialect struct {
	name   string
	create string
	set    string
	// set reports a grant through a scanned bool instead of rows affected
	setReturnsRow bool
	del           string
}

// sqlNode stores one row per held key. Rows whose expires_at has passed are
// treated as absent and overwritten by the next set.
type sqlNode struct {
	db      *sql.DB
	table   string
	dialect sqlDialect
}

func newSQLNode(db *sql.DB, table string, d sqlDialect) (*sqlNode, error) {
	if db == nil {
		return nil, lockError(ErrInvalidArgument, "db is required")
	}
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, lockError(ErrInvalidArgument, fmt.Sprintf("invalid table name %q", table))
	}
	return &sqlNode{db: db, table: table, dialect: d}, nil
}

func (n *sqlNode) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	query := n.query(n.dialect.set)
	if n.dialect.setReturnsRow {
		var acquired bool
		if err := n.db.QueryRowContext(ctx, query, key, value, ttl.Microseconds()).Scan(&acquired); err != nil {
			return false, err
		}
		return acquired, nil
	}

	result, err := n.db.ExecContext(ctx, query, key, value, ttl.Microseconds())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (n *sqlNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	result, err := n.db.ExecContext(ctx, n.query(n.dialect.del), key, value)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// EnsureTable creates the lock table when it does not exist.
func (n *sqlNode) EnsureTable(ctx context.Context) error {
	_, err := n.db.ExecContext(ctx, n.query(n.dialect.create))
	return err
}

func (n *sqlNode) Close() error {
	return n.db.Close()
}

func (n *sqlNode) query(tmpl string) string {
	return strings.ReplaceAll(tmpl, "{table}", n.table)
}

func openSQLNode(ctx context.Context, driver, dsn, table string, d sqlDialect) (*sqlNode, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(3 * time.Minute)

	n, err := newSQLNode(db, table, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	if err := n.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s lock table: %w", d.name, err)
	}
	return n, nil
}
