package quorumlock

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"

	_ "github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	name: "postgres",
	create: `CREATE TABLE IF NOT EXISTS {table} (
	lock_key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`,
	set: `WITH upsert AS (
	INSERT INTO {table} (lock_key, token, expires_at)
	VALUES ($1, $2, NOW() + $3 * INTERVAL '1 microsecond')
	ON CONFLICT (lock_key) DO UPDATE
	SET token = EXCLUDED.token,
	    expires_at = EXCLUDED.expires_at
	WHERE {table}.expires_at <= NOW()
	RETURNING 1
)
SELECT EXISTS (SELECT 1 FROM upsert)`,
	setReturnsRow: true,
	del:           `DELETE FROM {table} WHERE lock_key = $1 AND token = $2`,
}

type PostgresNode struct {
	*sqlNode
}

func NewPostgresNode(db *sql.DB, table string) (*PostgresNode, error) {
	n, err := newSQLNode(db, table, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresNode{n}, nil
}

func PostgresDialer(table string) Dialer {
	return func(ctx context.Context, node Node) (NodeClient, error) {
		n, err := openSQLNode(ctx, "postgres", postgresDSN(node), table, postgresDialect)
		if err != nil {
			return nil, err
		}
		return &PostgresNode{n}, nil
	}
}

func postgresDSN(node Node) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   node.Addr(),
		Path:   "/" + node.Database,
	}
	if node.Username != "" {
		if node.Password != "" {
			u.User = url.UserPassword(node.Username, node.Password)
		} else {
			u.User = url.User(node.Username)
		}
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("connect_timeout", strconv.FormatInt(wholeSeconds(node.timeout()), 10))
	u.RawQuery = q.Encode()
	return u.String()
}
