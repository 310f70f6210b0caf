package quorumlock

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
)

// The token column is only overwritten when the stored row has expired.
// MySQL evaluates the assignments left to right, so both IF()s still see
// the old expires_at. Rows affected is 1 for an insert, 2 for an overwrite
// and 0 when the key is held.
var mysqlDialect = sqlDialect{
	name: "mysql",
	create: `CREATE TABLE IF NOT EXISTS {table} (
	lock_key VARCHAR(255) NOT NULL PRIMARY KEY,
	token VARCHAR(64) NOT NULL,
	expires_at DATETIME(6) NOT NULL
)`,
	set: `INSERT INTO {table} (lock_key, token, expires_at)
VALUES (?, ?, NOW(6) + INTERVAL ? MICROSECOND)
ON DUPLICATE KEY UPDATE
	token = IF(expires_at <= NOW(6), VALUES(token), token),
	expires_at = IF(expires_at <= NOW(6), VALUES(expires_at), expires_at)`,
	del: `DELETE FROM {table} WHERE lock_key = ? AND token = ?`,
}

type MySQLNode struct {
	*sqlNode
}

func NewMySQLNode(db *sql.DB, table string) (*MySQLNode, error) {
	n, err := newSQLNode(db, table, mysqlDialect)
	if err != nil {
		return nil, err
	}
	return &MySQLNode{n}, nil
}

// MySQLDialer opens one connection pool per node and creates the lock table.
func MySQLDialer(table string) Dialer {
	return func(ctx context.Context, node Node) (NodeClient, error) {
		n, err := openSQLNode(ctx, "mysql", mysqlDSN(node), table, mysqlDialect)
		if err != nil {
			return nil, err
		}
		return &MySQLNode{n}, nil
	}
}

func mysqlDSN(node Node) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = node.Addr()
	cfg.User = node.Username
	cfg.Passwd = node.Password
	cfg.DBName = node.Database
	cfg.Timeout = node.timeout()
	cfg.ReadTimeout = node.timeout()
	cfg.WriteTimeout = node.timeout()
	cfg.ParseTime = true
	return cfg.FormatDSN()
}
