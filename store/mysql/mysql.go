// Package mysql provides the MySQL-backed store: go-sql-driver/mysql under
// the shared sqlstore queries, with SELECT ... FOR UPDATE row locks at
// READ COMMITTED.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/warp/points-engine/store/sqlstore"
)

// MySQL error numbers.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type Store struct {
	*sqlstore.Store
}

// PoolConfig sizes the connection pool. Zero values keep the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New connects with a DSN such as "user:pass@tcp(host:3306)/points".
func New(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Times are stored as text; rows-affected must count matched rows so
	// an UPDATE that changes nothing is not mistaken for a missing row.
	cfg.ParseTime = false
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	maxOpen, maxIdle, lifetime := 10, 5, 5*time.Minute
	if pool.MaxOpenConns > 0 {
		maxOpen = pool.MaxOpenConns
	}
	if pool.MaxIdleConns > 0 {
		maxIdle = pool.MaxIdleConns
	}
	if pool.ConnMaxLifetime > 0 {
		lifetime = pool.ConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Store: s}, nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "mysql",
		Schema:            schema,
		LockSuffix:        " FOR UPDATE",
		TxOptions:         &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		IsUniqueViolation: func(err error) bool { return errorNumber(err) == errDupEntry },
		IsConflict: func(err error) bool {
			n := errorNumber(err)
			return n == errDeadlock || n == errLockWaitTimeout
		},
	}
}

func errorNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		points BIGINT NOT NULL DEFAULT 0,
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		created_at VARCHAR(40) NOT NULL,
		CONSTRAINT chk_users_points CHECK (points >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		category VARCHAR(64) NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		points BIGINT NOT NULL,
		image VARCHAR(1024) NOT NULL DEFAULT '',
		video_url VARCHAR(1024) NOT NULL DEFAULT '',
		version VARCHAR(64) NOT NULL DEFAULT '',
		details TEXT NOT NULL,
		requirements TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		CONSTRAINT chk_products_points CHECK (points > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS user_products (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		product_id BIGINT NOT NULL,
		purchase_date VARCHAR(40) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		ip_server VARCHAR(255) NULL,
		last_ip_update VARCHAR(40) NULL,
		KEY idx_user_products_user (user_id, purchase_date),
		CONSTRAINT fk_user_products_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_user_products_product FOREIGN KEY (product_id) REFERENCES products(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS topup_requests (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		amount DECIMAL(14,2) NOT NULL,
		points BIGINT NOT NULL,
		payment_method VARCHAR(32) NOT NULL,
		proof_reference VARCHAR(1024) NOT NULL,
		transaction_date VARCHAR(40) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		created_at VARCHAR(40) NOT NULL,
		resolved_at VARCHAR(40) NULL,
		resolved_by VARCHAR(64) NULL,
		KEY idx_topup_requests_user (user_id, created_at),
		KEY idx_topup_requests_status (status, created_at),
		CONSTRAINT fk_topup_requests_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT chk_topup_points CHECK (points > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		delta BIGINT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		reference_id VARCHAR(64) NOT NULL,
		balance_after BIGINT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uq_ledger_entries_ref (kind, reference_id),
		KEY idx_ledger_entries_user (user_id, id),
		CONSTRAINT fk_ledger_entries_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS tickets (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		priority VARCHAR(16) NOT NULL DEFAULT 'medium',
		user_id VARCHAR(64) NOT NULL,
		assigned_admin_id VARCHAR(64) NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		KEY idx_tickets_user (user_id, created_at),
		CONSTRAINT fk_tickets_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ticket_files (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		ticket_id VARCHAR(64) NOT NULL,
		filename VARCHAR(255) NOT NULL,
		file_url VARCHAR(1024) NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		file_type VARCHAR(128) NOT NULL DEFAULT '',
		uploaded_by VARCHAR(64) NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		CONSTRAINT fk_ticket_files_ticket FOREIGN KEY (ticket_id) REFERENCES tickets(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ticket_comments (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		ticket_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		comment TEXT NOT NULL,
		is_admin_comment BOOLEAN NOT NULL DEFAULT FALSE,
		created_at VARCHAR(40) NOT NULL,
		CONSTRAINT fk_ticket_comments_ticket FOREIGN KEY (ticket_id) REFERENCES tickets(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
