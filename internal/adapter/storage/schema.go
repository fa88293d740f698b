package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the engine's tables if they do not exist. The
// resources table belongs to the catalog side; its DDL is included so a fresh
// database is usable for development and tests.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reservations (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			resource_id BIGINT UNSIGNED NOT NULL,
			quantity INT NOT NULL,
			owner_id BIGINT UNSIGNED NOT NULL,
			order_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
			session_id VARCHAR(255) NOT NULL,
			version BIGINT UNSIGNED NOT NULL,
			expires_at DATETIME(3) NOT NULL,
			created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			PRIMARY KEY (id),
			KEY idx_reservations_resource (resource_id),
			KEY idx_reservations_session (session_id),
			KEY idx_reservations_expires (expires_at)
		)`,
		`CREATE TABLE IF NOT EXISTS stock_version (
			resource_id BIGINT UNSIGNED NOT NULL,
			version BIGINT UNSIGNED NOT NULL DEFAULT 1,
			last_updated DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			PRIMARY KEY (resource_id)
		)`,
		`CREATE TABLE IF NOT EXISTS locks (
			lock_key VARCHAR(64) NOT NULL,
			lock_value VARCHAR(64) NOT NULL,
			created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			expires_at DATETIME(3) NOT NULL,
			PRIMARY KEY (lock_key)
		)`,
		`CREATE TABLE IF NOT EXISTS operation_log (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			operation VARCHAR(50) NOT NULL,
			resource_id BIGINT UNSIGNED NOT NULL,
			quantity INT,
			owner_id BIGINT UNSIGNED,
			session_id VARCHAR(255),
			status VARCHAR(20) NOT NULL,
			message TEXT,
			created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			PRIMARY KEY (id),
			KEY idx_log_operation (operation),
			KEY idx_log_resource (resource_id),
			KEY idx_log_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS resources (
			resource_id BIGINT UNSIGNED NOT NULL,
			stock_quantity INT NOT NULL DEFAULT 0,
			published TINYINT(1) NOT NULL DEFAULT 1,
			updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			PRIMARY KEY (resource_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
