package storage

import (
	"context"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id    BIGINT AUTO_INCREMENT PRIMARY KEY,
		name  VARCHAR(255) NOT NULL,
		price DECIMAL(10,2) NOT NULL,
		stock INT NOT NULL,
		CONSTRAINT chk_items_stock CHECK (stock >= 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(100) NOT NULL UNIQUE,
		email         VARCHAR(255) NULL,
		role          VARCHAR(20) NOT NULL DEFAULT 'customer',
		password_hash VARCHAR(255) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT NOT NULL,
		item_id    BIGINT NOT NULL,
		quantity   INT NOT NULL,
		order_date DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT chk_orders_quantity CHECK (quantity > 0),
		CONSTRAINT fk_orders_user FOREIGN KEY (user_id) REFERENCES users (id),
		CONSTRAINT fk_orders_item FOREIGN KEY (item_id) REFERENCES items (id),
		INDEX idx_orders_order_date (order_date)
	) ENGINE=InnoDB`,
}

// Migrate creates the tables if they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
