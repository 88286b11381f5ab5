package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           BIGINT AUTO_INCREMENT PRIMARY KEY,
		name         VARCHAR(255) NOT NULL,
		address      VARCHAR(255) NOT NULL DEFAULT '',
		billing_info VARCHAR(255) NOT NULL DEFAULT '',
		created_at   DATETIME(6)  NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS products (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(255)  NOT NULL,
		description TEXT          NOT NULL,
		price       DECIMAL(10,2) NOT NULL,
		quantity    INT           NOT NULL,
		owner_id    BIGINT        NOT NULL,
		version     INT           NOT NULL DEFAULT 1,
		created_at  DATETIME(6)   NOT NULL,
		updated_at  DATETIME(6)   NOT NULL,
		CONSTRAINT chk_products_quantity CHECK (quantity >= 0),
		CONSTRAINT chk_products_price CHECK (price >= 0),
		CONSTRAINT fk_products_owner FOREIGN KEY (owner_id) REFERENCES users (id) ON DELETE RESTRICT,
		INDEX idx_products_owner (owner_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS tags (
		id   BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		UNIQUE KEY uq_tags_name (name)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS product_tags (
		product_id BIGINT NOT NULL,
		tag_id     BIGINT NOT NULL,
		PRIMARY KEY (product_id, tag_id),
		INDEX idx_product_tags_tag (tag_id),
		CONSTRAINT fk_product_tags_product FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE,
		CONSTRAINT fk_product_tags_tag FOREIGN KEY (tag_id) REFERENCES tags (id) ON DELETE CASCADE
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id         CHAR(36)    NOT NULL PRIMARY KEY,
		buyer_id   BIGINT      NOT NULL,
		product_id BIGINT      NOT NULL,
		quantity   INT         NOT NULL,
		created_at DATETIME(6) NOT NULL,
		CONSTRAINT chk_transactions_quantity CHECK (quantity > 0),
		CONSTRAINT fk_transactions_buyer FOREIGN KEY (buyer_id) REFERENCES users (id) ON DELETE RESTRICT,
		CONSTRAINT fk_transactions_product FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE,
		INDEX idx_transactions_product (product_id)
	) ENGINE=InnoDB`,
}

// Migrate creates the catalog tables when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
