package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/port"
)

// MySQL server error numbers translated at the adapter boundary.
const (
	errDupEntry               = 1062
	errLockWaitTimeout        = 1205
	errDeadlock               = 1213
	errNoReferencedRow        = 1216
	errRowIsReferenced        = 1217
	errOutOfRange             = 1264
	errRowIsReferenced2       = 1451
	errNoReferencedRow2       = 1452
	errCheckConstraintViolate = 3819
)

var ErrOptimisticLock = fmt.Errorf("optimistic lock conflict: %w", domain.ErrBusy)

const productColumns = `id, name, description, price, quantity, owner_id, version, created_at, updated_at`

var _ port.CatalogRepository = (*MySQLAdapter)(nil)

type MySQLAdapter struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewMySQLAdapter(db *sql.DB, lockTimeout time.Duration) *MySQLAdapter {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MySQLAdapter{db: db, lockTimeout: lockTimeout}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Quantity, &p.OwnerID,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *MySQLAdapter) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", translateError(err))
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", translateError(err))
	}
	return out, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", translateError(err))
	}
	return p, nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return getUser(ctx, m.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q queryRower, id int64) (*domain.User, error) {
	var u domain.User
	err := q.QueryRowContext(ctx, `
		SELECT id, name, address, billing_info, created_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Address, &u.BillingInfo, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", translateError(err))
	}
	return &u, nil
}

func (m *MySQLAdapter) GetTag(ctx context.Context, id int64) (*domain.Tag, error) {
	var t domain.Tag
	err := m.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE id = ?`, id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query tag: %w", translateError(err))
	}
	return &t, nil
}

func (m *MySQLAdapter) ProductsByOwner(ctx context.Context, userID int64) ([]domain.Product, error) {
	return m.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE owner_id = ? ORDER BY id`, userID)
}

func (m *MySQLAdapter) ProductsByTag(ctx context.Context, tagID int64) ([]domain.Product, error) {
	return m.queryProducts(ctx, `
		SELECT p.id, p.name, p.description, p.price, p.quantity, p.owner_id, p.version, p.created_at, p.updated_at
		FROM products p
		JOIN product_tags pt ON pt.product_id = p.id
		WHERE pt.tag_id = ?
		ORDER BY p.id`, tagID)
}

func (m *MySQLAdapter) ProductsByIDs(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	found, err := m.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MySQLAdapter) AllProducts(ctx context.Context) ([]domain.Product, error) {
	return m.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

func (m *MySQLAdapter) SubstringSearch(ctx context.Context, term string) ([]domain.Product, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	return m.queryProducts(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE LOWER(name) LIKE ? OR LOWER(description) LIKE ?
		ORDER BY id`, pattern, pattern)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user *domain.User) error {
	user.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO users (name, address, billing_info, created_at)
		VALUES (?, ?, ?, ?)`,
		user.Name, user.Address, user.BillingInfo, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", translateError(err))
	}
	user.ID, err = result.LastInsertId()
	return err
}

func (m *MySQLAdapter) DeleteUser(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, translateError(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (m *MySQLAdapter) CreateTag(ctx context.Context, name string) (*domain.Tag, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: tag name must not be empty", domain.ErrValidation)
	}
	// LAST_INSERT_ID(id) makes an existing row report its own id
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO tags (name) VALUES (?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", translateError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Tag{ID: id, Name: name}, nil
}

func (m *MySQLAdapter) TagProduct(ctx context.Context, productID, tagID int64) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO product_tags (product_id, tag_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE tag_id = tag_id`, productID, tagID)
	if err != nil {
		return fmt.Errorf("tag product %d with %d: %w", productID, tagID, translateError(err))
	}
	return nil
}

func (m *MySQLAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.CatalogTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translateError(err))
	}
	defer tx.Rollback()

	waitSeconds := int(math.Ceil(m.lockTimeout.Seconds()))
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", waitSeconds)); err != nil {
		return fmt.Errorf("set lock wait timeout: %w", translateError(err))
	}

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translateError(err))
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *mysqlTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock product %d: %w", id, translateError(err))
	}
	return p, nil
}

func (t *mysqlTx) CreateProduct(ctx context.Context, product *domain.Product) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Version = 1

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (name, description, price, quantity, owner_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		product.Name, product.Description, product.Price, product.Quantity, product.OwnerID,
		product.Version, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", translateError(err))
	}
	product.ID, err = result.LastInsertId()
	return err
}

// SaveProduct writes every mutable column, guarded by the version read under
// the row lock.
func (t *mysqlTx) SaveProduct(ctx context.Context, product *domain.Product) error {
	updatedAt := time.Now().UTC().Truncate(time.Microsecond)
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = ?, description = ?, price = ?, quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		product.Name, product.Description, product.Price, product.Quantity, updatedAt,
		product.ID, product.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", translateError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	product.Version++
	product.UpdatedAt = updatedAt
	return nil
}

func (t *mysqlTx) DeleteProduct(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", translateError(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (t *mysqlTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	txn.CreatedAt = txn.CreatedAt.Truncate(time.Microsecond)

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, buyer_id, product_id, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		txn.ID, txn.BuyerID, txn.ProductID, txn.Quantity, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", translateError(err))
	}
	return nil
}

// NormalizeDSN forces parseTime on a MySQL DSN, since the adapter scans
// DATETIME columns into time.Time.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// translateError maps driver errors onto the domain taxonomy. Errors that
// already carry a domain sentinel pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout, errDeadlock:
			return fmt.Errorf("%w: %v", domain.ErrBusy, err)
		case errNoReferencedRow, errNoReferencedRow2:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case errRowIsReferenced, errRowIsReferenced2, errDupEntry:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case errCheckConstraintViolate, errOutOfRange:
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}
	return err
}
