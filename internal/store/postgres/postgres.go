// Package postgres implements the repository against PostgreSQL using
// database/sql over the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dokonpos/internal/domain"
	"dokonpos/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS warehouses (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	address     TEXT NOT NULL DEFAULT '',
	is_main     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id           TEXT PRIMARY KEY,
	code         TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	cost_price   BIGINT NOT NULL DEFAULT 0,
	price        BIGINT NOT NULL DEFAULT 0,
	quantity     INTEGER NOT NULL DEFAULT 0,
	min_stock    INTEGER NOT NULL DEFAULT 0,
	warehouse_id TEXT NOT NULL DEFAULT '',
	created_by   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS receipts (
	id             TEXT PRIMARY KEY,
	items          JSONB NOT NULL,
	total          BIGINT NOT NULL,
	payment_method TEXT NOT NULL,
	is_return      BOOLEAN NOT NULL DEFAULT FALSE,
	kind           TEXT NOT NULL DEFAULT 'walk_in',
	customer_id    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	created_by     TEXT NOT NULL DEFAULT '',
	processed_by   TEXT NOT NULL DEFAULT '',
	offline_id     TEXT,
	synced_at      TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS receipts_offline_id_uniq
	ON receipts (offline_id) WHERE offline_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS receipts_status_idx ON receipts (status);

CREATE TABLE IF NOT EXISTS customers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	phone      TEXT NOT NULL DEFAULT '',
	notes      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id             TEXT PRIMARY KEY,
	actor_username TEXT NOT NULL,
	actor_role     TEXT NOT NULL,
	action         TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	username   TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) ListProducts(ctx context.Context, search string, warehouseID string) ([]domain.Product, error) {
	query := `SELECT id, code, name, category, cost_price, price, quantity, min_stock, warehouse_id, created_by, created_at, updated_at
		FROM products WHERE 1=1`
	args := []any{}
	if search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		query += fmt.Sprintf(" AND (LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args), len(args))
	}
	if warehouseID != "" {
		args = append(args, warehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.CostPrice, &p.Price, &p.Quantity, &p.MinStock, &p.WarehouseID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name, category, cost_price, price, quantity, min_stock, warehouse_id, created_by, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.CostPrice, &p.Price, &p.Quantity, &p.MinStock, &p.WarehouseID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, category, cost_price, price, quantity, min_stock, warehouse_id, created_by, created_at, updated_at
		FROM products WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.CostPrice, &p.Price, &p.Quantity, &p.MinStock, &p.WarehouseID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (id, code, name, category, cost_price, price, quantity, min_stock, warehouse_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		product.ID, product.Code, product.Name, product.Category, product.CostPrice, product.Price,
		product.Quantity, product.MinStock, product.WarehouseID, product.CreatedBy, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product code %s already exists", product.Code)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE products
		SET name = $2, category = $3, cost_price = $4, price = $5, min_stock = $6, warehouse_id = $7, updated_at = $8
		WHERE id = $1`,
		product.ID, product.Name, product.Category, product.CostPrice, product.Price, product.MinStock, product.WarehouseID, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AdjustStock applies the delta in a single UPDATE so concurrent adjustments
// to the same product serialize on the row without a client-side
// read-modify-write.
func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const receiptColumns = `id, items, total, payment_method, is_return, kind, customer_id, status, created_by, processed_by, offline_id, synced_at, created_at, updated_at`

func scanReceipt(row interface{ Scan(...any) error }) (*domain.Receipt, error) {
	var r domain.Receipt
	var itemsJSON []byte
	var offlineID sql.NullString
	var syncedAt sql.NullTime
	err := row.Scan(&r.ID, &itemsJSON, &r.Total, &r.PaymentMethod, &r.IsReturn, &r.Kind, &r.CustomerID,
		&r.Status, &r.CreatedBy, &r.ProcessedBy, &offlineID, &syncedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &r.Items); err != nil {
		return nil, fmt.Errorf("decode receipt items: %w", err)
	}
	if offlineID.Valid {
		r.OfflineID = offlineID.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		r.SyncedAt = &t
	}
	return &r, nil
}

func (s *Store) FindReceiptByID(ctx context.Context, id string) (*domain.Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return receipt, err
}

func (s *Store) FindReceiptByOfflineID(ctx context.Context, offlineID string) (*domain.Receipt, error) {
	if offlineID == "" {
		return nil, store.ErrNotFound
	}
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE offline_id = $1`, offlineID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return receipt, err
}

func (s *Store) CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	itemsJSON, err := json.Marshal(receipt.Items)
	if err != nil {
		return nil, fmt.Errorf("encode receipt items: %w", err)
	}

	var offlineID any
	if receipt.OfflineID != "" {
		offlineID = receipt.OfflineID
	}

	// The partial unique index on offline_id makes insert-or-reject one
	// atomic decision. A duplicate key surfaces as 23505, never as a second
	// receipt.
	_, err = s.db.ExecContext(ctx, `INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		receipt.ID, itemsJSON, receipt.Total, receipt.PaymentMethod, receipt.IsReturn, receipt.Kind,
		receipt.CustomerID, receipt.Status, receipt.CreatedBy, receipt.ProcessedBy, offlineID,
		receipt.SyncedAt, receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReceipt
		}
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) TransitionReceipt(ctx context.Context, id string, status string, processedBy string, at time.Time) (*domain.Receipt, error) {
	// The status guard in the WHERE clause makes approve/reject single-fire:
	// the second caller matches zero rows.
	res, err := s.db.ExecContext(ctx, `UPDATE receipts
		SET status = $2, processed_by = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'`, id, status, processedBy, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, findErr := s.FindReceiptByID(ctx, id); errors.Is(findErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrAlreadyProcessed
	}
	return s.FindReceiptByID(ctx, id)
}

func (s *Store) UpdateReceiptItems(ctx context.Context, id string, items []domain.ReceiptItem, total int64, at time.Time) (*domain.Receipt, error) {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode receipt items: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE receipts
		SET items = $2, total = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'`, id, itemsJSON, total, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, findErr := s.FindReceiptByID(ctx, id); errors.Is(findErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrAlreadyProcessed
	}
	return s.FindReceiptByID(ctx, id)
}

func (s *Store) listReceipts(ctx context.Context, query string, args ...any) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

func (s *Store) ListReceipts(ctx context.Context, status string, limit int) ([]domain.Receipt, error) {
	if status != "" {
		return s.listReceipts(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	return s.listReceipts(ctx, `SELECT `+receiptColumns+` FROM receipts ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListStaffReceipts(ctx context.Context, status string, limit int) ([]domain.Receipt, error) {
	if status != "" {
		return s.listReceipts(ctx, `SELECT `+receiptColumns+` FROM receipts
			WHERE status = $1 AND status IN ('pending', 'approved', 'rejected')
			ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	return s.listReceipts(ctx, `SELECT `+receiptColumns+` FROM receipts
		WHERE status IN ('pending', 'approved', 'rejected')
		ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, notes, created_at FROM customers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `SELECT id, name, phone, notes, created_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Notes, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO customers (id, name, phone, notes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		customer.ID, customer.Name, customer.Phone, customer.Notes, customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE customers SET name = $2, phone = $3, notes = $4 WHERE id = $1`,
		customer.ID, customer.Name, customer.Phone, customer.Notes)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCustomerByID(ctx, customer.ID)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, is_main, created_at FROM warehouses ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warehouses []domain.Warehouse
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Address, &w.IsMain, &w.CreatedAt); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *Store) CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO warehouses (id, name, address, is_main, created_at) VALUES ($1, $2, $3, $4, $5)`,
		warehouse.ID, warehouse.Name, warehouse.Address, warehouse.IsMain, warehouse.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

func (s *Store) DeleteWarehouse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditLog
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.ActorUsername, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (username, password, name, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO NOTHING`,
		user.Username, user.Password, user.Name, user.Role, user.Active, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, name, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserAccount
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Name, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.Repository = (*Store)(nil)
