package store

import (
	"context"
	"errors"
	"time"

	"dokonpos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidReceipt    = errors.New("invalid receipt")
	ErrAlreadyProcessed  = errors.New("receipt already processed")
	ErrDuplicateReceipt  = errors.New("duplicate receipt")
)

type Repository interface {
	ListProducts(ctx context.Context, search string, warehouseID string) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	// AdjustStock applies a signed delta to one product's quantity counter as
	// a single atomic read-modify-write.
	AdjustStock(ctx context.Context, productID string, delta int) error

	FindReceiptByID(ctx context.Context, id string) (*domain.Receipt, error)
	FindReceiptByOfflineID(ctx context.Context, offlineID string) (*domain.Receipt, error)
	// CreateReceipt persists a new receipt. When the receipt carries an
	// offline id that already exists, it returns ErrDuplicateReceipt without
	// creating anything; existence check and insert are one atomic decision.
	CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error)
	// TransitionReceipt moves a pending receipt to a terminal status and
	// records the approver. Non-pending receipts yield ErrAlreadyProcessed.
	TransitionReceipt(ctx context.Context, id string, status string, processedBy string, at time.Time) (*domain.Receipt, error)
	// UpdateReceiptItems replaces a pending receipt's line items and total.
	UpdateReceiptItems(ctx context.Context, id string, items []domain.ReceiptItem, total int64, at time.Time) (*domain.Receipt, error)
	ListReceipts(ctx context.Context, status string, limit int) ([]domain.Receipt, error)
	ListStaffReceipts(ctx context.Context, status string, limit int) ([]domain.Receipt, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
	CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error)
	DeleteWarehouse(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
