package domain

import "time"

type Product struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	CostPrice   int64     `json:"cost_price"`
	Price       int64     `json:"price"`
	Quantity    int       `json:"quantity"`
	MinStock    int       `json:"min_stock"`
	WarehouseID string    `json:"warehouse_id,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	CostPrice   int64  `json:"cost_price"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	MinStock    int    `json:"min_stock"`
	WarehouseID string `json:"warehouse_id"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Category    *string `json:"category,omitempty"`
	CostPrice   *int64  `json:"cost_price,omitempty"`
	Price       *int64  `json:"price,omitempty"`
	MinStock    *int    `json:"min_stock,omitempty"`
	WarehouseID *string `json:"warehouse_id,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Warehouse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	IsMain    bool      `json:"is_main"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Name      string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// ReceiptItem is one sold line. Quantity is always >= 1; dropping an item
// removes the line entirely rather than zeroing it.
type ReceiptItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// Sale kind discriminates walk-in sales from sales attached to a customer
// account. Customer sales must carry a customer reference; walk-in sales
// must not.
const (
	SaleKindWalkIn   = "walk_in"
	SaleKindCustomer = "customer"
)

const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
)

// SaleRecord is a terminal-local sale awaiting synchronization. LocalID is the
// client-generated idempotency key: created once at append time, never reused.
type SaleRecord struct {
	LocalID       string        `json:"local_id" msgpack:"local_id"`
	Items         []ReceiptItem `json:"items" msgpack:"items"`
	Total         int64         `json:"total" msgpack:"total"`
	PaymentMethod string        `json:"payment_method" msgpack:"payment_method"`
	IsReturn      bool          `json:"is_return" msgpack:"is_return"`
	Kind          string        `json:"kind" msgpack:"kind"`
	CustomerID    string        `json:"customer_id,omitempty" msgpack:"customer_id"`
	CreatedAt     time.Time     `json:"created_at" msgpack:"created_at"`
	SyncStatus    string        `json:"sync_status" msgpack:"sync_status"`
}

const (
	ReceiptStatusCompleted = "completed"
	ReceiptStatusPending   = "pending"
	ReceiptStatusApproved  = "approved"
	ReceiptStatusRejected  = "rejected"
)

// Receipt is the server-authoritative record of a sale. OfflineID mirrors the
// client LocalID when the receipt originated offline and is the dedup key for
// retransmission.
type Receipt struct {
	ID            string        `json:"id" msgpack:"id"`
	Items         []ReceiptItem `json:"items" msgpack:"items"`
	Total         int64         `json:"total" msgpack:"total"`
	PaymentMethod string        `json:"payment_method" msgpack:"payment_method"`
	IsReturn      bool          `json:"is_return" msgpack:"is_return"`
	Kind          string        `json:"kind" msgpack:"kind"`
	CustomerID    string        `json:"customer_id,omitempty" msgpack:"customer_id"`
	Status        string        `json:"status" msgpack:"status"`
	CreatedBy     string        `json:"created_by" msgpack:"created_by"`
	ProcessedBy   string        `json:"processed_by,omitempty" msgpack:"processed_by"`
	OfflineID     string        `json:"offline_id,omitempty" msgpack:"offline_id"`
	SyncedAt      *time.Time    `json:"synced_at,omitempty" msgpack:"synced_at"`
	CreatedAt     time.Time     `json:"created_at" msgpack:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" msgpack:"updated_at"`
}

type SaleSubmission struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Items          []ReceiptItem `json:"items"`
	Total          int64         `json:"total"`
	PaymentMethod  string        `json:"payment_method"`
	IsReturn       bool          `json:"is_return"`
	Kind           string        `json:"kind"`
	CustomerID     string        `json:"customer_id,omitempty"`
	CreatedAt      *time.Time    `json:"created_at,omitempty"`
	// Offline submissions already happened physically while the terminal was
	// disconnected; the stock preflight is skipped for them. The flag is
	// derived server-side from the ingest path (bulk drains come from the
	// journal, single submissions are live) and never read from the wire, so
	// a caller cannot opt out of the preflight by declaring itself offline.
	Offline bool `json:"-"`
}

const (
	OutcomeSynced        = "synced"
	OutcomeAlreadySynced = "already_synced"
	OutcomeError         = "error"
)

type SaleOutcome struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	ReceiptID      string `json:"receipt_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type BulkSaleRequest struct {
	Sales []SaleSubmission `json:"sales"`
}

type BulkSaleResponse struct {
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Outcomes []SaleOutcome `json:"outcomes"`
}

type ReceiptItemsUpdateRequest struct {
	Items []ReceiptItem `json:"items"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleHelper  = "helper"
)

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// ItemsTotal sums price*quantity over the line items. The server never trusts
// a client-supplied total.
func ItemsTotal(items []ReceiptItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}
