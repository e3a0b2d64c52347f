package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dokonpos/internal/domain"
	"dokonpos/internal/store"
	"dokonpos/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	productIDByCode    map[string]string
	receiptsByID       map[string]*domain.Receipt
	receiptByOfflineID map[string]string
	customersByID      map[string]domain.Customer
	warehousesByID     map[string]domain.Warehouse
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		productIDByCode:    make(map[string]string),
		receiptsByID:       make(map[string]*domain.Receipt),
		receiptByOfflineID: make(map[string]string),
		customersByID:      make(map[string]domain.Customer),
		warehousesByID:     make(map[string]domain.Warehouse),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_HELPER_PASSWORD; hardcoded dev defaults are used with a warning when
// unset. Production deployments use PostgreSQL (DATABASE_URL) instead.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	helperPwd := envOr("SEED_HELPER_PASSWORD", "helper123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		name     string
		role     string
	}{
		{"admin", adminPwd, "Direktor", domain.RoleAdmin},
		{"cashier", cashierPwd, "Kassir", domain.RoleCashier},
		{"helper", helperPwd, "Yordamchi", domain.RoleHelper},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Name:      u.name,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	main := domain.Warehouse{ID: xid.New("wh"), Name: "Asosiy ombor", IsMain: true, CreatedAt: now}
	s.warehousesByID[main.ID] = main

	products := []domain.Product{
		{Code: "P-NON-01", Name: "Non", Category: "oziq-ovqat", CostPrice: 2500, Price: 4000, Quantity: 120, MinStock: 10},
		{Code: "P-SUT-01", Name: "Sut 1L", Category: "oziq-ovqat", CostPrice: 9000, Price: 12000, Quantity: 80, MinStock: 8},
		{Code: "P-GURUCH-01", Name: "Guruch 1kg", Category: "oziq-ovqat", CostPrice: 14000, Price: 18000, Quantity: 60, MinStock: 5},
		{Code: "P-YOG-01", Name: "O'simlik yog'i 1L", Category: "oziq-ovqat", CostPrice: 17000, Price: 22000, Quantity: 40, MinStock: 5},
		{Code: "P-CHOY-01", Name: "Ko'k choy 100g", Category: "ichimlik", CostPrice: 6000, Price: 9500, Quantity: 90, MinStock: 10},
		{Code: "P-SHAKAR-01", Name: "Shakar 1kg", Category: "oziq-ovqat", CostPrice: 11000, Price: 14000, Quantity: 70, MinStock: 5},
		{Code: "P-SOVUN-01", Name: "Kir sovun", Category: "xo'jalik", CostPrice: 3500, Price: 6000, Quantity: 150, MinStock: 15},
		{Code: "P-SUV-01", Name: "Suv 1.5L", Category: "ichimlik", CostPrice: 2000, Price: 3500, Quantity: 200, MinStock: 20},
	}
	for _, p := range products {
		p.ID = xid.New("prod")
		p.WarehouseID = main.ID
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.productIDByCode[p.Code] = p.ID
	}

	customer := domain.Customer{ID: xid.New("cust"), Name: "Doimiy mijoz", Phone: "+998901234567", CreatedAt: now}
	s.customersByID[customer.ID] = customer

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context, search string, warehouseID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if warehouseID != "" && p.WarehouseID != warehouseID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Code), search) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productIDByCode[product.Code]; exists {
		return nil, store.ErrInvalidReceipt
	}
	s.products[product.ID] = product
	s.productIDByCode[product.Code] = product.ID
	copied := product
	return &copied, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Quantity = existing.Quantity
	product.Code = existing.Code
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	copied := product
	return &copied, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	delete(s.productIDByCode, p.Code)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Quantity += delta
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return nil
}

func (s *Store) FindReceiptByID(_ context.Context, id string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receiptsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyReceipt(r), nil
}

func (s *Store) FindReceiptByOfflineID(_ context.Context, offlineID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.receiptByOfflineID[offlineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyReceipt(s.receiptsByID[id]), nil
}

func (s *Store) CreateReceipt(_ context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	if len(receipt.Items) == 0 {
		return nil, store.ErrInvalidReceipt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt.OfflineID != "" {
		if _, exists := s.receiptByOfflineID[receipt.OfflineID]; exists {
			return nil, store.ErrDuplicateReceipt
		}
	}

	copied := receipt
	copied.Items = append([]domain.ReceiptItem(nil), receipt.Items...)
	s.receiptsByID[copied.ID] = &copied
	if copied.OfflineID != "" {
		s.receiptByOfflineID[copied.OfflineID] = copied.ID
	}
	return copyReceipt(&copied), nil
}

func (s *Store) TransitionReceipt(_ context.Context, id string, status string, processedBy string, at time.Time) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receiptsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != domain.ReceiptStatusPending {
		return nil, store.ErrAlreadyProcessed
	}
	r.Status = status
	r.ProcessedBy = processedBy
	r.UpdatedAt = at
	return copyReceipt(r), nil
}

func (s *Store) UpdateReceiptItems(_ context.Context, id string, items []domain.ReceiptItem, total int64, at time.Time) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receiptsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != domain.ReceiptStatusPending {
		return nil, store.ErrAlreadyProcessed
	}
	r.Items = append([]domain.ReceiptItem(nil), items...)
	r.Total = total
	r.UpdatedAt = at
	return copyReceipt(r), nil
}

func (s *Store) ListReceipts(_ context.Context, status string, limit int) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReceiptsLocked(status, limit, false), nil
}

func (s *Store) ListStaffReceipts(_ context.Context, status string, limit int) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReceiptsLocked(status, limit, true), nil
}

func (s *Store) listReceiptsLocked(status string, limit int, staffOnly bool) []domain.Receipt {
	staffStatuses := map[string]bool{
		domain.ReceiptStatusPending:  true,
		domain.ReceiptStatusApproved: true,
		domain.ReceiptStatusRejected: true,
	}

	result := make([]domain.Receipt, 0, len(s.receiptsByID))
	for _, r := range s.receiptsByID {
		if staffOnly && !staffStatuses[r.Status] {
			continue
		}
		if status != "" && status != "all" && r.Status != status {
			continue
		}
		result = append(result, *copyReceipt(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := c
	return &copied, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customersByID[customer.ID] = customer
	copied := customer
	return &copied, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customersByID[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.CreatedAt = existing.CreatedAt
	s.customersByID[customer.ID] = customer
	copied := customer
	return &copied, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customersByID, id)
	return nil
}

func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Warehouse, 0, len(s.warehousesByID))
	for _, w := range s.warehousesByID {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) CreateWarehouse(_ context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.warehousesByID[warehouse.ID] = warehouse
	copied := warehouse
	return &copied, nil
}

func (s *Store) DeleteWarehouse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.warehousesByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.warehousesByID, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func copyReceipt(r *domain.Receipt) *domain.Receipt {
	copied := *r
	copied.Items = append([]domain.ReceiptItem(nil), r.Items...)
	return &copied
}
