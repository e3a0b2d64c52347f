package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dokonpos/internal/domain"
	"dokonpos/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, search string, warehouseID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, strings.TrimSpace(search), strings.TrimSpace(warehouseID))
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("product code and name are required")
	}
	if req.Price < 0 || req.CostPrice < 0 {
		return domain.Product{}, fmt.Errorf("product prices must not be negative")
	}
	if req.Quantity < 0 {
		return domain.Product{}, fmt.Errorf("initial quantity must not be negative")
	}

	now := time.Now().UTC()
	product, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:          xid.New("prod"),
		Code:        req.Code,
		Name:        req.Name,
		Category:    strings.TrimSpace(req.Category),
		CostPrice:   req.CostPrice,
		Price:       req.Price,
		Quantity:    req.Quantity,
		MinStock:    req.MinStock,
		WarehouseID: strings.TrimSpace(req.WarehouseID),
		CreatedBy:   actor.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", product.ID, fmt.Sprintf("code=%s,qty=%d", product.Code, product.Quantity))
	return *product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	product := *existing
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return domain.Product{}, fmt.Errorf("product name must not be empty")
		}
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return domain.Product{}, fmt.Errorf("cost price must not be negative")
		}
		product.CostPrice = *req.CostPrice
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return domain.Product{}, fmt.Errorf("price must not be negative")
		}
		product.Price = *req.Price
	}
	if req.MinStock != nil {
		product.MinStock = *req.MinStock
	}
	if req.WarehouseID != nil {
		product.WarehouseID = strings.TrimSpace(*req.WarehouseID)
	}
	product.UpdatedAt = time.Now().UTC()

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", updated.ID, fmt.Sprintf("code=%s", updated.Code))
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.Customer{}, err
	}

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return domain.Customer{}, fmt.Errorf("customer name is required")
	}
	customer.ID = xid.New("cust")
	customer.Phone = strings.TrimSpace(customer.Phone)
	customer.CreatedAt = time.Now().UTC()

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.Customer{}, err
	}

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return domain.Customer{}, fmt.Errorf("customer name is required")
	}

	updated, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	return s.repo.DeleteCustomer(ctx, id)
}

func (s *Service) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (domain.Warehouse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Warehouse{}, err
	}

	warehouse.Name = strings.TrimSpace(warehouse.Name)
	if warehouse.Name == "" {
		return domain.Warehouse{}, fmt.Errorf("warehouse name is required")
	}
	warehouse.ID = xid.New("wh")
	warehouse.CreatedAt = time.Now().UTC()

	created, err := s.repo.CreateWarehouse(ctx, warehouse)
	if err != nil {
		return domain.Warehouse{}, err
	}

	s.logAudit(ctx, "warehouse_create", "warehouse", created.ID, created.Name)
	return *created, nil
}

func (s *Service) DeleteWarehouse(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteWarehouse(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "warehouse_delete", "warehouse", id, "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 500
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
