package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"dokonpos/internal/cache"
	"dokonpos/internal/domain"
	"dokonpos/internal/store"
	"dokonpos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	outcomes   cache.OutcomeCache
	outcomeTTL time.Duration
}

func New(repo store.Repository, outcomes cache.OutcomeCache, outcomeTTL time.Duration) *Service {
	if outcomes == nil {
		outcomes = cache.NoopOutcomeCache{}
	}
	if outcomeTTL <= 0 {
		outcomeTTL = 24 * time.Hour
	}

	return &Service{
		repo:       repo,
		outcomes:   outcomes,
		outcomeTTL: outcomeTTL,
	}
}

// IngestSale accepts one sale submission and applies it to the inventory at
// most once. Retransmissions of a key that already produced a receipt come
// back as already_synced without touching stock.
func (s *Service) IngestSale(ctx context.Context, sub domain.SaleSubmission) (domain.SaleOutcome, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleOutcome{}, fmt.Errorf("caller identity required")
	}

	normalized, err := normalizeSubmission(sub)
	if err != nil {
		return domain.SaleOutcome{}, err
	}
	sub = normalized

	if sub.IdempotencyKey != "" {
		if cached, found, err := s.outcomes.Get(ctx, sub.IdempotencyKey); err == nil && found {
			replay := *cached
			replay.Status = domain.OutcomeAlreadySynced
			return replay, nil
		} else if err != nil {
			log.Printf("[service] WARN: outcome cache read failed key=%s: %v", sub.IdempotencyKey, err)
		}

		if existing, err := s.repo.FindReceiptByOfflineID(ctx, sub.IdempotencyKey); err == nil {
			return alreadySyncedOutcome(sub.IdempotencyKey, existing.ID), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleOutcome{}, err
		}
	}

	isHelper := actor.Role == domain.RoleHelper

	// Offline sales already happened at the counter; checking stock after the
	// fact would only block reconciliation. Online trusted-role sales are
	// preflighted so an impossible sale is rejected before it exists.
	if !sub.Offline && !sub.IsReturn && !isHelper {
		if err := s.preflightStock(ctx, sub.Items); err != nil {
			return domain.SaleOutcome{}, err
		}
	}

	now := time.Now().UTC()
	createdAt := now
	if sub.CreatedAt != nil {
		createdAt = sub.CreatedAt.UTC()
	}

	status := domain.ReceiptStatusCompleted
	if isHelper {
		status = domain.ReceiptStatusPending
	}

	receipt := domain.Receipt{
		ID:            xid.New("rcpt"),
		Items:         sub.Items,
		Total:         domain.ItemsTotal(sub.Items),
		PaymentMethod: sub.PaymentMethod,
		IsReturn:      sub.IsReturn,
		Kind:          sub.Kind,
		CustomerID:    sub.CustomerID,
		Status:        status,
		CreatedBy:     actor.Username,
		OfflineID:     sub.IdempotencyKey,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
	if sub.IdempotencyKey != "" {
		syncedAt := now
		receipt.SyncedAt = &syncedAt
	}

	created, err := s.repo.CreateReceipt(ctx, receipt)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateReceipt) {
			// Lost the race against a concurrent submission of the same key.
			if existing, lookupErr := s.repo.FindReceiptByOfflineID(ctx, sub.IdempotencyKey); lookupErr == nil {
				return alreadySyncedOutcome(sub.IdempotencyKey, existing.ID), nil
			}
			return alreadySyncedOutcome(sub.IdempotencyKey, ""), nil
		}
		return domain.SaleOutcome{}, err
	}

	// Pending staff receipts defer inventory effects until approval.
	if created.Status == domain.ReceiptStatusCompleted {
		s.applyInventory(ctx, created)
	}

	outcome := domain.SaleOutcome{
		IdempotencyKey: sub.IdempotencyKey,
		Status:         domain.OutcomeSynced,
		ReceiptID:      created.ID,
	}
	if sub.IdempotencyKey != "" {
		if err := s.outcomes.Set(ctx, sub.IdempotencyKey, &outcome, s.outcomeTTL); err != nil {
			log.Printf("[service] WARN: outcome cache write failed key=%s: %v", sub.IdempotencyKey, err)
		}
	}

	s.logAudit(ctx, "sale_ingest", "receipt", created.ID,
		fmt.Sprintf("total=%d,payment=%s,return=%t,status=%s,offline=%t", created.Total, created.PaymentMethod, created.IsReturn, created.Status, sub.Offline))

	return outcome, nil
}

// IngestBatch processes submissions independently: one malformed item is
// reported in its own slot and never aborts its siblings.
func (s *Service) IngestBatch(ctx context.Context, req domain.BulkSaleRequest) (domain.BulkSaleResponse, error) {
	if len(req.Sales) == 0 {
		return domain.BulkSaleResponse{}, store.ErrInvalidReceipt
	}

	resp := domain.BulkSaleResponse{
		Outcomes: make([]domain.SaleOutcome, 0, len(req.Sales)),
	}

	for _, sub := range req.Sales {
		sub.Offline = true
		outcome, err := s.IngestSale(ctx, sub)
		if err != nil {
			resp.Failed++
			resp.Outcomes = append(resp.Outcomes, domain.SaleOutcome{
				IdempotencyKey: sub.IdempotencyKey,
				Status:         domain.OutcomeError,
				Reason:         err.Error(),
			})
			continue
		}
		resp.Synced++
		resp.Outcomes = append(resp.Outcomes, outcome)
	}

	return resp, nil
}

// ApproveReceipt moves a pending staff receipt to approved and applies its
// inventory effect. Stock is re-validated first: quantities may have drifted
// since the helper submitted.
func (s *Service) ApproveReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier)
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt, err := s.repo.FindReceiptByID(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if receipt.Status != domain.ReceiptStatusPending {
		return domain.Receipt{}, store.ErrAlreadyProcessed
	}

	if !receipt.IsReturn {
		if err := s.preflightStock(ctx, receipt.Items); err != nil {
			return domain.Receipt{}, err
		}
	}

	// The transition is the single-fire gate: a concurrent approve loses at
	// the store level and never reaches the stock application below.
	approved, err := s.repo.TransitionReceipt(ctx, receiptID, domain.ReceiptStatusApproved, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.Receipt{}, err
	}

	s.applyInventory(ctx, approved)

	s.logAudit(ctx, "receipt_approve", "receipt", approved.ID, fmt.Sprintf("total=%d,created_by=%s", approved.Total, approved.CreatedBy))
	return *approved, nil
}

// RejectReceipt moves a pending staff receipt to rejected. No inventory
// effect: pending receipts never touched stock.
func (s *Service) RejectReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier)
	if err != nil {
		return domain.Receipt{}, err
	}

	rejected, err := s.repo.TransitionReceipt(ctx, receiptID, domain.ReceiptStatusRejected, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, "receipt_reject", "receipt", rejected.ID, fmt.Sprintf("created_by=%s", rejected.CreatedBy))
	return *rejected, nil
}

// UpdateReceiptItems replaces a pending staff receipt's line items during
// review. The receipt stays pending; total is recomputed server-side.
func (s *Service) UpdateReceiptItems(ctx context.Context, receiptID string, items []domain.ReceiptItem) (domain.Receipt, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.Receipt{}, err
	}

	items, err := normalizeItems(items)
	if err != nil {
		return domain.Receipt{}, err
	}

	updated, err := s.repo.UpdateReceiptItems(ctx, receiptID, items, domain.ItemsTotal(items), time.Now().UTC())
	if err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, "receipt_edit", "receipt", updated.ID, fmt.Sprintf("items=%d,total=%d", len(updated.Items), updated.Total))
	return *updated, nil
}

func (s *Service) GetReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	receipt, err := s.repo.FindReceiptByID(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return *receipt, nil
}

func (s *Service) ListReceipts(ctx context.Context, status string, limit int) ([]domain.Receipt, error) {
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListReceipts(ctx, strings.TrimSpace(status), limit)
}

func (s *Service) ListStaffReceipts(ctx context.Context, status string, limit int) ([]domain.Receipt, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListStaffReceipts(ctx, strings.TrimSpace(status), limit)
}

// applyInventory computes a signed quantity delta for every line item and
// applies it to the product's stock counter. Callers gate it behind the
// receipt's create/transition decision so it runs at most once per receipt.
// Deltas are per-product atomic; there is no transaction across the lines of
// one receipt.
func (s *Service) applyInventory(ctx context.Context, receipt *domain.Receipt) {
	for _, item := range receipt.Items {
		delta := -item.Quantity
		if receipt.IsReturn {
			delta = item.Quantity
		}
		if err := s.repo.AdjustStock(ctx, item.ProductID, delta); err != nil {
			// An unknown product reference in an offline sale cannot be
			// rejected after the fact; skip the line and keep going.
			log.Printf("[service] WARN: stock adjust failed receipt=%s product=%s delta=%d: %v", receipt.ID, item.ProductID, delta, err)
		}
	}
}

func (s *Service) preflightStock(ctx context.Context, items []domain.ReceiptItem) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	required := make(map[string]int, len(items))
	for _, item := range items {
		required[item.ProductID] += item.Quantity
	}

	for _, item := range items {
		product, exists := products[item.ProductID]
		if !exists {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, item.Name)
		}
		if product.Quantity < required[item.ProductID] {
			return fmt.Errorf("%w: %s (available %d, requested %d)", store.ErrInsufficientStock, product.Name, product.Quantity, required[item.ProductID])
		}
	}
	return nil
}

func normalizeSubmission(sub domain.SaleSubmission) (domain.SaleSubmission, error) {
	items, err := normalizeItems(sub.Items)
	if err != nil {
		return domain.SaleSubmission{}, err
	}
	sub.Items = items
	sub.IdempotencyKey = strings.TrimSpace(sub.IdempotencyKey)

	sub.PaymentMethod = strings.ToLower(strings.TrimSpace(sub.PaymentMethod))
	if sub.PaymentMethod == "" {
		sub.PaymentMethod = domain.PaymentCash
	}
	if sub.PaymentMethod != domain.PaymentCash && sub.PaymentMethod != domain.PaymentCard {
		return domain.SaleSubmission{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidReceipt, sub.PaymentMethod)
	}

	sub.Kind = strings.ToLower(strings.TrimSpace(sub.Kind))
	sub.CustomerID = strings.TrimSpace(sub.CustomerID)
	switch sub.Kind {
	case "":
		sub.Kind = domain.SaleKindWalkIn
		if sub.CustomerID != "" {
			sub.Kind = domain.SaleKindCustomer
		}
	case domain.SaleKindWalkIn, domain.SaleKindCustomer:
	default:
		return domain.SaleSubmission{}, fmt.Errorf("%w: unknown sale kind %q", store.ErrInvalidReceipt, sub.Kind)
	}
	if sub.Kind == domain.SaleKindCustomer && sub.CustomerID == "" {
		return domain.SaleSubmission{}, fmt.Errorf("%w: customer sale without customer reference", store.ErrInvalidReceipt)
	}
	if sub.Kind == domain.SaleKindWalkIn && sub.CustomerID != "" {
		return domain.SaleSubmission{}, fmt.Errorf("%w: walk-in sale carries a customer reference", store.ErrInvalidReceipt)
	}

	return sub, nil
}

func normalizeItems(items []domain.ReceiptItem) ([]domain.ReceiptItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no line items", store.ErrInvalidReceipt)
	}
	normalized := make([]domain.ReceiptItem, 0, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: line item without product reference", store.ErrInvalidReceipt)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: line item %s has quantity %d", store.ErrInvalidReceipt, item.Name, item.Quantity)
		}
		if item.Price < 0 {
			return nil, fmt.Errorf("%w: line item %s has negative price", store.ErrInvalidReceipt, item.Name)
		}
		normalized = append(normalized, item)
	}
	return normalized, nil
}

func alreadySyncedOutcome(key string, receiptID string) domain.SaleOutcome {
	return domain.SaleOutcome{
		IdempotencyKey: key,
		Status:         domain.OutcomeAlreadySynced,
		ReceiptID:      receiptID,
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("caller identity required")
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("role %s not allowed", actor.Role)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
