package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dokonpos/internal/cache"
	"dokonpos/internal/domain"
	"dokonpos/internal/store"
	"dokonpos/internal/store/memory"
	"dokonpos/internal/xid"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	svc := New(repo, cache.NoopOutcomeCache{}, time.Hour)
	return svc, repo
}

func seedProduct(t *testing.T, repo *memory.Store, code string, price int64, quantity int) domain.Product {
	t.Helper()
	now := time.Now().UTC()
	product, err := repo.CreateProduct(context.Background(), domain.Product{
		ID:        xid.New("prod"),
		Code:      code,
		Name:      code,
		Price:     price,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", code, err)
	}
	return *product
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func helperCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "helper", Role: domain.RoleHelper})
}

func productQuantity(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	product, err := repo.GetProductByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return product.Quantity
}

func TestIngestSaleAppliesStockExactlyOnce(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "BREAD", 4000, 10)
	ctx := cashierCtx()

	sub := domain.SaleSubmission{
		IdempotencyKey: "local-1",
		Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 4000, Quantity: 2}},
		PaymentMethod:  "cash",
		Offline:        true,
	}

	first, err := svc.IngestSale(ctx, sub)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if first.Status != domain.OutcomeSynced {
		t.Fatalf("expected synced, got %s", first.Status)
	}

	// Retransmit the same key several times, as a flaky network would.
	for i := 0; i < 3; i++ {
		replay, err := svc.IngestSale(ctx, sub)
		if err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
		if replay.Status != domain.OutcomeAlreadySynced {
			t.Fatalf("replay %d: expected already_synced, got %s", i, replay.Status)
		}
		if replay.ReceiptID != first.ReceiptID {
			t.Fatalf("replay %d: receipt id changed from %s to %s", i, first.ReceiptID, replay.ReceiptID)
		}
	}

	if got := productQuantity(t, repo, product.ID); got != 8 {
		t.Fatalf("expected quantity 8 after a single application, got %d", got)
	}

	receipts, err := svc.ListReceipts(ctx, "", 50)
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected exactly one receipt, got %d", len(receipts))
	}
}

func TestIngestSaleRecomputesTotal(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "MILK", 12000, 10)

	outcome, err := svc.IngestSale(cashierCtx(), domain.SaleSubmission{
		IdempotencyKey: "local-total",
		Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 12000, Quantity: 3}},
		Total:          1, // client-supplied total is ignored
		Offline:        true,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	receipt, err := svc.GetReceipt(cashierCtx(), outcome.ReceiptID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Total != 36000 {
		t.Fatalf("expected server-computed total 36000, got %d", receipt.Total)
	}
}

func TestIngestReturnIncreasesStock(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "RICE", 18000, 5)

	_, err := svc.IngestSale(cashierCtx(), domain.SaleSubmission{
		IdempotencyKey: "local-return",
		Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 18000, Quantity: 2}},
		IsReturn:       true,
		Offline:        true,
	})
	if err != nil {
		t.Fatalf("return ingest failed: %v", err)
	}

	if got := productQuantity(t, repo, product.ID); got != 7 {
		t.Fatalf("expected quantity 7 after return of 2, got %d", got)
	}
}

func TestIngestOnlineSaleRejectsOversell(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "OIL", 22000, 3)

	_, err := svc.IngestSale(cashierCtx(), domain.SaleSubmission{
		Items:   []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 22000, Quantity: 5}},
		Offline: false,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := productQuantity(t, repo, product.ID); got != 3 {
		t.Fatalf("expected quantity untouched at 3, got %d", got)
	}
}

func TestIngestOfflineSaleSkipsStockCheck(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "TEA", 9500, 1)

	// The sale already happened at the counter; the server records it even
	// though it drives the counter negative.
	_, err := svc.IngestSale(cashierCtx(), domain.SaleSubmission{
		IdempotencyKey: "local-oversell",
		Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 9500, Quantity: 3}},
		Offline:        true,
	})
	if err != nil {
		t.Fatalf("offline ingest failed: %v", err)
	}
	if got := productQuantity(t, repo, product.ID); got != -2 {
		t.Fatalf("expected quantity -2, got %d", got)
	}
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "SUGAR", 14000, 20)

	resp, err := svc.IngestBatch(cashierCtx(), domain.BulkSaleRequest{Sales: []domain.SaleSubmission{
		{
			IdempotencyKey: "batch-1",
			Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 14000, Quantity: 1}},
		},
		{
			IdempotencyKey: "batch-2",
			Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 14000, Quantity: 0}},
		},
		{
			IdempotencyKey: "batch-3",
			Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 14000, Quantity: 2}},
		},
	}})
	if err != nil {
		t.Fatalf("batch ingest failed: %v", err)
	}

	if resp.Synced != 2 || resp.Failed != 1 {
		t.Fatalf("expected 2 synced / 1 failed, got %d / %d", resp.Synced, resp.Failed)
	}
	wantStatuses := []string{domain.OutcomeSynced, domain.OutcomeError, domain.OutcomeSynced}
	for i, want := range wantStatuses {
		if resp.Outcomes[i].Status != want {
			t.Fatalf("outcome %d: expected %s, got %s", i, want, resp.Outcomes[i].Status)
		}
	}
	if resp.Outcomes[1].Reason == "" {
		t.Fatalf("expected a reason on the failed outcome")
	}

	// Only the two valid sales touched stock.
	if got := productQuantity(t, repo, product.ID); got != 17 {
		t.Fatalf("expected quantity 17, got %d", got)
	}
}

func TestHelperSaleCreatesPendingWithoutStockEffect(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "SOAP", 6000, 10)

	outcome, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
		Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 6000, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("helper sale failed: %v", err)
	}

	receipt, err := svc.GetReceipt(cashierCtx(), outcome.ReceiptID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Status != domain.ReceiptStatusPending {
		t.Fatalf("expected pending, got %s", receipt.Status)
	}
	if got := productQuantity(t, repo, product.ID); got != 10 {
		t.Fatalf("expected stock untouched at 10, got %d", got)
	}
}

func TestApproveReceiptAppliesStockOnce(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "WATER", 3500, 10)

	outcome, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
		Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 3500, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("helper sale failed: %v", err)
	}

	approved, err := svc.ApproveReceipt(cashierCtx(), outcome.ReceiptID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != domain.ReceiptStatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.ProcessedBy != "cashier" {
		t.Fatalf("expected processed_by cashier, got %s", approved.ProcessedBy)
	}

	if _, err := svc.ApproveReceipt(cashierCtx(), outcome.ReceiptID); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed on second approve, got %v", err)
	}
	if _, err := svc.RejectReceipt(cashierCtx(), outcome.ReceiptID); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed on reject after approve, got %v", err)
	}

	if got := productQuantity(t, repo, product.ID); got != 7 {
		t.Fatalf("expected quantity 7 after single approval, got %d", got)
	}
}

func TestApproveRechecksStockAndLeavesPending(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "FLOUR", 8000, 10)

	outcome, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
		Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 8000, Quantity: 6}},
	})
	if err != nil {
		t.Fatalf("helper sale failed: %v", err)
	}

	// Stock drains between submission and review.
	if err := repo.AdjustStock(context.Background(), product.ID, -8); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}

	if _, err := svc.ApproveReceipt(cashierCtx(), outcome.ReceiptID); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	receipt, err := svc.GetReceipt(cashierCtx(), outcome.ReceiptID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Status != domain.ReceiptStatusPending {
		t.Fatalf("expected receipt to stay pending, got %s", receipt.Status)
	}
	if got := productQuantity(t, repo, product.ID); got != 2 {
		t.Fatalf("expected quantity 2, got %d", got)
	}
}

func TestRejectReceiptRecordsReviewerWithoutStockEffect(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "SALT", 2000, 10)

	outcome, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
		Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 2000, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("helper sale failed: %v", err)
	}

	rejected, err := svc.RejectReceipt(cashierCtx(), outcome.ReceiptID)
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != domain.ReceiptStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.ProcessedBy != "cashier" {
		t.Fatalf("expected processed_by cashier, got %s", rejected.ProcessedBy)
	}
	if got := productQuantity(t, repo, product.ID); got != 10 {
		t.Fatalf("expected stock untouched at 10, got %d", got)
	}
}

func TestUpdateReceiptItemsOnlyWhilePending(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "EGGS", 1500, 50)

	outcome, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
		Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 1500, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("helper sale failed: %v", err)
	}

	edited, err := svc.UpdateReceiptItems(cashierCtx(), outcome.ReceiptID, []domain.ReceiptItem{
		{ProductID: product.ID, Name: product.Name, Price: 1500, Quantity: 6},
	})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if edited.Total != 9000 {
		t.Fatalf("expected recomputed total 9000, got %d", edited.Total)
	}
	if edited.Status != domain.ReceiptStatusPending {
		t.Fatalf("expected receipt to remain pending, got %s", edited.Status)
	}

	if _, err := svc.ApproveReceipt(cashierCtx(), outcome.ReceiptID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	_, err = svc.UpdateReceiptItems(cashierCtx(), outcome.ReceiptID, []domain.ReceiptItem{
		{ProductID: product.ID, Name: product.Name, Price: 1500, Quantity: 1},
	})
	if !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed on edit after approve, got %v", err)
	}

	// Approved with the edited quantity, not the original.
	if got := productQuantity(t, repo, product.ID); got != 44 {
		t.Fatalf("expected quantity 44, got %d", got)
	}
}

func TestHelperCannotReviewReceipts(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "JAM", 15000, 10)

	outcome, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
		Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 15000, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("helper sale failed: %v", err)
	}

	if _, err := svc.ApproveReceipt(helperCtx(), outcome.ReceiptID); err == nil {
		t.Fatalf("expected helper approve to be refused")
	}
	if _, err := svc.RejectReceipt(helperCtx(), outcome.ReceiptID); err == nil {
		t.Fatalf("expected helper reject to be refused")
	}
}

func TestIngestSaleValidatesKindAndCustomer(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "HONEY", 30000, 10)
	item := domain.ReceiptItem{ProductID: product.ID, Name: product.Name, Price: 30000, Quantity: 1}

	cases := []struct {
		name string
		sub  domain.SaleSubmission
	}{
		{"customer kind without reference", domain.SaleSubmission{Items: []domain.ReceiptItem{item}, Kind: domain.SaleKindCustomer, Offline: true}},
		{"walk-in with customer reference", domain.SaleSubmission{Items: []domain.ReceiptItem{item}, Kind: domain.SaleKindWalkIn, CustomerID: "cust-1", Offline: true}},
		{"unknown kind", domain.SaleSubmission{Items: []domain.ReceiptItem{item}, Kind: "wholesale", Offline: true}},
		{"unknown payment method", domain.SaleSubmission{Items: []domain.ReceiptItem{item}, PaymentMethod: "crypto", Offline: true}},
	}
	for _, tc := range cases {
		if _, err := svc.IngestSale(cashierCtx(), tc.sub); !errors.Is(err, store.ErrInvalidReceipt) {
			t.Fatalf("%s: expected invalid receipt, got %v", tc.name, err)
		}
	}
}

func TestConcurrentDuplicateSubmissionsCreateOneReceipt(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "BUTTER", 25000, 100)

	sub := domain.SaleSubmission{
		IdempotencyKey: "race-key",
		Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 25000, Quantity: 1}},
		Offline:        true,
	}

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := svc.IngestSale(cashierCtx(), sub)
			results <- err
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-results; err != nil {
			t.Fatalf("concurrent ingest %d failed: %v", i, err)
		}
	}

	receipts, err := svc.ListReceipts(cashierCtx(), "", 100)
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected one receipt from %d concurrent submissions, got %d", workers, len(receipts))
	}
	if got := productQuantity(t, repo, product.ID); got != 99 {
		t.Fatalf("expected quantity 99, got %d", got)
	}
}

func TestIngestBatchRequiresSales(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.IngestBatch(cashierCtx(), domain.BulkSaleRequest{}); !errors.Is(err, store.ErrInvalidReceipt) {
		t.Fatalf("expected invalid receipt for empty batch, got %v", err)
	}
}

func TestStaffReceiptListFiltersByStatus(t *testing.T) {
	svc, repo := newTestService()
	product := seedProduct(t, repo, "CHEESE", 40000, 50)

	for i := 0; i < 3; i++ {
		_, err := svc.IngestSale(helperCtx(), domain.SaleSubmission{
			Items: []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 40000, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("helper sale %d failed: %v", i, err)
		}
	}
	// One completed cashier sale must not show up in the staff list.
	if _, err := svc.IngestSale(cashierCtx(), domain.SaleSubmission{
		IdempotencyKey: fmt.Sprintf("cashier-%d", time.Now().UnixNano()),
		Items:          []domain.ReceiptItem{{ProductID: product.ID, Name: product.Name, Price: 40000, Quantity: 1}},
		Offline:        true,
	}); err != nil {
		t.Fatalf("cashier sale failed: %v", err)
	}

	pending, err := svc.ListStaffReceipts(cashierCtx(), domain.ReceiptStatusPending, 50)
	if err != nil {
		t.Fatalf("list staff receipts: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending staff receipts, got %d", len(pending))
	}

	if _, err := svc.ApproveReceipt(cashierCtx(), pending[0].ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	approved, err := svc.ListStaffReceipts(cashierCtx(), domain.ReceiptStatusApproved, 50)
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if len(approved) != 1 {
		t.Fatalf("expected 1 approved staff receipt, got %d", len(approved))
	}
}
