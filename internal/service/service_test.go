package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoicepos/internal/cache"
	"invoicepos/internal/clock"
	"invoicepos/internal/domain"
	"invoicepos/internal/draft"
	"invoicepos/internal/lookup"
	"invoicepos/internal/store"
	"invoicepos/internal/store/memory"
)

type testEnv struct {
	svc       *Service
	repo      *memory.Store
	snapshots *cache.MemorySnapshotStore
	clock     *clock.FakeClock
}

func newTestEnv() *testEnv {
	repo := memory.NewSeeded()
	snapshots := cache.NewMemorySnapshotStore()
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return &testEnv{
		svc:       newServiceWith(repo, snapshots, clk),
		repo:      repo,
		snapshots: snapshots,
		clock:     clk,
	}
}

func newServiceWith(repo store.Repository, snapshots draft.SnapshotStore, clk *clock.FakeClock) *Service {
	return New(repo, lookup.NewEngine(cache.NoopLookupCache{}, 5*time.Second), snapshots, Config{
		DefaultStoreID: "main-store",
		Now:            clk.Now,
	})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func TestSubmitPersistsInvoiceAndClearsDraft(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	if _, err := env.svc.OpenDraft(ctx, "", "terminal-a1"); err != nil {
		t.Fatalf("open draft: %v", err)
	}
	view, err := env.svc.AddLine(ctx, "", "terminal-a1", domain.AddLineRequest{
		ProductID:       1,
		Quantity:        2,
		DiscountPercent: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	if view.Totals.NetTotal.String() != "22.5" {
		t.Fatalf("expected net total 22.5, got %s", view.Totals.NetTotal)
	}
	if view.Draft.LineItems[0].AvailableStock != 120 {
		t.Fatalf("expected stock snapshot 120, got %d", view.Draft.LineItems[0].AvailableStock)
	}

	if _, err := env.svc.AddPayment(ctx, "", "terminal-a1", domain.AddPaymentRequest{
		PaymentMethodID: 1,
		Amount:          decimal.RequireFromString("22.50"),
	}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	resp, err := env.svc.Submit(ctx, "", "terminal-a1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Invoice.ID == "" || resp.Invoice.CreatedBy != "cashier" {
		t.Fatalf("unexpected invoice %+v", resp.Invoice)
	}
	if resp.Display.NetTotal != "$22.50" {
		t.Fatalf("expected display $22.50, got %q", resp.Display.NetTotal)
	}

	stock, _ := env.repo.GetStockMap(ctx, "main-store", []int64{1})
	if stock[1] != 118 {
		t.Fatalf("expected stock 118 after submit, got %d", stock[1])
	}
	if _, found, _ := env.snapshots.Get(ctx, DraftKey("main-store", "terminal-a1")); found {
		t.Fatal("expected slot to be cleared after submit")
	}
	after, _ := env.svc.GetDraft(ctx, "", "terminal-a1")
	if after.State != "empty" {
		t.Fatalf("expected empty draft after submit, got %s", after.State)
	}

	loaded, err := env.svc.GetInvoice(ctx, resp.Invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !loaded.Totals.NetTotal.Equal(decimal.RequireFromString("22.5")) {
		t.Fatalf("expected stored net total 22.5, got %s", loaded.Totals.NetTotal)
	}
}

func TestSubmitRejectsPaymentMismatch(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	if _, err := env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 3, Quantity: 1}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if _, err := env.svc.AddPayment(ctx, "", "t1", domain.AddPaymentRequest{PaymentMethodID: 2, Amount: decimal.NewFromInt(80)}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	_, err := env.svc.Submit(ctx, "", "t1")
	var mismatch *PaymentMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected PaymentMismatchError, got %v", err)
	}
	if mismatch.Shortfall.String() != "9" {
		t.Fatalf("expected shortfall 9, got %s", mismatch.Shortfall)
	}

	view, _ := env.svc.GetDraft(ctx, "", "t1")
	if view.State != "active" || len(view.Draft.LineItems) != 1 {
		t.Fatalf("expected draft to survive rejected submit, got %+v", view)
	}
}

func TestSubmitRejectsOverpayment(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	_, _ = env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 2, Quantity: 1})
	_, _ = env.svc.AddPayment(ctx, "", "t1", domain.AddPaymentRequest{PaymentMethodID: 1, Amount: decimal.NewFromInt(10)})

	_, err := env.svc.Submit(ctx, "", "t1")
	var mismatch *PaymentMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected PaymentMismatchError, got %v", err)
	}
	if mismatch.Excess.String() != "1.1" {
		t.Fatalf("expected excess 1.1, got %s", mismatch.Excess)
	}
}

func TestSubmitRequiresLines(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	if _, err := env.svc.Submit(ctx, "", "t1"); !errors.Is(err, draft.ErrNoActiveDraft) {
		t.Fatalf("expected ErrNoActiveDraft, got %v", err)
	}
	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	if _, err := env.svc.Submit(ctx, "", "t1"); !errors.Is(err, ErrEmptyInvoice) {
		t.Fatalf("expected ErrEmptyInvoice, got %v", err)
	}
}

func TestRecoveryAfterReload(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	_, _ = env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 3})
	_, _ = env.svc.SetNotes(ctx, "", "t1", domain.SetNotesRequest{Notes: "deliver friday"})

	env.clock.Advance(45 * time.Minute)
	reloaded := newServiceWith(env.repo, env.snapshots, env.clock)

	offer, err := reloaded.PendingRecovery(ctx, "", "t1")
	if err != nil {
		t.Fatalf("pending recovery: %v", err)
	}
	if !offer.Available || offer.LineCount != 1 || offer.AgeMinutes != 45 {
		t.Fatalf("unexpected offer %+v", offer)
	}

	if _, err := reloaded.OpenDraft(ctx, "", "t1"); !errors.Is(err, ErrRecoveryPending) {
		t.Fatalf("expected ErrRecoveryPending, got %v", err)
	}

	view, err := reloaded.RecoverDraft(ctx, "", "t1", true)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !view.Recovered || len(view.Draft.LineItems) != 1 || view.Draft.Notes != "deliver friday" {
		t.Fatalf("expected recovered draft, got %+v", view)
	}
	if view.Totals.NetTotal.String() != "37.5" {
		t.Fatalf("expected net total 37.5, got %s", view.Totals.NetTotal)
	}
}

func TestRecoveryDeclineStartsEmptyDraft(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	_, _ = env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 1})

	reloaded := newServiceWith(env.repo, env.snapshots, env.clock)
	view, err := reloaded.RecoverDraft(ctx, "", "t1", false)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if view.Recovered || view.State != "active" || len(view.Draft.LineItems) != 0 {
		t.Fatalf("expected empty active draft, got %+v", view)
	}

	again := newServiceWith(env.repo, env.snapshots, env.clock)
	offer, _ := again.PendingRecovery(ctx, "", "t1")
	if offer.Available {
		t.Fatal("expected declined snapshot to be gone")
	}
}

func TestRecoveryIgnoresStaleSnapshot(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()

	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	_, _ = env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 1})

	env.clock.Advance(3 * time.Hour)
	reloaded := newServiceWith(env.repo, env.snapshots, env.clock)

	offer, _ := reloaded.PendingRecovery(ctx, "", "t1")
	if offer.Available {
		t.Fatal("expected stale snapshot not to be offered")
	}
	view, err := reloaded.RecoverDraft(ctx, "", "t1", true)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if view.Recovered || len(view.Draft.LineItems) != 0 {
		t.Fatalf("expected stale snapshot to be dropped, got %+v", view)
	}
}

func TestAddLineErrors(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()
	_, _ = env.svc.OpenDraft(ctx, "", "t1")

	if _, err := env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 404, Quantity: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	env.repo.SetStock("main-store", 5, 2)
	if _, err := env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 5, Quantity: 3}); !errors.Is(err, draft.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if _, err := env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 0}); !errors.Is(err, draft.ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine, got %v", err)
	}

	if _, err := env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 1}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if _, err := env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 1}); !errors.Is(err, draft.ErrDuplicateLine) {
		t.Fatalf("expected ErrDuplicateLine, got %v", err)
	}
}

func TestUpdateLineRefreshesStock(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()
	_, _ = env.svc.OpenDraft(ctx, "", "t1")
	_, _ = env.svc.AddLine(ctx, "", "t1", domain.AddLineRequest{ProductID: 4, Quantity: 1})

	env.repo.SetStock("main-store", 4, 3)
	qty := 5
	if _, err := env.svc.UpdateLine(ctx, "", "t1", 4, domain.UpdateLineRequest{Quantity: &qty}); !errors.Is(err, draft.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	qty = 3
	view, err := env.svc.UpdateLine(ctx, "", "t1", 4, domain.UpdateLineRequest{Quantity: &qty})
	if err != nil {
		t.Fatalf("update line: %v", err)
	}
	if view.Draft.LineItems[0].Quantity != 3 || view.Draft.LineItems[0].AvailableStock != 3 {
		t.Fatalf("unexpected line %+v", view.Draft.LineItems[0])
	}

	view, err = env.svc.RemoveLine(ctx, "", "t1", 4)
	if err != nil {
		t.Fatalf("remove line: %v", err)
	}
	if len(view.Draft.LineItems) != 0 {
		t.Fatalf("expected no lines, got %d", len(view.Draft.LineItems))
	}
}

func TestPaymentAndCustomerChecks(t *testing.T) {
	env := newTestEnv()
	ctx := cashierCtx()
	_, _ = env.svc.OpenDraft(ctx, "", "t1")

	if _, err := env.svc.AddPayment(ctx, "", "t1", domain.AddPaymentRequest{PaymentMethodID: 4, Amount: decimal.NewFromInt(5)}); !errors.Is(err, draft.ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for disabled method, got %v", err)
	}
	if _, err := env.svc.AddPayment(ctx, "", "t1", domain.AddPaymentRequest{PaymentMethodID: 99, Amount: decimal.NewFromInt(5)}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown method, got %v", err)
	}
	if _, err := env.svc.AddPayment(ctx, "", "t1", domain.AddPaymentRequest{PaymentMethodID: 1, Amount: decimal.NewFromInt(-5)}); !errors.Is(err, draft.ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for negative amount, got %v", err)
	}

	missing := int64(77)
	if _, err := env.svc.SetCustomer(ctx, "", "t1", domain.SetCustomerRequest{CustomerID: &missing}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
	known := int64(2)
	view, err := env.svc.SetCustomer(ctx, "", "t1", domain.SetCustomerRequest{CustomerID: &known})
	if err != nil {
		t.Fatalf("set customer: %v", err)
	}
	if view.Draft.CustomerID == nil || *view.Draft.CustomerID != 2 {
		t.Fatalf("expected customer 2, got %+v", view.Draft.CustomerID)
	}
}

func TestMutationsRequireOpenDraft(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.AddLine(cashierCtx(), "", "t1", domain.AddLineRequest{ProductID: 1, Quantity: 1}); !errors.Is(err, draft.ErrNoActiveDraft) {
		t.Fatalf("expected ErrNoActiveDraft, got %v", err)
	}
}

func TestTerminalIDIsValidated(t *testing.T) {
	env := newTestEnv()
	for _, terminal := range []string{"", "bad terminal", "../etc"} {
		if _, err := env.svc.OpenDraft(cashierCtx(), "", terminal); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", terminal, err)
		}
	}
}

func TestComputeTotalsAcceptsAliases(t *testing.T) {
	env := newTestEnv()
	line := map[string]any{"idProducto": 7, "precio": "1000", "cantidad": 3, "descuento_porcentaje": 10}
	other := map[string]any{"product_id": 8, "unitPrice": 1000, "quantity": "3", "discountPercent": "10"}

	resp, err := env.svc.ComputeTotals(context.Background(), domain.TotalsRequest{
		Lines:    []map[string]any{line, other},
		Payments: []map[string]any{{"paymentMethodId": 1, "amount": 3000}, {"metodo_pago_id": 2, "monto": "2000"}},
	})
	if err != nil {
		t.Fatalf("compute totals: %v", err)
	}
	if resp.Totals.GrossTotal.String() != "6000" || resp.Totals.TotalDiscounts.String() != "600" || resp.Totals.NetTotal.String() != "5400" {
		t.Fatalf("unexpected totals %+v", resp.Totals)
	}
	if resp.LineSubtotals[0] != "2700.00" {
		t.Fatalf("expected subtotal 2700.00, got %s", resp.LineSubtotals[0])
	}
	if resp.Reconciliation == nil || resp.Reconciliation.Valid || resp.Reconciliation.Shortfall.String() != "400" {
		t.Fatalf("expected shortfall 400, got %+v", resp.Reconciliation)
	}
	if resp.Display.NetTotal != "$5,400.00" {
		t.Fatalf("expected $5,400.00, got %q", resp.Display.NetTotal)
	}
}

func TestComputeTotalsReportsViolations(t *testing.T) {
	env := newTestEnv()
	resp, err := env.svc.ComputeTotals(context.Background(), domain.TotalsRequest{
		Lines: []map[string]any{{"product_id": 1, "price": 10, "quantity": 0}},
	})
	if err != nil {
		t.Fatalf("compute totals: %v", err)
	}
	if len(resp.LineViolations) != 1 || resp.LineViolations[0].Index != 0 {
		t.Fatalf("expected one line violation, got %+v", resp.LineViolations)
	}
	if resp.Reconciliation != nil {
		t.Fatal("expected no reconciliation without payments")
	}

	if _, err := env.svc.ComputeTotals(context.Background(), domain.TotalsRequest{
		Lines: []map[string]any{{"product_id": 1, "product_id ": 2}},
	}); err == nil {
		t.Fatal("expected conflicting aliases to be rejected")
	}
}

func TestSearchProducts(t *testing.T) {
	env := newTestEnv()
	resp, err := env.svc.SearchProducts(context.Background(), "", "cab", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Matches) != 2 {
		t.Fatalf("expected 2 cable matches, got %+v", resp.Matches)
	}
	if resp.Matches[0].AvailableStock != 120 {
		t.Fatalf("expected stock 120, got %d", resp.Matches[0].AvailableStock)
	}
}
