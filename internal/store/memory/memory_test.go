package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"invoicepos/internal/domain"
	"invoicepos/internal/store"
)

func invoiceFor(productID int64, qty int) domain.Invoice {
	return domain.Invoice{
		StoreID:    "main-store",
		TerminalID: "T1",
		Lines: []domain.LineItem{{
			ProductID: productID,
			UnitPrice: decimal.NewFromInt(10),
			Quantity:  qty,
		}},
		CreatedBy: "cashier",
	}
}

func TestCreateInvoiceDecrementsStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	created, err := s.CreateInvoice(ctx, invoiceFor(1, 20))
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", created)
	}

	stock, _ := s.GetStockMap(ctx, "main-store", []int64{1})
	if stock[1] != 100 {
		t.Fatalf("expected stock 100, got %d", stock[1])
	}

	loaded, err := s.FindInvoiceByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	loaded.Lines[0].Quantity = 99
	again, _ := s.FindInvoiceByID(ctx, created.ID)
	if again.Lines[0].Quantity != 20 {
		t.Fatalf("expected stored invoice to be isolated from callers")
	}
}

func TestCreateInvoiceRejectsOversell(t *testing.T) {
	s := NewSeeded()
	s.SetStock("main-store", 2, 3)

	_, err := s.CreateInvoice(context.Background(), invoiceFor(2, 4))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	stock, _ := s.GetStockMap(context.Background(), "main-store", []int64{2})
	if stock[2] != 3 {
		t.Fatalf("expected stock untouched, got %d", stock[2])
	}
}

func TestCreateInvoiceRejectsEmpty(t *testing.T) {
	s := NewSeeded()
	_, err := s.CreateInvoice(context.Background(), domain.Invoice{StoreID: "main-store"})
	if !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected ErrInvalidInvoice, got %v", err)
	}
}

func TestCreateInvoiceUnavailableErrorsAreTyped(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	unknownStore := invoiceFor(1, 1)
	unknownStore.StoreID = "branch-9"
	if _, err := s.CreateInvoice(ctx, unknownStore); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown store, got %v", err)
	}

	s.SetProductActive(2, false)
	if _, err := s.CreateInvoice(ctx, invoiceFor(2, 1)); !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected ErrInvalidInvoice for inactive product, got %v", err)
	}
	if _, err := s.CreateInvoice(ctx, invoiceFor(9999, 1)); !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected ErrInvalidInvoice for unknown product, got %v", err)
	}

	stock, _ := s.GetStockMap(ctx, "main-store", []int64{1, 2})
	if stock[1] != 120 || stock[2] != 120 {
		t.Fatalf("expected stock untouched, got %v", stock)
	}
}

func TestLookupsReportNotFound(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.GetProductByID(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if _, err := s.GetPaymentMethod(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected payment method not found, got %v", err)
	}
	if _, err := s.GetCustomer(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected customer not found, got %v", err)
	}
	if _, err := s.FindInvoiceByID(ctx, "inv-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected invoice not found, got %v", err)
	}

	methods, _ := s.ListPaymentMethods(ctx)
	for _, m := range methods {
		if !m.Active {
			t.Fatalf("expected only active payment methods, got %+v", m)
		}
	}
}

func TestSeededUsersAreHashed(t *testing.T) {
	s := NewSeeded()
	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "admin" {
		t.Fatalf("unexpected seeded users %+v", users)
	}
	if users[0].Password == "admin123" {
		t.Fatal("expected seeded password to be hashed")
	}
}
