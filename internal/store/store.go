package store

import (
	"context"
	"errors"

	"invoicepos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInvoice    = errors.New("invalid invoice")
	ErrInvalidUser       = errors.New("invalid user")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	GetStockMap(ctx context.Context, storeID string, ids []int64) (map[int64]int, error)
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id int64) (*domain.PaymentMethod, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	FindInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// CloneInvoice returns a copy that shares no slices or pointers with src.
func CloneInvoice(src *domain.Invoice) *domain.Invoice {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = append([]domain.LineItem(nil), src.Lines...)
	dup.Payments = append([]domain.Payment(nil), src.Payments...)
	if src.CustomerID != nil {
		id := *src.CustomerID
		dup.CustomerID = &id
	}
	return &dup
}
