package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"invoicepos/internal/domain"
	"invoicepos/internal/store"
	"invoicepos/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	inventory       map[string]map[int64]int
	paymentMethods  map[int64]domain.PaymentMethod
	customers       map[int64]domain.Customer
	invoicesByID    map[string]*domain.Invoice
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// when unset, dev defaults are used and a warning is logged.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
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

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// NewSeeded returns a store holding a small demo catalog with 120 units of
// every product in main-store.
func NewSeeded() *Store {
	vat := price("19")
	products := []domain.Product{
		{ID: 1, Code: "CAB-HDMI-2M", Name: "HDMI Cable 2m", Category: "accessories", UnitPrice: price("12.50"), VATPercent: vat, Active: true},
		{ID: 2, Code: "CAB-USBC-1M", Name: "USB-C Cable 1m", Category: "accessories", UnitPrice: price("8.90"), VATPercent: vat, Active: true},
		{ID: 3, Code: "KBD-MECH-01", Name: "Mechanical Keyboard", Category: "peripherals", UnitPrice: price("89.00"), VATPercent: vat, Active: true},
		{ID: 4, Code: "MSE-WL-01", Name: "Wireless Mouse", Category: "peripherals", UnitPrice: price("24.99"), VATPercent: vat, Active: true},
		{ID: 5, Code: "MON-27-01", Name: "27in Monitor", Category: "displays", UnitPrice: price("249.00"), VATPercent: vat, Active: true},
		{ID: 6, Code: "PAP-A4-500", Name: "A4 Paper 500 sheets", Category: "stationery", UnitPrice: price("6.40"), VATPercent: price("5"), Active: true},
		{ID: 7, Code: "BK-GO-01", Name: "Go Programming Book", Category: "books", UnitPrice: price("39.95"), VATPercent: decimal.Zero, Active: true},
		{ID: 8, Code: "SRV-INST-01", Name: "Installation Service", Category: "services", UnitPrice: price("30.00"), VATPercent: vat, Active: true},
	}

	productMap := make(map[int64]domain.Product, len(products))
	inventory := map[string]map[int64]int{"main-store": {}}
	for _, p := range products {
		productMap[p.ID] = p
		inventory["main-store"][p.ID] = 120
	}

	return &Store{
		products:  productMap,
		inventory: inventory,
		paymentMethods: map[int64]domain.PaymentMethod{
			1: {ID: 1, Name: "Cash", Active: true},
			2: {ID: 2, Name: "Card", Active: true},
			3: {ID: 3, Name: "Bank Transfer", Active: true},
			4: {ID: 4, Name: "Cheque", Active: false},
		},
		customers: map[int64]domain.Customer{
			1: {ID: 1, Name: "Walk-in Customer"},
			2: {ID: 2, Name: "Northwind Traders", TaxID: "900123456-7"},
			3: {ID: 3, Name: "Contoso Ltd", TaxID: "800765432-1"},
		},
		invoicesByID:    make(map[string]*domain.Invoice),
		usersByUsername: seedUsers(),
	}
}

// SetStock overrides on-hand quantity for one product.
func (s *Store) SetStock(storeID string, productID int64, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	storeStock, ok := s.inventory[storeID]
	if !ok {
		storeStock = make(map[int64]int)
		s.inventory[storeID] = storeStock
	}
	storeStock[productID] = qty
}

// SetProductActive toggles whether a product can still be sold.
func (s *Store) SetProductActive(productID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product, ok := s.products[productID]; ok {
		product.Active = active
		s.products[productID] = product
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, storeID string, ids []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[int64]int, len(ids))
	storeStock := s.inventory[storeID]
	for _, id := range ids {
		stockMap[id] = storeStock[id]
	}
	return stockMap, nil
}

func (s *Store) ListPaymentMethods(_ context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, m := range s.paymentMethods {
		if m.Active {
			methods = append(methods, m)
		}
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int {
		return int(a.ID - b.ID)
	})
	return methods, nil
}

func (s *Store) GetPaymentMethod(_ context.Context, id int64) (*domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	method, ok := s.paymentMethods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &method, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(invoice.Lines) == 0 || invoice.StoreID == "" {
		return nil, store.ErrInvalidInvoice
	}
	if invoice.ID != "" {
		if _, exists := s.invoicesByID[invoice.ID]; exists {
			return nil, store.ErrInvalidInvoice
		}
	}

	storeStock, ok := s.inventory[invoice.StoreID]
	if !ok {
		return nil, fmt.Errorf("store %s: %w", invoice.StoreID, store.ErrNotFound)
	}

	needed := make(map[int64]int, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInvoice
		}
		product, exists := s.products[line.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %d unavailable", store.ErrInvalidInvoice, line.ProductID)
		}
		needed[line.ProductID] += line.Quantity
	}
	for id, qty := range needed {
		if storeStock[id] < qty {
			return nil, store.ErrInsufficientStock
		}
	}
	for id, qty := range needed {
		storeStock[id] -= qty
	}

	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	saved := store.CloneInvoice(&invoice)
	s.invoicesByID[saved.ID] = saved
	return store.CloneInvoice(saved), nil
}

func (s *Store) FindInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.CloneInvoice(invoice), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidUser
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
