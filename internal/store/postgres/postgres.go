package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"invoicepos/internal/domain"
	"invoicepos/internal/store"
	"invoicepos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, code, name, category, unit_price, vat_percent, active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.UnitPrice, &p.VATPercent, &p.Active)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetStockMap(ctx context.Context, storeID string, ids []int64) (map[int64]int, error) {
	stockMap := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM inventory_stocks
		WHERE store_id = $1 AND product_id = ANY($2)
	`, storeID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}
	return stockMap, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active
		FROM payment_methods
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 8)
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.Active); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, id int64) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active
		FROM payment_methods
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	var taxID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, tax_id
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &taxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.TaxID = taxID.String
	return &c, nil
}

// CreateInvoice persists the invoice and takes its quantities out of stock in
// one serializable transaction.
func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if len(invoice.Lines) == 0 || invoice.StoreID == "" {
		return nil, store.ErrInvalidInvoice
	}

	needed := make(map[int64]int, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInvoice
		}
		needed[line.ProductID] += line.Quantity
	}
	ids := uniqueProductIDs(invoice.Lines)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var activeCount int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*)
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids).Scan(&activeCount); err != nil {
		return nil, err
	}
	if activeCount != len(ids) {
		return nil, fmt.Errorf("%w: invoice references unavailable products", store.ErrInvalidInvoice)
	}

	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM inventory_stocks
		WHERE store_id = $1 AND product_id = ANY($2)
		FOR UPDATE
	`, invoice.StoreID, ids)
	if err != nil {
		return nil, err
	}
	stockMap := make(map[int64]int, len(ids))
	for stockRows.Next() {
		var id int64
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, id := range ids {
		if stockMap[id] < needed[id] {
			return nil, store.ErrInsufficientStock
		}
	}
	for _, id := range ids {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_stocks
			SET qty = qty - $1, updated_at = now()
			WHERE store_id = $2 AND product_id = $3
		`, needed[id], invoice.StoreID, id); err != nil {
			return nil, err
		}
	}

	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, store_id, terminal_id, customer_id, notes,
			gross_total, total_discounts, net_total, total_tax,
			total_paid, change_due, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, invoice.ID, invoice.StoreID, invoice.TerminalID, nullInt64(invoice.CustomerID), nullIfEmpty(invoice.Notes),
		invoice.Totals.GrossTotal, invoice.Totals.TotalDiscounts, invoice.Totals.NetTotal, invoice.Totals.TotalTax,
		invoice.TotalPaid, invoice.Change, invoice.CreatedBy, invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInvoice
		}
		return nil, err
	}

	for i, line := range invoice.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_lines (
				invoice_id, position, product_id, product_code, name, unit_price,
				quantity, discount_percent, discount_value, vat_percent
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, invoice.ID, i, line.ProductID, line.ProductCode, line.Name, line.UnitPrice,
			line.Quantity, line.DiscountPercent, line.DiscountValue, line.VATPercent)
		if err != nil {
			return nil, err
		}
	}
	for i, payment := range invoice.Payments {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_payments (invoice_id, position, payment_method_id, amount)
			VALUES ($1,$2,$3,$4)
		`, invoice.ID, i, payment.PaymentMethodID, payment.Amount)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return store.CloneInvoice(&invoice), nil
}

func (s *Store) FindInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	var customerID sql.NullInt64
	var notes sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, terminal_id, customer_id, notes,
			gross_total, total_discounts, net_total, total_tax,
			total_paid, change_due, created_by, created_at
		FROM invoices
		WHERE id = $1
	`, id).Scan(
		&invoice.ID,
		&invoice.StoreID,
		&invoice.TerminalID,
		&customerID,
		&notes,
		&invoice.Totals.GrossTotal,
		&invoice.Totals.TotalDiscounts,
		&invoice.Totals.NetTotal,
		&invoice.Totals.TotalTax,
		&invoice.TotalPaid,
		&invoice.Change,
		&invoice.CreatedBy,
		&invoice.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		cid := customerID.Int64
		invoice.CustomerID = &cid
	}
	invoice.Notes = notes.String
	invoice.CreatedAt = invoice.CreatedAt.UTC()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_code, name, unit_price, quantity,
			discount_percent, discount_value, vat_percent
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position ASC
	`, invoice.ID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	invoice.Lines = make([]domain.LineItem, 0, 8)
	for lineRows.Next() {
		var line domain.LineItem
		if err := lineRows.Scan(&line.ProductID, &line.ProductCode, &line.Name, &line.UnitPrice, &line.Quantity,
			&line.DiscountPercent, &line.DiscountValue, &line.VATPercent); err != nil {
			return nil, err
		}
		invoice.Lines = append(invoice.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT payment_method_id, amount
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY position ASC
	`, invoice.ID)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()

	invoice.Payments = make([]domain.Payment, 0, 2)
	for paymentRows.Next() {
		var p domain.Payment
		if err := paymentRows.Scan(&p.PaymentMethodID, &p.Amount); err != nil {
			return nil, err
		}
		invoice.Payments = append(invoice.Payments, p)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}

	return &invoice, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidUser
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(lines []domain.LineItem) []int64 {
	set := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		set[line.ProductID] = struct{}{}
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
