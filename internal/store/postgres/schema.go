package postgres

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	unit_price NUMERIC NOT NULL,
	vat_percent NUMERIC NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inventory_stocks (
	store_id TEXT NOT NULL,
	product_id BIGINT NOT NULL REFERENCES products(id),
	qty INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (store_id, product_id)
);

CREATE TABLE IF NOT EXISTS payment_methods (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS customers (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	tax_id TEXT
);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	terminal_id TEXT NOT NULL,
	customer_id BIGINT REFERENCES customers(id),
	notes TEXT,
	gross_total NUMERIC(14,2) NOT NULL,
	total_discounts NUMERIC(14,2) NOT NULL,
	net_total NUMERIC(14,2) NOT NULL,
	total_tax NUMERIC(14,2) NOT NULL,
	total_paid NUMERIC(14,2) NOT NULL,
	change_due NUMERIC(14,2) NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice_lines (
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	product_id BIGINT NOT NULL,
	product_code TEXT NOT NULL,
	name TEXT NOT NULL,
	unit_price NUMERIC NOT NULL,
	quantity INTEGER NOT NULL,
	discount_percent NUMERIC NOT NULL,
	discount_value NUMERIC NOT NULL,
	vat_percent NUMERIC NOT NULL,
	PRIMARY KEY (invoice_id, position)
);

CREATE TABLE IF NOT EXISTS invoice_payments (
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	payment_method_id BIGINT NOT NULL REFERENCES payment_methods(id),
	amount NUMERIC NOT NULL,
	PRIMARY KEY (invoice_id, position)
);

CREATE TABLE IF NOT EXISTS app_users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates any missing tables. It never alters existing ones.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
