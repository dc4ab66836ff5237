package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
)

const Schema = `
CREATE TABLE IF NOT EXISTS menu_categories (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    sort_order  INTEGER NOT NULL DEFAULT 0,
    is_active   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS menu_items (
    id           TEXT PRIMARY KEY,
    category_id  TEXT REFERENCES menu_categories(id) ON DELETE SET NULL,
    name         TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    base_price   REAL NOT NULL DEFAULT 0,
    sort_order   INTEGER NOT NULL DEFAULT 0,
    is_available INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_menu_items_category ON menu_items(category_id, sort_order);

CREATE TABLE IF NOT EXISTS branches (
    id                        TEXT PRIMARY KEY,
    name                      TEXT NOT NULL,
    address                   TEXT NOT NULL DEFAULT '',
    phone                     TEXT NOT NULL DEFAULT '',
    is_accepting_reservations INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS crm_customers (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL DEFAULT '',
    phone     TEXT NOT NULL,
    phone_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crm_customers_phone_key ON crm_customers(phone_key);
`

// Store implements Catalog and Directory on SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies Schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, sort_order, is_active FROM menu_categories
		WHERE is_active = 1 ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.SortOrder, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ItemsInCategory(ctx context.Context, categoryID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(category_id, ''), name, description, base_price, sort_order, is_available
		FROM menu_items WHERE category_id = ? AND is_available = 1 ORDER BY sort_order, name`,
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("catalog: items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// Item returns the item with id whether or not it is available.
func (s *Store) Item(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(category_id, ''), name, description, base_price, sort_order, is_available
		FROM menu_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

func (s *Store) Branches(ctx context.Context) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, phone, is_accepting_reservations FROM branches
		WHERE is_accepting_reservations = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.AcceptsReservations); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FindByPhone matches on the last nine digits of the number.
func (s *Store) FindByPhone(ctx context.Context, phone string) (*CRMCustomer, error) {
	key := PhoneKey(phone)
	if key == "" {
		return nil, ErrNotFound
	}
	var c CRMCustomer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone FROM crm_customers WHERE phone_key = ? ORDER BY id LIMIT 1`, key).
		Scan(&c.ID, &c.Name, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: find crm customer: %w", err)
	}
	return &c, nil
}

// UpsertCategory inserts or replaces a category.
func (s *Store) UpsertCategory(ctx context.Context, c Category) error {
	return wrap("upsert category", s.inTx(ctx, func(w writer) error { return w.category(c) }))
}

// UpsertItem inserts or replaces a menu item.
func (s *Store) UpsertItem(ctx context.Context, it Item) error {
	return wrap("upsert item", s.inTx(ctx, func(w writer) error { return w.item(it) }))
}

// UpsertBranch inserts or replaces a branch.
func (s *Store) UpsertBranch(ctx context.Context, b Branch) error {
	return wrap("upsert branch", s.inTx(ctx, func(w writer) error { return w.branch(b) }))
}

// UpsertCRMCustomer inserts or replaces a CRM guest record.
func (s *Store) UpsertCRMCustomer(ctx context.Context, c CRMCustomer) error {
	return wrap("upsert crm customer", s.inTx(ctx, func(w writer) error { return w.crmCustomer(c) }))
}

func (s *Store) inTx(ctx context.Context, fn func(writer) error) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(writer{ctx: ctx, tx: tx})
	})
}

// writer runs the upserts inside one transaction.
type writer struct {
	ctx context.Context
	tx  *sql.Tx
}

func (w writer) category(c Category) error {
	_, err := w.tx.ExecContext(w.ctx,
		`INSERT INTO menu_categories (id, name, description, sort_order, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
			sort_order = excluded.sort_order, is_active = excluded.is_active`,
		c.ID, c.Name, c.Description, c.SortOrder, c.Active)
	return err
}

func (w writer) item(it Item) error {
	var cat sql.NullString
	if it.CategoryID != "" {
		cat = sql.NullString{String: it.CategoryID, Valid: true}
	}
	_, err := w.tx.ExecContext(w.ctx,
		`INSERT INTO menu_items (id, category_id, name, description, base_price, sort_order, is_available)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET category_id = excluded.category_id, name = excluded.name,
			description = excluded.description, base_price = excluded.base_price,
			sort_order = excluded.sort_order, is_available = excluded.is_available`,
		it.ID, cat, it.Name, it.Description, it.Price, it.SortOrder, it.Available)
	return err
}

func (w writer) branch(b Branch) error {
	_, err := w.tx.ExecContext(w.ctx,
		`INSERT INTO branches (id, name, address, phone, is_accepting_reservations)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address,
			phone = excluded.phone, is_accepting_reservations = excluded.is_accepting_reservations`,
		b.ID, b.Name, b.Address, b.Phone, b.AcceptsReservations)
	return err
}

func (w writer) crmCustomer(c CRMCustomer) error {
	_, err := w.tx.ExecContext(w.ctx,
		`INSERT INTO crm_customers (id, name, phone, phone_key) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone,
			phone_key = excluded.phone_key`,
		c.ID, c.Name, c.Phone, PhoneKey(c.Phone))
	return err
}

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.CategoryID, &it.Name, &it.Description, &it.Price,
		&it.SortOrder, &it.Available); err != nil {
		return nil, err
	}
	return &it, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}
