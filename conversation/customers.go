package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
)

const customerColumns = `id, phone_number, profile_name, crm_customer_id, state, context_data,
	version, opt_in_marketing, opt_in_date, last_interaction, created_at, updated_at`

// GetOrCreateCustomer returns the customer for phone, inserting one in state
// idle when the number is new. created reports whether this call inserted
// the row. The unique phone_number constraint resolves concurrent first
// contacts to a single row. A non-empty profileName refreshes the stored
// display name.
func (s *Store) GetOrCreateCustomer(ctx context.Context, phone, profileName string) (c *Customer, created bool, err error) {
	if phone == "" {
		return nil, false, errors.New("conversation: phone number is required")
	}
	now := s.now().UnixMilli()
	res, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO customers (id, phone_number, profile_name, state, context_data, created_at, updated_at)
		VALUES (?, ?, ?, 'idle', '{}', ?, ?)
		ON CONFLICT(phone_number) DO NOTHING`,
		s.customerID(), phone, profileName, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("conversation: create customer: %w", err)
	}
	n, _ := res.RowsAffected()
	created = n == 1

	c, err = s.GetCustomerByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if !created && profileName != "" && c.ProfileName != profileName {
		if _, err := dbopen.Exec(ctx, s.db,
			`UPDATE customers SET profile_name = ?, updated_at = ? WHERE id = ?`,
			profileName, now, c.ID); err != nil {
			return nil, false, fmt.Errorf("conversation: update profile name: %w", err)
		}
		c.ProfileName = profileName
	}
	return c, created, nil
}

// GetCustomer returns the customer with id or ErrNotFound.
func (s *Store) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	return scanCustomer(row)
}

// GetCustomerByPhone returns the customer with phone or ErrNotFound.
func (s *Store) GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE phone_number = ?`, phone)
	return scanCustomer(row)
}

// UpdateCustomerState replaces state and context, provided the row is still
// at expectedVersion. It returns the new version. A stale version yields
// ErrStateConflict and leaves the row untouched.
func (s *Store) UpdateCustomerState(ctx context.Context, id, state, contextData string, expectedVersion int64) (int64, error) {
	return s.ApplyStateChange(ctx, StateChange{
		CustomerID:      id,
		ExpectedVersion: expectedVersion,
		State:           state,
		ContextData:     contextData,
	})
}

// TouchLastInteraction sets the customer's last-interaction time.
func (s *Store) TouchLastInteraction(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "touch last interaction",
		`UPDATE customers SET last_interaction = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), s.now().UnixMilli(), id)
}

// LinkCRMCustomer records a weak reference to a CRM customer record.
func (s *Store) LinkCRMCustomer(ctx context.Context, id, crmCustomerID string) error {
	return s.execOne(ctx, "link crm customer",
		`UPDATE customers SET crm_customer_id = ?, updated_at = ? WHERE id = ?`,
		nullString(crmCustomerID), s.now().UnixMilli(), id)
}

// execOne runs an UPDATE that must hit exactly one row.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := dbopen.Exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("conversation: %s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (*Customer, error) {
	var (
		c                            Customer
		crm                          sql.NullString
		optInDate, last, created, up sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.PhoneNumber, &c.ProfileName, &crm, &c.State, &c.ContextData,
		&c.Version, &c.OptInMarketing, &optInDate, &last, &created, &up)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: scan customer: %w", err)
	}
	c.CRMCustomerID = crm.String
	c.OptInDate = fromMillis(optInDate)
	c.LastInteraction = fromMillis(last)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(up)
	return &c, nil
}
