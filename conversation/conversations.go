package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
)

const conversationSelect = `SELECT c.id, c.customer_id, cu.phone_number, cu.profile_name, c.status,
	c.assigned_to, c.service_window_expires, c.free_entry_point_expires, c.started_at,
	c.closed_at, c.updated_at
	FROM conversations c JOIN customers cu ON cu.id = c.customer_id`

// GetOrCreateActiveConversation returns the customer's open (active or
// waiting_human) conversation, creating an active one when none exists.
// The partial unique index on open conversations makes concurrent callers
// converge on one row: losers of the insert race are ignored and read the
// winner's row.
func (s *Store) GetOrCreateActiveConversation(ctx context.Context, customerID string) (*Conversation, error) {
	c, err := s.openConversation(ctx, customerID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now().UnixMilli()
	if _, err := dbopen.Exec(ctx, s.db,
		`INSERT OR IGNORE INTO conversations (id, customer_id, status, started_at, updated_at)
		VALUES (?, ?, 'active', ?, ?)`,
		s.conversationID(), customerID, now, now); err != nil {
		return nil, fmt.Errorf("conversation: create conversation: %w", err)
	}
	return s.openConversation(ctx, customerID)
}

func (s *Store) openConversation(ctx context.Context, customerID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		conversationSelect+` WHERE c.customer_id = ? AND c.status IN ('active','waiting_human')`,
		customerID)
	return scanConversation(row)
}

// GetConversation returns the conversation with id or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, conversationSelect+` WHERE c.id = ?`, id)
	return scanConversation(row)
}

// ListConversations returns conversations matching f, most recently updated
// first.
func (s *Store) ListConversations(ctx context.Context, f ConversationFilter) ([]*Conversation, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, string(f.Status))
	}
	if f.AssignedTo != "" {
		where = append(where, "c.assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	q := conversationSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(f.Offset, 0)
	q += " ORDER BY c.updated_at DESC, c.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation: list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExtendServiceWindow sets the customer-service window expiry.
func (s *Store) ExtendServiceWindow(ctx context.Context, id string, until time.Time) error {
	return s.execOne(ctx, "extend service window",
		`UPDATE conversations SET service_window_expires = ?, updated_at = ? WHERE id = ?`,
		toMillis(until), s.now().UnixMilli(), id)
}

// SetFreeEntryPointExpiry records the free-entry-point pricing window
// reported by the provider.
func (s *Store) SetFreeEntryPointExpiry(ctx context.Context, id string, until time.Time) error {
	return s.execOne(ctx, "set free entry point expiry",
		`UPDATE conversations SET free_entry_point_expires = ?, updated_at = ? WHERE id = ?`,
		toMillis(until), s.now().UnixMilli(), id)
}

// Escalate hands an active conversation to staff. Escalating a conversation
// already waiting for a human is a no-op.
func (s *Store) Escalate(ctx context.Context, id string) error {
	return s.transition(ctx, "escalate", id,
		`UPDATE conversations SET status = 'waiting_human', updated_at = ?
		WHERE id = ? AND status != 'closed'`,
		s.now().UnixMilli(), id)
}

// TakeOver marks the conversation as handled by assignee.
func (s *Store) TakeOver(ctx context.Context, id, assignee string) error {
	return s.transition(ctx, "take over", id,
		`UPDATE conversations SET status = 'waiting_human', assigned_to = ?, updated_at = ?
		WHERE id = ? AND status != 'closed'`,
		nullString(assignee), s.now().UnixMilli(), id)
}

// Release returns the conversation to the bot and resets the customer's
// state and context in the same transaction.
func (s *Store) Release(ctx context.Context, id, state, contextData string) error {
	now := s.now().UnixMilli()
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var customerID, status string
		err := tx.QueryRowContext(ctx,
			`SELECT customer_id, status FROM conversations WHERE id = ?`, id).Scan(&customerID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if Status(status) == StatusClosed {
			return ErrClosed
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET status = 'active', assigned_to = NULL, updated_at = ? WHERE id = ?`,
			now, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE customers SET state = ?, context_data = ?, version = version + 1, updated_at = ?
			WHERE id = ?`,
			state, contextData, now, customerID)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("conversation: release: %w", err)
	}
	return err
}

// Close ends the conversation. The customer's next message opens a new one.
func (s *Store) Close(ctx context.Context, id string) error {
	now := s.now().UnixMilli()
	return s.transition(ctx, "close", id,
		`UPDATE conversations SET status = 'closed', closed_at = ?, updated_at = ?
		WHERE id = ? AND status != 'closed'`,
		now, now, id)
}

// transition runs a status change guarded by "status != 'closed'" and maps
// a miss to ErrNotFound or ErrClosed.
func (s *Store) transition(ctx context.Context, op, id, query string, args ...any) error {
	res, err := dbopen.Exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("conversation: %s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	return ErrClosed
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		c                                           Conversation
		status                                      string
		assigned                                    sql.NullString
		window, freeEntry, started, closed, updated sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.CustomerID, &c.CustomerPhone, &c.CustomerName, &status,
		&assigned, &window, &freeEntry, &started, &closed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: scan conversation: %w", err)
	}
	c.Status = Status(status)
	c.AssignedTo = assigned.String
	c.ServiceWindowExpires = fromMillis(window)
	c.FreeEntryPointExpires = fromMillis(freeEntry)
	c.StartedAt = fromMillis(started)
	c.ClosedAt = fromMillis(closed)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}
