package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
)

// StateChange is one bot step written as a unit: the customer's state and
// context, and optionally the opt-in choice, a conversation status move and
// the inbound message the step answered.
type StateChange struct {
	CustomerID      string
	ExpectedVersion int64
	State           string
	ContextData     string

	// OptIn, when set, records the marketing choice. OptInAt stamps an
	// opt-in; an opt-out clears the date.
	OptIn   *bool
	OptInAt time.Time

	// ConversationID and Status move an open conversation. StatusWaitingHuman
	// escalates an active conversation; StatusActive hands a waiting,
	// unassigned conversation back to the bot and is a no-op otherwise.
	ConversationID string
	Status         Status

	// HandledMessageID is the provider id of the inbound message answered.
	HandledMessageID string
}

// ApplyStateChange writes ch in one transaction and returns the customer's
// new version. A stale ExpectedVersion yields ErrStateConflict, a closed
// conversation ErrClosed; either way nothing is written.
func (s *Store) ApplyStateChange(ctx context.Context, ch StateChange) (int64, error) {
	if ch.Status != "" && ch.Status != StatusWaitingHuman && ch.Status != StatusActive {
		return 0, fmt.Errorf("conversation: apply state change: unsupported status %q", ch.Status)
	}
	now := s.now().UnixMilli()
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE customers SET state = ?, context_data = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			ch.State, ch.ContextData, now, ch.CustomerID, ch.ExpectedVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM customers WHERE id = ?`, ch.CustomerID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return ErrStateConflict
		}

		if ch.OptIn != nil {
			date := sql.NullInt64{}
			if *ch.OptIn {
				date = toMillis(ch.OptInAt)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE customers SET opt_in_marketing = ?, opt_in_date = ? WHERE id = ?`,
				*ch.OptIn, date, ch.CustomerID); err != nil {
				return err
			}
		}

		if ch.ConversationID != "" && ch.Status != "" {
			if err := moveConversation(ctx, tx, ch.ConversationID, ch.Status, now); err != nil {
				return err
			}
		}

		if ch.HandledMessageID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET handled_at = ? WHERE provider_message_id = ? AND handled_at IS NULL`,
				now, ch.HandledMessageID); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return ch.ExpectedVersion + 1, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStateConflict), errors.Is(err, ErrClosed):
		return 0, err
	default:
		return 0, fmt.Errorf("conversation: apply state change: %w", err)
	}
}

func moveConversation(ctx context.Context, tx *sql.Tx, id string, to Status, now int64) error {
	var (
		status   string
		assigned sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		`SELECT status, assigned_to FROM conversations WHERE id = ?`, id).Scan(&status, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) == StatusClosed {
		return ErrClosed
	}
	if Status(status) == to {
		return nil
	}
	if to == StatusActive && assigned.Valid {
		// Staff took it over meanwhile.
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`, string(to), now, id)
	return err
}

// MarkMessageHandled records that the inbound message with providerID was
// answered, by the bot or by holding it for staff. Marking twice keeps the
// first time.
func (s *Store) MarkMessageHandled(ctx context.Context, providerID string) error {
	if providerID == "" {
		return nil
	}
	if _, err := dbopen.Exec(ctx, s.db,
		`UPDATE messages SET handled_at = ? WHERE provider_message_id = ? AND handled_at IS NULL`,
		s.now().UnixMilli(), providerID); err != nil {
		return fmt.Errorf("conversation: mark message handled: %w", err)
	}
	return nil
}
