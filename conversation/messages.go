package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
)

const messageColumns = `id, conversation_id, provider_message_id, direction, type, content, sender,
	sent_by, status, is_template, template_category, pricing_category, cost, error, timestamp, handled_at`

// SaveMessage inserts m, filling ID and Timestamp when empty. When a message
// with the same provider id already exists, nothing is written, m is
// replaced by the stored row and created is false.
func (s *Store) SaveMessage(ctx context.Context, m *Message) (created bool, err error) {
	if m.ConversationID == "" {
		return false, errors.New("conversation: save message: conversation id is required")
	}
	if m.ID == "" {
		m.ID = s.messageID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}
	if m.Content == "" {
		m.Content = "{}"
	}
	var status sql.NullString
	if m.Status != "" {
		status = sql.NullString{String: string(m.Status), Valid: true}
	}

	res, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_message_id) DO NOTHING`,
		m.ID, m.ConversationID, nullString(m.ProviderMessageID), string(m.Direction), m.Type,
		m.Content, string(m.Sender), nullString(m.SentBy), status, m.IsTemplate,
		nullString(m.TemplateCategory), nullString(m.PricingCategory), m.Cost, m.Error,
		m.Timestamp.UnixMilli(), toMillis(m.HandledAt))
	if err != nil {
		return false, fmt.Errorf("conversation: save message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	existing, err := s.GetMessageByProviderID(ctx, m.ProviderMessageID)
	if err != nil {
		return false, err
	}
	*m = *existing
	return false, nil
}

// GetMessageByProviderID returns the message the provider knows as
// providerID, or ErrNotFound.
func (s *Store) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	if providerID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = ?`, providerID)
	return scanMessage(row)
}

// UpdateMessageStatus moves a message forward along sent < delivered < read.
// Failed overrides any other status and records errText; nothing overrides
// failed. applied is false when the update would regress the status.
// Unknown provider ids yield ErrNotFound.
func (s *Store) UpdateMessageStatus(ctx context.Context, providerID string, status DeliveryStatus, errText string) (applied bool, err error) {
	if !status.Valid() {
		return false, fmt.Errorf("conversation: invalid delivery status %q", status)
	}
	res, err := dbopen.Exec(ctx, s.db,
		`UPDATE messages SET status = ?, error = CASE WHEN ? != '' THEN ? ELSE error END
		WHERE provider_message_id = ?
		  AND (status IS NULL OR (status != 'failed' AND (? = 'failed' OR
		       (CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END) < ?)))`,
		string(status), errText, errText, providerID, string(status), status.rank())
	if err != nil {
		return false, fmt.Errorf("conversation: update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetMessageByProviderID(ctx, providerID); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateMessageCost stores the pricing category and computed cost.
func (s *Store) UpdateMessageCost(ctx context.Context, providerID, category string, cost float64) error {
	if providerID == "" {
		return ErrNotFound
	}
	return s.execOne(ctx, "update message cost",
		`UPDATE messages SET pricing_category = ?, cost = ? WHERE provider_message_id = ?`,
		nullString(category), cost, providerID)
}

// ListMessages returns the last limit messages of a conversation in
// chronological order. limit <= 0 means 100.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT rowid AS seq, `+messageColumns+` FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, seq DESC LIMIT ?
		) ORDER BY timestamp, seq`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m                                            Message
		direction, sender                            string
		providerID, sentBy, status, tplCat, priceCat sql.NullString
		ts                                           int64
		handled                                      sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.ConversationID, &providerID, &direction, &m.Type, &m.Content,
		&sender, &sentBy, &status, &m.IsTemplate, &tplCat, &priceCat, &m.Cost, &m.Error, &ts, &handled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: scan message: %w", err)
	}
	m.ProviderMessageID = providerID.String
	m.Direction = Direction(direction)
	m.Sender = Sender(sender)
	m.SentBy = sentBy.String
	m.Status = DeliveryStatus(status.String)
	m.TemplateCategory = tplCat.String
	m.PricingCategory = priceCat.String
	m.Timestamp = fromMillis(sql.NullInt64{Int64: ts, Valid: true})
	m.HandledAt = fromMillis(handled)
	return &m, nil
}
