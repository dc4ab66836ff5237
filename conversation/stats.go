package conversation

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats returns aggregate counters over all customers, conversations and
// messages.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Conversations:  map[Status]int{StatusActive: 0, StatusWaitingHuman: 0, StatusClosed: 0},
		CostByCategory: map[string]float64{},
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(opt_in_marketing), 0) FROM customers`).
		Scan(&st.Customers, &st.OptedIn)
	if err != nil {
		return nil, fmt.Errorf("conversation: stats customers: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("conversation: stats conversations: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.Conversations[Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(direction = 'inbound'), 0),
		COALESCE(SUM(direction = 'outbound'), 0),
		COALESCE(SUM(direction = 'outbound' AND is_template = 1), 0),
		COALESCE(SUM(direction = 'outbound' AND is_template = 0), 0),
		COALESCE(SUM(status = 'failed'), 0),
		COALESCE(SUM(cost), 0)
		FROM messages`).
		Scan(&st.Messages, &st.Inbound, &st.Outbound, &st.TemplateMessages,
			&st.FreeMessages, &st.FailedMessages, &st.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("conversation: stats messages: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT pricing_category, SUM(cost) FROM messages
		WHERE pricing_category IS NOT NULL GROUP BY pricing_category`)
	if err != nil {
		return nil, fmt.Errorf("conversation: stats cost: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat sql.NullString
		var cost float64
		if err := rows.Scan(&cat, &cost); err != nil {
			return nil, err
		}
		st.CostByCategory[cat.String] = cost
	}
	return st, rows.Err()
}
