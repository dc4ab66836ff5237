package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
)

// Journal is an events.Publisher that appends envelopes to the
// event_journal table. It stands in for the broker when none is configured.
type Journal struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

func WithJournalIDGenerator(gen idgen.Generator) JournalOption {
	return func(j *Journal) { j.newID = gen }
}

func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *Journal) { j.now = now }
}

func NewJournal(db *sql.DB, opts ...JournalOption) *Journal {
	j := &Journal{db: db, newID: idgen.Event, now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

var _ events.Publisher = (*Journal)(nil)

func (j *Journal) Publish(ctx context.Context, eventType string, data any) error {
	env := events.NewEnvelope(ctx, j.newID, eventType, data, j.now())
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", eventType, err)
	}
	var entity string
	if ce, ok := data.(events.ConversationEvent); ok {
		entity = ce.ConversationID
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO event_journal (event_id, event_type, producer, correlation_id, entity_id, payload, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		env.Meta.ID, env.Meta.Type, env.Meta.Producer, env.Meta.CorrelationID, entity,
		string(payload), env.Meta.Time.Unix())
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", eventType, err)
	}
	return nil
}

func (j *Journal) Close() error { return nil }

// JournalEntry is a stored envelope.
type JournalEntry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	EntityID  string          `json:"entity_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ForEntity returns the journal entries of one entity, oldest first.
func (j *Journal) ForEntity(ctx context.Context, entityID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, event_type, entity_id, payload, created_at
		FROM event_journal WHERE entity_id = ?
		ORDER BY created_at, rowid LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var payload string
		var ts int64
		if err := rows.Scan(&e.ID, &e.Type, &e.EntityID, &payload, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
