package conversation

import "database/sql"

// Schema holds customers, their conversations and every message exchanged.
// Timestamps are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS customers (
    id                TEXT PRIMARY KEY,
    phone_number      TEXT NOT NULL UNIQUE,
    profile_name      TEXT NOT NULL DEFAULT '',
    crm_customer_id   TEXT,
    state             TEXT NOT NULL DEFAULT 'idle',
    context_data      TEXT NOT NULL DEFAULT '{}',
    version           INTEGER NOT NULL DEFAULT 1,
    opt_in_marketing  INTEGER NOT NULL DEFAULT 0,
    opt_in_date       INTEGER,
    last_interaction  INTEGER,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_crm ON customers(crm_customer_id);

CREATE TABLE IF NOT EXISTS conversations (
    id                        TEXT PRIMARY KEY,
    customer_id               TEXT NOT NULL REFERENCES customers(id),
    status                    TEXT NOT NULL DEFAULT 'active'
                              CHECK (status IN ('active','waiting_human','closed')),
    assigned_to               TEXT,
    service_window_expires    INTEGER,
    free_entry_point_expires  INTEGER,
    started_at                INTEGER NOT NULL,
    closed_at                 INTEGER,
    updated_at                INTEGER NOT NULL
);
-- At most one open conversation per customer.
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open
    ON conversations(customer_id) WHERE status IN ('active','waiting_human');
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_assignee ON conversations(assigned_to);

CREATE TABLE IF NOT EXISTS messages (
    id                   TEXT PRIMARY KEY,
    conversation_id      TEXT NOT NULL REFERENCES conversations(id),
    provider_message_id  TEXT,
    direction            TEXT NOT NULL CHECK (direction IN ('inbound','outbound')),
    type                 TEXT NOT NULL,
    content              TEXT NOT NULL DEFAULT '{}',
    sender               TEXT NOT NULL CHECK (sender IN ('customer','bot','staff')),
    sent_by              TEXT,
    status               TEXT CHECK (status IN ('sent','delivered','read','failed')),
    is_template          INTEGER NOT NULL DEFAULT 0,
    template_category    TEXT,
    pricing_category     TEXT,
    cost                 REAL NOT NULL DEFAULT 0,
    error                TEXT NOT NULL DEFAULT '',
    timestamp            INTEGER NOT NULL,
    handled_at           INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_provider_id ON messages(provider_message_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
`

// Init applies Schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
