package threads

import (
	"database/sql"
	"fmt"
	"time"

	"salesdesk/src/completion"
	"salesdesk/src/msgproto"

	_ "github.com/glebarez/go-sqlite"
)

// Store persists conversations, messages and selections in SQLite so a
// restarted server picks up every thread where it left off.
type Store struct {
	db *sql.DB
}

// ConversationRecord is the persisted shape of a conversation.
type ConversationRecord struct {
	ID        string
	Context   completion.Context
	CreatedAt time.Time
}

// OpenStore opens (or creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.Exec(`PRAGMA journal_mode=WAL`)
	db.Exec(`PRAGMA synchronous=NORMAL`)
	db.Exec(`PRAGMA busy_timeout=5000`)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	tables := []struct {
		name  string
		query string
	}{
		{
			name: "conversations",
			query: `CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				thread TEXT NOT NULL,
				subject TEXT NOT NULL,
				summary TEXT,
				created_at TIMESTAMP NOT NULL
			)`,
		},
		{
			name: "messages",
			query: `CREATE TABLE IF NOT EXISTS messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT UNIQUE NOT NULL,
				conversation_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp TIMESTAMP NOT NULL,
				FOREIGN KEY (conversation_id) REFERENCES conversations(id)
			)`,
		},
		{
			name: "selections",
			query: `CREATE TABLE IF NOT EXISTS selections (
				message_id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				key TEXT NOT NULL,
				recorded_at TIMESTAMP NOT NULL
			)`,
		},
	}

	for _, t := range tables {
		if _, err := s.db.Exec(t.query); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation records a conversation once; re-saving an existing id is
// a no-op.
func (s *Store) SaveConversation(id string, tc completion.Context) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO conversations (id, thread, subject, summary, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, string(tc.Thread), tc.Subject, tc.Summary, time.Now(),
	)
	return err
}

// Conversations returns every persisted conversation, oldest first.
func (s *Store) Conversations() ([]ConversationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, thread, subject, summary, created_at FROM conversations ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ConversationRecord
	for rows.Next() {
		var rec ConversationRecord
		var thread string
		var summary sql.NullString
		if err := rows.Scan(&rec.ID, &thread, &rec.Context.Subject, &summary, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Context.Thread = completion.ThreadKind(thread)
		rec.Context.Summary = summary.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveMessage upserts a message. Upsert rather than insert because the
// loading placeholder and the final reply share an id, and the update must
// keep the message's original position.
func (s *Store) SaveMessage(conversationID string, m Message) error {
	if m.IsLoading {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET role = excluded.role,
		                               content = excluded.content,
		                               timestamp = excluded.timestamp`,
		m.ID, conversationID, string(m.Role), m.Content, m.Timestamp,
	)
	return err
}

// MessagesFor returns a conversation's messages in insertion order.
func (s *Store) MessagesFor(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, timestamp FROM messages
		 WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = msgproto.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SaveSelection records an approval.
func (s *Store) SaveSelection(sel Selection) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO selections (message_id, conversation_id, kind, key, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sel.MessageID, sel.ConversationID, string(sel.Kind), sel.Key, sel.RecordedAt,
	)
	return err
}

// LoadSelections returns every persisted approval.
func (s *Store) LoadSelections() ([]Selection, error) {
	rows, err := s.db.Query(
		`SELECT message_id, conversation_id, kind, key, recorded_at FROM selections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selections []Selection
	for rows.Next() {
		var sel Selection
		var kind string
		if err := rows.Scan(&sel.MessageID, &sel.ConversationID, &kind, &sel.Key, &sel.RecordedAt); err != nil {
			return nil, err
		}
		sel.Kind = msgproto.BlockKind(kind)
		selections = append(selections, sel)
	}
	return selections, rows.Err()
}
