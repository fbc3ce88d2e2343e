// Package sqlite provides the default durable MessageStore, backed by a
// single-file database via modernc.org/sqlite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id         TEXT NOT NULL,
	sender            TEXT NOT NULL DEFAULT '',
	original_content  TEXT NOT NULL,
	veiled_content    TEXT NOT NULL DEFAULT '',
	generated_replies TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'received',
	bucket            TEXT NOT NULL DEFAULT 'unknown',
	thread_key        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_bucket ON messages(bucket);
`

// Store implements store.MessageStore over a sqlite file.
type Store struct {
	db       *sql.DB
	notifier *store.Notifier
	// Serializes read-modify-write updates. The process owns the file, so a
	// store-level mutex is enough to make Update atomic; the WHERE clause
	// still guards against anything else touching the row.
	mu sync.Mutex
}

// Open creates (if needed) and opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, notifier: store.NewNotifier()}, nil
}

func (s *Store) Insert(ctx context.Context, m *message.Message) (int64, error) {
	replies, err := json.Marshal(emptyIfNil(m.GeneratedReplies))
	if err != nil {
		return 0, fmt.Errorf("marshal replies: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (source_id, sender, original_content, veiled_content,
		 generated_replies, status, bucket, thread_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SourceID, m.Sender, m.OriginalContent, m.VeiledContent,
		string(replies), string(m.Status), string(m.Bucket), m.ThreadKey, m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	m.ID = id
	s.notifier.Broadcast()
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*message.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, sender, original_content, veiled_content,
		 generated_replies, status, bucket, thread_key, created_at
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *Store) List(ctx context.Context) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, sender, original_content, veiled_content,
		 generated_replies, status, bucket, thread_key, created_at
		 FROM messages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id int64, expect []message.Status, mutate func(*message.Message)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !store.StatusIn(m.Status, expect) {
		return false, nil
	}

	prev := m.Status
	mutate(m)

	replies, err := json.Marshal(emptyIfNil(m.GeneratedReplies))
	if err != nil {
		return false, fmt.Errorf("marshal replies: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET veiled_content = ?, generated_replies = ?,
		 status = ?, bucket = ? WHERE id = ? AND status = ?`,
		m.VeiledContent, string(replies), string(m.Status), string(m.Bucket), id, string(prev),
	)
	if err != nil {
		return false, fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	s.notifier.Broadcast()
	return true, nil
}

func (s *Store) ObserveAll(ctx context.Context) <-chan []message.Message {
	return store.Observe(ctx, s.notifier, s.List)
}

func (s *Store) ObserveByBucket(ctx context.Context, b message.Bucket) <-chan []message.Message {
	return store.Observe(ctx, s.notifier, func(ctx context.Context) ([]message.Message, error) {
		all, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		return store.FilterBucket(all, b), nil
	})
}

func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*message.Message, error) {
	var m message.Message
	var replies, status, bucket string
	var created time.Time
	err := row.Scan(&m.ID, &m.SourceID, &m.Sender, &m.OriginalContent,
		&m.VeiledContent, &replies, &status, &bucket, &m.ThreadKey, &created)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if err := json.Unmarshal([]byte(replies), &m.GeneratedReplies); err != nil {
		return nil, fmt.Errorf("decode replies: %w", err)
	}
	if len(m.GeneratedReplies) == 0 {
		m.GeneratedReplies = nil
	}
	m.Status = message.Status(status)
	m.Bucket = message.Bucket(bucket)
	m.CreatedAt = created
	return &m, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
