// Package pg provides the managed-mode MessageStore backed by Postgres via
// the pgx stdlib driver. Schema is managed by `veilgate migrate` (see
// migrations/).
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

// Store implements store.MessageStore over Postgres.
type Store struct {
	db       *sql.DB
	notifier *store.Notifier
}

// Open connects to Postgres with the given DSN and verifies connectivity.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, notifier: store.NewNotifier()}, nil
}

func (s *Store) Insert(ctx context.Context, m *message.Message) (int64, error) {
	replies, err := json.Marshal(emptyIfNil(m.GeneratedReplies))
	if err != nil {
		return 0, fmt.Errorf("marshal replies: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (source_id, sender, original_content, veiled_content,
		 generated_replies, status, bucket, thread_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		m.SourceID, m.Sender, m.OriginalContent, m.VeiledContent,
		string(replies), string(m.Status), string(m.Bucket), m.ThreadKey, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	m.ID = id
	s.notifier.Broadcast()
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*message.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, sender, original_content, veiled_content,
		 generated_replies, status, bucket, thread_key, created_at
		 FROM messages WHERE id = $1`, id)
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

// Update runs the read-modify-write inside a transaction with a row lock so
// concurrent processes (managed mode runs several) keep CAS semantics.
func (s *Store) Update(ctx context.Context, id int64, expect []message.Status, mutate func(*message.Message)) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, source_id, sender, original_content, veiled_content,
		 generated_replies, status, bucket, thread_key, created_at
		 FROM messages WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMessage(row)
	if err != nil {
		return false, err
	}
	if !store.StatusIn(m.Status, expect) {
		return false, nil
	}

	mutate(m)

	replies, err := json.Marshal(emptyIfNil(m.GeneratedReplies))
	if err != nil {
		return false, fmt.Errorf("marshal replies: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET veiled_content = $1, generated_replies = $2,
		 status = $3, bucket = $4 WHERE id = $5`,
		m.VeiledContent, string(replies), string(m.Status), string(m.Bucket), id,
	); err != nil {
		return false, fmt.Errorf("update message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update: %w", err)
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
