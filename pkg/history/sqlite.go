package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS histories (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id    INTEGER NOT NULL DEFAULT 0,
    user_id    INTEGER NOT NULL DEFAULT 0,
    is_bot     INTEGER NOT NULL DEFAULT 0,
    chained    INTEGER NOT NULL DEFAULT 0,
    final      INTEGER NOT NULL DEFAULT 0,
    output     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_histories_chat ON histories(chat_id);
CREATE INDEX IF NOT EXISTS idx_histories_user ON histories(user_id);
`

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "init history schema")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.Output == "" {
		rec.Output = Placeholder
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO histories(chat_id, user_id, is_bot, chained, final, output, created_at, updated_at)
		 VALUES(?,?,?,?,0,?,?,?)`,
		rec.ChatID, rec.UserID, rec.IsBot, rec.Chained, rec.Output,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, errors.Wrap(err, "insert history")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, errors.Wrap(err, "history insert id")
	}
	rec.ID = id
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (Record, error) {
	var rec Record
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, user_id, is_bot, chained, final, output, created_at, updated_at
		 FROM histories WHERE id=?`, id).
		Scan(&rec.ID, &rec.ChatID, &rec.UserID, &rec.IsBot, &rec.Chained, &rec.Final, &rec.Output, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Record{}, errors.Errorf("history %d not found", id)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "select history")
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func (s *SQLiteStore) UpdateOutput(ctx context.Context, id int64, output string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE histories SET output=?, updated_at=? WHERE id=? AND final=0`,
		output, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return errors.Wrap(err, "update history output")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update history output rows")
	}
	if n == 0 {
		return errors.Errorf("history %d not found or already finalized", id)
	}
	return nil
}

func (s *SQLiteStore) Finalize(ctx context.Context, id int64, output string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE histories SET output=?, final=1, updated_at=? WHERE id=? AND (final=0 OR output=?)`,
		output, time.Now().UTC().Format(time.RFC3339Nano), id, output)
	if err != nil {
		return errors.Wrap(err, "finalize history")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "finalize history rows")
	}
	if n == 0 {
		return errors.Errorf("history %d not found or finalized with different output", id)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM histories WHERE id=?`, id); err != nil {
		return errors.Wrap(err, "delete history")
	}
	return nil
}
