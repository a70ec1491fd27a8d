package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqlite extended result code for a UNIQUE constraint violation.
const sqliteConstraintUnique = 2067

// Store owns the relay database. All mutations go through the single
// write connection (SQLite prefers one writer), so conflicting operations
// on the same identifier serialize naturally.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := db.Exec("PRAGMA busy_timeout = " + strconv.FormatInt(busy.Milliseconds(), 10)); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Debug("store opened", logx.String("path", cfg.Path), logx.Duration("busy_timeout", busy))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateMessage inserts a new special message with no comments.
// The caller guarantees identifier uniqueness (it is derived from the
// origin coordinates); a collision surfaces as ErrDuplicateID.
func (s *Store) CreateMessage(ctx context.Context, uniqueID, text string, ownerID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(unique_id, owner_id, original_message, created_at) VALUES(?,?,?,?)`,
		uniqueID, ownerID, text, now(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateID
	}
	return err
}

// AppendComment attaches one comment to the message with the given
// identifier and returns the untouched original text plus the full thread
// so far. Lookup and insert run in one transaction: an unknown identifier
// performs no write, and concurrent appends to the same identifier both
// land (each is its own row).
func (s *Store) AppendComment(ctx context.Context, uniqueID string, authorID int64, body string) (string, []Comment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		msgID    int64
		original string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, original_message FROM messages WHERE unique_id = ?`, uniqueID,
	).Scan(&msgID, &original)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO comments(message_id, author_id, body, created_at) VALUES(?,?,?,?)`,
		msgID, authorID, body, now(),
	); err != nil {
		return "", nil, err
	}

	comments, err := scanComments(ctx, tx, msgID)
	if err != nil {
		return "", nil, err
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return original, comments, nil
}

// ListByOwner returns the messages created by ownerID in creation order.
// No messages is an empty slice, not an error.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]MessageSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unique_id, original_message, created_at FROM messages WHERE owner_id = ? ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MessageSummary{}
	for rows.Next() {
		var (
			m  MessageSummary
			at string
		)
		if err := rows.Scan(&m.UniqueID, &m.Original, &at); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetThreadForOwner returns the message and its comments only when uniqueID
// exists AND belongs to ownerID. A foreign-owned identifier is reported
// exactly like a missing one.
func (s *Store) GetThreadForOwner(ctx context.Context, uniqueID string, ownerID int64) (*Thread, error) {
	var msgID int64
	th := &Thread{UniqueID: uniqueID, OwnerID: ownerID}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_message FROM messages WHERE unique_id = ? AND owner_id = ?`,
		uniqueID, ownerID,
	).Scan(&msgID, &th.Original)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	th.Comments, err = scanComments(ctx, s.db, msgID)
	if err != nil {
		return nil, err
	}
	return th, nil
}

// FindPublic is the ownership-unchecked exact-match lookup backing inline
// search. Absence is a normal outcome, not an error: the transport queries
// this per keystroke.
func (s *Store) FindPublic(ctx context.Context, uniqueID string) (MessageSummary, bool, error) {
	var (
		m  MessageSummary
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT unique_id, original_message, created_at FROM messages WHERE unique_id = ?`,
		uniqueID,
	).Scan(&m.UniqueID, &m.Original, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageSummary{}, false, nil
	}
	if err != nil {
		return MessageSummary{}, false, err
	}
	m.CreatedAt = parseTime(at)
	return m, true, nil
}

// IncrementCommand bumps the usage counter for a command name.
// Upsert semantics: first use creates the row with count 1.
func (s *Store) IncrementCommand(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_stats(command, count, updated_at) VALUES(?,1,?)
		 ON CONFLICT(command) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`,
		name, now(),
	)
	return err
}

// CommandCounts returns the usage counters, most used first.
// Used only for operator reporting; the relay itself never reads counts.
func (s *Store) CommandCounts(ctx context.Context) ([]CommandCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT command, count FROM command_stats ORDER BY count DESC, command`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandCount
	for rows.Next() {
		var c CommandCount
		if err := rows.Scan(&c.Command, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Checkpoint folds the WAL back into the main database file.
// Called by the maintenance job, never on the request path.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanComments(ctx context.Context, q querier, msgID int64) ([]Comment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT author_id, body, created_at FROM comments WHERE message_id = ? ORDER BY id`,
		msgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var (
			c  Comment
			at string
		)
		if err := rows.Scan(&c.AuthorID, &c.Body, &at); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqliteConstraintUnique
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

