package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle that backs the message log. The database is
// opened in memory, so everything it holds is gone when the process exits.
type Store struct {
	db *sql.DB
}

// Attachment is the optional typed payload carried by a message.
type Attachment struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reactions maps an emoji to the display names that applied it, in the order
// they reacted.
type Reactions map[string][]string

// Message is a single entry of the append-only log.
type Message struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Text       string      `json:"text"`
	To         string      `json:"to,omitempty"`
	Room       string      `json:"room"`
	Timestamp  int64       `json:"timestamp"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Reactions  Reactions   `json:"reactions"`
}

// Private reports whether the message was addressed to a single recipient.
func (m *Message) Private() bool {
	return m.To != ""
}

// StoredFile is the metadata of an uploaded attachment blob.
type StoredFile struct {
	ID         string
	Name       string
	MimeType   string
	SizeBytes  int64
	SHA256     string
	UploadedBy string
	UploadedAt time.Time
}

// ErrNotFound is returned when a message or file id is unknown.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when a message id is appended twice.
var ErrDuplicateID = errors.New("duplicate id")

// MemoryPath returns a DSN for a private in-memory database.
func MemoryPath() string {
	return "file:relaychat-" + uuid.NewString() + "?mode=memory&cache=shared"
}

// NewStore initializes the SQLite database at the provided path. An empty path
// opens a fresh in-memory database. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath()
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps the in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			recipient TEXT NOT NULL DEFAULT '',
			room TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			attachment TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS messages_room_seq ON messages(room, seq);`,
		`CREATE TABLE IF NOT EXISTS reactions (
			message_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			username TEXT NOT NULL,
			PRIMARY KEY (message_id, emoji, username),
			FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			uploaded_at INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendMessage adds a message to the end of the log. Reactions on the
// argument are ignored; a new message always starts without any.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	var attachment sql.NullString
	if msg.Attachment != nil {
		encoded, err := json.Marshal(msg.Attachment)
		if err != nil {
			return fmt.Errorf("encode attachment: %w", err)
		}
		attachment = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, username, body, recipient, room, created_at, attachment) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Username, msg.Text, msg.To, msg.Room, msg.Timestamp, attachment)
	if err != nil {
		if isConstraintError(err) {
			return ErrDuplicateID
		}
		return err
	}
	msg.Reactions = Reactions{}
	return nil
}

// GetMessage fetches a message and its reactions by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, body, recipient, room, created_at, attachment FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	reactions, err := s.Reactions(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions
	return msg, nil
}

// History returns the newest limit messages of a room in append order.
// A limit of zero or less returns the whole room.
func (s *Store) History(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, body, recipient, room, created_at, attachment FROM (
			SELECT seq, id, username, body, recipient, room, created_at, attachment
			FROM messages
			WHERE room = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	index := make(map[string]int)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msg.Reactions = Reactions{}
		index[msg.ID] = len(messages)
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	reactionRows, err := s.db.QueryContext(ctx, `
		SELECT r.message_id, r.emoji, r.username
		FROM reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.room = ?
		ORDER BY r.rowid ASC
	`, room)
	if err != nil {
		return nil, err
	}
	defer reactionRows.Close()
	for reactionRows.Next() {
		var messageID, emoji, username string
		if err := reactionRows.Scan(&messageID, &emoji, &username); err != nil {
			return nil, err
		}
		if i, ok := index[messageID]; ok {
			messages[i].Reactions[emoji] = append(messages[i].Reactions[emoji], username)
		}
	}
	return messages, reactionRows.Err()
}

// CountMessages returns the number of messages in the log.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages`).Scan(&count)
	return count, err
}

// AddReaction records that username reacted with emoji. It reports false when
// the pair was already present.
func (s *Store) AddReaction(ctx context.Context, messageID, emoji, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reactions(message_id, emoji, username) VALUES(?, ?, ?)`, messageID, emoji, username)
	if err != nil {
		if isConstraintError(err) {
			return false, ErrNotFound
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveReaction deletes the (emoji, username) pair. It reports false when the
// pair was absent.
func (s *Store) RemoveReaction(ctx context.Context, messageID, emoji, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = ? AND emoji = ? AND username = ?`, messageID, emoji, username)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasReaction reports whether username already reacted with emoji.
func (s *Store) HasReaction(ctx context.Context, messageID, emoji, username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reactions WHERE message_id = ? AND emoji = ? AND username = ?`,
		messageID, emoji, username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Reactions returns the full reaction map of one message. Emoji without any
// reactor never appear.
func (s *Store) Reactions(ctx context.Context, messageID string) (Reactions, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT emoji, username FROM reactions WHERE message_id = ? ORDER BY rowid ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reactions := Reactions{}
	for rows.Next() {
		var emoji, username string
		if err := rows.Scan(&emoji, &username); err != nil {
			return nil, err
		}
		reactions[emoji] = append(reactions[emoji], username)
	}
	return reactions, rows.Err()
}

// SaveFile stores an uploaded attachment blob.
func (s *Store) SaveFile(ctx context.Context, file StoredFile, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files(id, name, mime_type, size_bytes, sha256, uploaded_by, uploaded_at, data) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.Name, file.MimeType, file.SizeBytes, file.SHA256, file.UploadedBy, file.UploadedAt.UnixMilli(), data)
	if err != nil && isConstraintError(err) {
		return ErrDuplicateID
	}
	return err
}

// GetFile returns an uploaded blob and its metadata.
func (s *Store) GetFile(ctx context.Context, id string) (*StoredFile, []byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mime_type, size_bytes, sha256, uploaded_by, uploaded_at, data FROM files WHERE id = ?`, id)
	var (
		file       StoredFile
		uploadedAt int64
		data       []byte
	)
	if err := row.Scan(&file.ID, &file.Name, &file.MimeType, &file.SizeBytes, &file.SHA256, &file.UploadedBy, &uploadedAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	file.UploadedAt = time.UnixMilli(uploadedAt)
	return &file, data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg        Message
		attachment sql.NullString
	)
	if err := row.Scan(&msg.ID, &msg.Username, &msg.Text, &msg.To, &msg.Room, &msg.Timestamp, &attachment); err != nil {
		return nil, err
	}
	if attachment.Valid && attachment.String != "" {
		var a Attachment
		if err := json.Unmarshal([]byte(attachment.String), &a); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		msg.Attachment = &a
	}
	return &msg, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
