// Package store implements SQLite persistence for chats and messages.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Chat is a persisted conversation with its settings.
type Chat struct {
	ID             string
	Summary        string
	Model          string
	SystemMessage  string
	Temperature    float64
	MaxTokens      int
	MaxCtxMessages int
	CreatedAt      time.Time
}

// Message is one persisted turn: the user prompt plus the assistant reply.
type Message struct {
	ID            string
	ChatID        string
	Prompt        string
	Reply         string
	Reasoning     string
	Model         string
	InputTokens   int
	OutputTokens  int
	CitedChunkIDs []string
	CitedFileIDs  []string
	IsActive      bool
	CreatedAt     time.Time
}

// ChatUpdate names the chat fields to change; nil fields are left alone.
type ChatUpdate struct {
	ID             string
	Summary        *string
	Model          *string
	SystemMessage  *string
	Temperature    *float64
	MaxTokens      *int
	MaxCtxMessages *int
}

// MessageUpdate names the message fields to change; nil fields are left
// alone.
type MessageUpdate struct {
	ID            string
	Reply         *string
	Reasoning     *string
	InputTokens   *int
	OutputTokens  *int
	CitedChunkIDs *[]string
	CitedFileIDs  *[]string
	IsActive      *bool
}

// Store wraps the SQLite database holding chats and messages.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New opens (creating if needed) the chat database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		summary TEXT DEFAULT '',
		model TEXT NOT NULL,
		system_message TEXT DEFAULT '',
		temperature REAL DEFAULT 0.9,
		max_tokens INTEGER DEFAULT 4096,
		max_ctx_messages INTEGER DEFAULT 10,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		reply TEXT DEFAULT '',
		reasoning TEXT DEFAULT '',
		model TEXT DEFAULT '',
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cited_chunk_ids TEXT DEFAULT '[]',
		cited_file_ids TEXT DEFAULT '[]',
		is_active INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateChat persists a chat, assigning a durable id when missing.
func (s *Store) CreateChat(c Chat) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO chats (id, summary, model, system_message, temperature, max_tokens, max_ctx_messages, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Summary, c.Model, c.SystemMessage, c.Temperature, c.MaxTokens, c.MaxCtxMessages, c.CreatedAt,
	)
	if err != nil {
		return Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

// UpdateChat applies the non-nil fields. Returns false when no row matched.
func (s *Store) UpdateChat(u ChatUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []interface{}
	appendSet := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if u.Summary != nil {
		appendSet("summary", *u.Summary)
	}
	if u.Model != nil {
		appendSet("model", *u.Model)
	}
	if u.SystemMessage != nil {
		appendSet("system_message", *u.SystemMessage)
	}
	if u.Temperature != nil {
		appendSet("temperature", *u.Temperature)
	}
	if u.MaxTokens != nil {
		appendSet("max_tokens", *u.MaxTokens)
	}
	if u.MaxCtxMessages != nil {
		appendSet("max_ctx_messages", *u.MaxCtxMessages)
	}
	if len(sets) == 0 {
		return false, nil
	}

	args = append(args, u.ID)
	res, err := s.db.Exec(`UPDATE chats SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update chat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetChat loads one chat by id.
func (s *Store) GetChat(id string) (Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Chat
	err := s.db.QueryRow(
		`SELECT id, summary, model, system_message, temperature, max_tokens, max_ctx_messages, created_at FROM chats WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Summary, &c.Model, &c.SystemMessage, &c.Temperature, &c.MaxTokens, &c.MaxCtxMessages, &c.CreatedAt)
	if err != nil {
		return Chat{}, fmt.Errorf("failed to load chat: %w", err)
	}
	return c, nil
}

// DeleteChat removes a chat and all of its messages.
func (s *Store) DeleteChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return tx.Commit()
}

// CreateMessage persists a message, assigning a durable id when missing.
func (s *Store) CreateMessage(m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	chunkIDs, _ := json.Marshal(emptyIfNil(m.CitedChunkIDs))
	fileIDs, _ := json.Marshal(emptyIfNil(m.CitedFileIDs))

	_, err := s.db.Exec(
		`INSERT INTO messages (id, chat_id, prompt, reply, reasoning, model, input_tokens, output_tokens, cited_chunk_ids, cited_file_ids, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Prompt, m.Reply, m.Reasoning, m.Model,
		m.InputTokens, m.OutputTokens, string(chunkIDs), string(fileIDs), boolToInt(m.IsActive), m.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("failed to create message: %w", err)
	}
	return m, nil
}

// UpdateMessage applies the non-nil fields. Returns false when no row
// matched.
func (s *Store) UpdateMessage(u MessageUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []interface{}
	appendSet := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if u.Reply != nil {
		appendSet("reply", *u.Reply)
	}
	if u.Reasoning != nil {
		appendSet("reasoning", *u.Reasoning)
	}
	if u.InputTokens != nil {
		appendSet("input_tokens", *u.InputTokens)
	}
	if u.OutputTokens != nil {
		appendSet("output_tokens", *u.OutputTokens)
	}
	if u.CitedChunkIDs != nil {
		data, _ := json.Marshal(emptyIfNil(*u.CitedChunkIDs))
		appendSet("cited_chunk_ids", string(data))
	}
	if u.CitedFileIDs != nil {
		data, _ := json.Marshal(emptyIfNil(*u.CitedFileIDs))
		appendSet("cited_file_ids", string(data))
	}
	if u.IsActive != nil {
		appendSet("is_active", boolToInt(*u.IsActive))
	}
	if len(sets) == 0 {
		return false, nil
	}

	args = append(args, u.ID)
	res, err := s.db.Exec(`UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetMessages loads the messages of a chat in creation order. limit <= 0
// loads all of them.
func (s *Store) GetMessages(chatID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, chat_id, prompt, reply, reasoning, model, input_tokens, output_tokens, cited_chunk_ids, cited_file_ids, is_active, created_at
	          FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []interface{}{chatID}
	if limit > 0 {
		// Take the most recent N, still returned oldest-first.
		query = `SELECT * FROM (` +
			`SELECT id, chat_id, prompt, reply, reasoning, model, input_tokens, output_tokens, cited_chunk_ids, cited_file_ids, is_active, created_at` +
			` FROM messages WHERE chat_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?) ORDER BY created_at ASC, rowid ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var chunkJSON, fileJSON string
		var active int
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Prompt, &m.Reply, &m.Reasoning, &m.Model,
			&m.InputTokens, &m.OutputTokens, &chunkJSON, &fileJSON, &active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.IsActive = active != 0
		_ = json.Unmarshal([]byte(chunkJSON), &m.CitedChunkIDs)
		_ = json.Unmarshal([]byte(fileJSON), &m.CitedFileIDs)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
