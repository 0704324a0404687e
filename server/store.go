package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	errUsernameTaken      = errors.New("username already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errUserNotFound       = errors.New("user not found")
	errAlreadyFriends     = errors.New("already friends")
	errFriendshipNotFound = errors.New("friendship not found")
	errConvNotFound       = errors.New("conversation not found")
)

type user struct {
	ID       int64
	Username string
	IsAdmin  bool
}

type storedMessage struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Content        string
	Type           string
	Timestamp      time.Time
	IsRead         bool
}

type summary struct {
	ConversationID int64  `json:"conversation_id"`
	ReceiverID     int64  `json:"receiver_id"`
	ReceiverName   string `json:"receiver_name"`
	LastMessage    string `json:"last_message_content"`
	UnreadCount    int    `json:"unread_count"`
}

// store holds all relational chat data in a single SQLite database:
// accounts, friendships, conversations and messages.
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; a shared pool just trades
	// SQLITE_BUSY errors for queueing.
	db.SetMaxOpenConns(1)
	s := &store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_a_id INTEGER NOT NULL,
			user_b_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'Accepted',
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_a_id, user_b_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_one_id INTEGER NOT NULL,
			user_two_id INTEGER NOT NULL,
			last_message_at TEXT NOT NULL,
			UNIQUE (user_one_id, user_two_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			timestamp TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *store) Close() error { return s.db.Close() }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// orderedPair keeps friendship and conversation user pairs canonical
// (smaller id first) so lookups never depend on who initiated.
func orderedPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// CreateUser registers an account. The very first account becomes admin.
func (s *store) CreateUser(username, password string) (user, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT count(*) FROM users WHERE username = ?`, username).Scan(&exists); err != nil {
		return user{}, err
	}
	if exists > 0 {
		return user{}, errUsernameTaken
	}
	var total int
	if err := s.db.QueryRow(`SELECT count(*) FROM users`).Scan(&total); err != nil {
		return user{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user{}, fmt.Errorf("hash password: %w", err)
	}
	isAdmin := 0
	if total == 0 {
		isAdmin = 1
	}
	res, err := s.db.Exec(`INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, ?)`,
		username, string(hash), isAdmin)
	if err != nil {
		return user{}, err
	}
	id, _ := res.LastInsertId()
	return user{ID: id, Username: username, IsAdmin: isAdmin == 1}, nil
}

// Authenticate checks the password and returns the account.
func (s *store) Authenticate(username, password string) (user, error) {
	var u user
	var hash string
	err := s.db.QueryRow(`SELECT id, username, password_hash, is_admin FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &hash, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return user{}, errInvalidCredentials
	}
	if err != nil {
		return user{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return user{}, errInvalidCredentials
	}
	return u, nil
}

func (s *store) UserByID(id int64) (user, error) {
	var u user
	err := s.db.QueryRow(`SELECT id, username, is_admin FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return user{}, errUserNotFound
	}
	return u, err
}

func (s *store) UserByName(username string) (user, error) {
	var u user
	err := s.db.QueryRow(`SELECT id, username, is_admin FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.IsAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return user{}, errUserNotFound
	}
	return u, err
}

// AddFriend links two accounts and ensures their conversation exists.
func (s *store) AddFriend(userID, friendID int64) error {
	a, b := orderedPair(userID, friendID)
	var exists int
	if err := s.db.QueryRow(`SELECT count(*) FROM friendships WHERE user_a_id = ? AND user_b_id = ?`, a, b).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return errAlreadyFriends
	}
	if _, err := s.db.Exec(`INSERT INTO friendships (user_a_id, user_b_id, status, created_at) VALUES (?, ?, 'Accepted', ?)`,
		a, b, now()); err != nil {
		return err
	}
	_, err := s.GetOrCreateConversation(userID, friendID)
	return err
}

func (s *store) RemoveFriend(userID, friendID int64) error {
	a, b := orderedPair(userID, friendID)
	res, err := s.db.Exec(`DELETE FROM friendships WHERE user_a_id = ? AND user_b_id = ?`, a, b)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errFriendshipNotFound
	}
	return nil
}

func (s *store) friends(userID int64) ([]user, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.username, u.is_admin
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_a_id = ? THEN f.user_b_id ELSE f.user_a_id END
		WHERE (f.user_a_id = ? OR f.user_b_id = ?) AND f.status = 'Accepted'
		ORDER BY u.username`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []user
	for rows.Next() {
		var u user
		if err := rows.Scan(&u.ID, &u.Username, &u.IsAdmin); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetOrCreateConversation returns the conversation id for a user pair,
// creating the row on first contact.
func (s *store) GetOrCreateConversation(userID, otherID int64) (int64, error) {
	a, b := orderedPair(userID, otherID)
	var id int64
	err := s.db.QueryRow(`SELECT id FROM conversations WHERE user_one_id = ? AND user_two_id = ?`, a, b).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.Exec(`INSERT INTO conversations (user_one_id, user_two_id, last_message_at) VALUES (?, ?, ?)`,
		a, b, now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ConversationMembers returns the pair of user ids for a conversation.
func (s *store) ConversationMembers(conversationID int64) (int64, int64, error) {
	var one, two int64
	err := s.db.QueryRow(`SELECT user_one_id, user_two_id FROM conversations WHERE id = ?`, conversationID).Scan(&one, &two)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, errConvNotFound
	}
	return one, two, err
}

// ConversationSummaries builds the friends-list payload: one row per friend
// with the conversation id, last message preview and unread count.
func (s *store) ConversationSummaries(userID int64) ([]summary, error) {
	friends, err := s.friends(userID)
	if err != nil {
		return nil, err
	}
	out := make([]summary, 0, len(friends))
	for _, f := range friends {
		convID, err := s.GetOrCreateConversation(userID, f.ID)
		if err != nil {
			return nil, err
		}
		last := "No messages yet."
		var content string
		err = s.db.QueryRow(`SELECT content FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, convID).Scan(&content)
		if err == nil && content != "" {
			last = content
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var unread int
		if err := s.db.QueryRow(`SELECT count(*) FROM messages WHERE conversation_id = ? AND is_read = 0 AND sender_id = ?`,
			convID, f.ID).Scan(&unread); err != nil {
			return nil, err
		}
		out = append(out, summary{
			ConversationID: convID,
			ReceiverID:     f.ID,
			ReceiverName:   f.Username,
			LastMessage:    last,
			UnreadCount:    unread,
		})
	}
	return out, nil
}

// History returns up to limit messages oldest first and marks everything
// the reader had not seen as read.
func (s *store) History(conversationID, readerID int64, limit int) ([]storedMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, content, type, timestamp, is_read
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storedMessage
	for rows.Next() {
		var m storedMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &ts, &m.IsRead); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND is_read = 0 AND sender_id != ?`,
		conversationID, readerID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) ClearHistory(conversationID int64) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// AppendMessage persists an outgoing message and bumps the conversation's
// last-message time.
func (s *store) AppendMessage(conversationID, senderID int64, content, msgType string) (storedMessage, error) {
	ts := now()
	res, err := s.db.Exec(`INSERT INTO messages (conversation_id, sender_id, content, type, timestamp, is_read) VALUES (?, ?, ?, ?, ?, 0)`,
		conversationID, senderID, content, msgType, ts)
	if err != nil {
		return storedMessage{}, err
	}
	id, _ := res.LastInsertId()
	if _, err := s.db.Exec(`UPDATE conversations SET last_message_at = ? WHERE id = ?`, ts, conversationID); err != nil {
		return storedMessage{}, err
	}
	return storedMessage{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		Timestamp:      parseTime(ts),
	}, nil
}

func (s *store) MarkMessageRead(messageID int64) error {
	_, err := s.db.Exec(`UPDATE messages SET is_read = 1 WHERE id = ?`, messageID)
	return err
}

func (s *store) ListUsers() ([]user, error) {
	rows, err := s.db.Query(`SELECT id, username, is_admin FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []user
	for rows.Next() {
		var u user
		if err := rows.Scan(&u.ID, &u.Username, &u.IsAdmin); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ToggleAdmin flips the admin flag and returns the new value.
func (s *store) ToggleAdmin(userID int64) (bool, error) {
	u, err := s.UserByID(userID)
	if err != nil {
		return false, err
	}
	next := !u.IsAdmin
	if _, err := s.db.Exec(`UPDATE users SET is_admin = ? WHERE id = ?`, next, userID); err != nil {
		return false, err
	}
	return next, nil
}

// DeleteUser removes an account and everything attached to it: messages
// either side of its conversations, friendships, conversations, the user.
func (s *store) DeleteUser(userID int64) error {
	if _, err := s.UserByID(userID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		q    string
		args []any
	}{
		{`DELETE FROM messages WHERE sender_id = ? OR conversation_id IN (SELECT id FROM conversations WHERE user_one_id = ? OR user_two_id = ?)`, []any{userID, userID, userID}},
		{`DELETE FROM friendships WHERE user_a_id = ? OR user_b_id = ?`, []any{userID, userID}},
		{`DELETE FROM conversations WHERE user_one_id = ? OR user_two_id = ?`, []any{userID, userID}},
		{`DELETE FROM users WHERE id = ?`, []any{userID}},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.q, st.args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
