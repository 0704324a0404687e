package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

const sessionTTL = 24 * time.Hour

type sessionRecord struct {
	UserID  int64     `json:"user_id"`
	Expires time.Time `json:"expires"`
}

// sessionStore maps session tokens to user ids. Tokens live in memory and,
// when a data path is configured, are mirrored into a Pebble store so
// sessions survive a restart.
type sessionStore struct {
	mu  sync.Mutex
	mem map[string]sessionRecord
	db  *pebble.DB
}

func openSessionStore(dir string) (*sessionStore, error) {
	s := &sessionStore{mem: make(map[string]sessionRecord)}
	if dir == "" {
		return s, nil
	}
	db, err := pebble.Open(filepath.Join(dir, "sessions"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	s.db = db

	// Reload unexpired tokens.
	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		var rec sessionRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if time.Now().Before(rec.Expires) {
			s.mem[string(it.Key())] = rec
		}
	}
	return s, nil
}

// Create issues a fresh token for the user.
func (s *sessionStore) Create(userID int64) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	token := hex.EncodeToString(buf)
	rec := sessionRecord{UserID: userID, Expires: time.Now().Add(sessionTTL)}

	s.mu.Lock()
	s.mem[token] = rec
	s.mu.Unlock()

	if s.db != nil {
		val, _ := json.Marshal(rec)
		if err := s.db.Set([]byte(token), val, pebble.Sync); err != nil {
			return "", err
		}
	}
	return token, nil
}

// Lookup resolves a token to its user, expiring lazily.
func (s *sessionStore) Lookup(token string) (int64, bool) {
	s.mu.Lock()
	rec, ok := s.mem[token]
	if ok && time.Now().After(rec.Expires) {
		delete(s.mem, token)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		if s.db != nil {
			_ = s.db.Delete([]byte(token), pebble.NoSync)
		}
		return 0, false
	}
	return rec.UserID, true
}

func (s *sessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.mem, token)
	s.mu.Unlock()
	if s.db != nil {
		_ = s.db.Delete([]byte(token), pebble.Sync)
	}
}

func (s *sessionStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
