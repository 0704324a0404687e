// Package chatclient implements the session side of a one-to-one chat
// system: login lifecycle, the realtime message channel, and conversation
// list synchronization. It holds no rendering code; callers bind the view
// models it produces to whatever surface they have.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the session lifecycle phase.
type State int32

const (
	LoggedOut State = iota
	LoggingIn
	LoggedIn
	LoggingOut
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged-out"
	case LoggingIn:
		return "logging-in"
	case LoggedIn:
		return "logged-in"
	case LoggingOut:
		return "logging-out"
	}
	return "unknown"
}

var (
	errNotLoggedIn         = errors.New("not logged in")
	errSelectionSuperseded = errors.New("selection superseded")
)

const minPasswordLen = 3

// Client drives one chat session against a server. All session state lives
// on the instance; operations are safe to call from the channel callbacks
// and from the caller's own goroutine.
type Client struct {
	baseURL string
	http    *http.Client
	jar     http.CookieJar

	mu        sync.Mutex
	state     State
	sess      Session
	summaries []Summary
	ch        *channel
	gen       uint64 // bumped on logout so stale responses and events are dropped

	// Callbacks fire outside the client's lock. OnConversations delivers a
	// fresh snapshot after every successful reload; OnBubble delivers a
	// message appended to the open conversation; OnChannelClosed reports a
	// channel that died on its own rather than through Logout.
	OnConversations func([]ConversationRow)
	OnBubble        func(Bubble)
	OnChannelClosed func(error)
}

// New builds a client for the server at baseURL ("http://host:port").
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 15 * time.Second},
		jar:     jar,
	}, nil
}

// State returns the current lifecycle phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session record.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Summaries returns the last conversation snapshot the client fetched.
func (c *Client) Summaries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Summary(nil), c.summaries...)
}

// Register creates an account. It validates locally before any request goes
// out, mirroring the checks a login form would do.
func (c *Client) Register(ctx context.Context, username, password, confirm string) error {
	switch {
	case username == "" || password == "" || confirm == "":
		return &ValidationError{Reason: "all fields are required"}
	case password != confirm:
		return &ValidationError{Reason: "passwords do not match"}
	case len(password) < minPasswordLen:
		return &ValidationError{Reason: fmt.Sprintf("password must be at least %d characters", minPasswordLen)}
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register",
		map[string]string{"username": username, "password": password}, nil)
	var se *ServerError
	if errors.As(err, &se) {
		return &AuthError{Status: se.Status, Message: se.Message}
	}
	return err
}

// Login authenticates and opens the realtime channel bound to the new
// identity. On any failure the client is back in LoggedOut with no channel
// open. A channel left over from a previous session is closed before the
// new one dials, so events can never leak across accounts.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return &ValidationError{Reason: "username and password are required"}
	}
	c.mu.Lock()
	if c.state != LoggedOut {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot log in while %s", state)
	}
	c.state = LoggingIn
	stale := c.ch
	c.ch = nil
	c.mu.Unlock()
	stale.close()

	var out struct {
		UserID   int64  `json:"user_id"`
		Username string `json:"username"`
		IsAdmin  bool   `json:"is_admin"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		c.setState(LoggedOut)
		var se *ServerError
		if errors.As(err, &se) {
			return &AuthError{Status: se.Status, Message: se.Message}
		}
		return err
	}

	ch, err := dialChannel(c.baseURL, c.jar)
	if err != nil {
		// The server thinks we are logged in; undo that best-effort.
		_ = c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
		c.setState(LoggedOut)
		return err
	}

	c.mu.Lock()
	c.sess = Session{UserID: out.UserID, Username: out.Username, IsAdmin: out.IsAdmin}
	c.ch = ch
	c.state = LoggedIn
	gen := c.gen
	c.mu.Unlock()

	go c.readPump(ch, gen)
	return nil
}

// Logout tears the session down: channel first, then the server call, then
// the local state. The channel has to be gone before the session record is
// cleared so no event arrives for a session that no longer exists; the
// server call's outcome does not change any of that.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.state != LoggedIn {
		c.mu.Unlock()
		return errNotLoggedIn
	}
	c.state = LoggingOut
	ch := c.ch
	c.ch = nil
	c.mu.Unlock()

	ch.close()
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)

	c.mu.Lock()
	c.gen++
	c.sess = Session{}
	c.summaries = nil
	c.state = LoggedOut
	c.mu.Unlock()
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// readPump consumes the channel until it dies. gen pins the pump to the
// login that opened it: once the session logs out, frames this pump already
// pulled off the wire are dropped instead of applied.
func (c *Client) readPump(ch *channel, gen uint64) {
	defer ch.close()
	for {
		f, err := ch.next()
		if err != nil {
			c.mu.Lock()
			ours := c.ch == ch
			if ours {
				c.ch = nil
			}
			cb := c.OnChannelClosed
			c.mu.Unlock()
			if ours {
				log.Debug().Err(err).Msg("[chatclient] channel closed")
				if cb != nil {
					cb(err)
				}
			}
			return
		}
		if f.Event != "receive_msg" {
			continue
		}
		var m Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			log.Debug().Err(err).Msg("[chatclient] bad receive_msg payload")
			continue
		}
		c.handleReceive(m, gen)
	}
}

// handleReceive applies one pushed message: append a bubble when it belongs
// to the open conversation, then reload the whole conversation list either
// way, since that is what refreshes unread counts and previews.
func (c *Client) handleReceive(m Message, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != LoggedIn {
		c.mu.Unlock()
		return
	}
	open := c.sess.ConversationID != 0 && m.ConversationID == c.sess.ConversationID
	var b Bubble
	if open {
		b = bubbleFor(m, c.sess.UserID)
	}
	cb := c.OnBubble
	c.mu.Unlock()

	if open && cb != nil {
		cb(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.ReloadConversations(ctx); err != nil {
		log.Debug().Err(err).Msg("[chatclient] reload after receive")
	}
}
