package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// doJSON performs one API call against the server. Transport failures come
// back as *NetworkError, non-2xx responses as *ServerError with the body's
// message field when present. When out is non-nil the success body is
// decoded into it.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Message string `json:"message"`
		}
		// A body that fails to parse falls back to the status text.
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &ServerError{Status: resp.StatusCode, Message: statusMessage(resp.StatusCode, envelope.Message)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: "decode " + method + " " + path, Err: err}
	}
	return nil
}

func (c *Client) fetchSummaries(ctx context.Context) ([]Summary, error) {
	var out []Summary
	if err := c.doJSON(ctx, http.MethodGet, "/api/friends", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) fetchHistory(ctx context.Context, conversationID int64) ([]Message, error) {
	var out []Message
	path := fmt.Sprintf("/api/history/%d", conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddFriend registers a contact by username and returns the name the server
// stored. A conversation with the new contact exists once this returns.
func (c *Client) AddFriend(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", &ValidationError{Reason: "username must not be empty"}
	}
	var out struct {
		FriendUsername string `json:"friend_username"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/friends/add/"+username, nil, &out); err != nil {
		return "", err
	}
	return out.FriendUsername, nil
}

// RemoveFriend deletes the contact relation with the given user.
func (c *Client) RemoveFriend(ctx context.Context, friendID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/friends/remove/%d", friendID), nil, nil)
}

// ClearHistory wipes all messages of the currently selected conversation.
func (c *Client) ClearHistory(ctx context.Context) error {
	c.mu.Lock()
	convID := c.sess.ConversationID
	c.mu.Unlock()
	if convID == 0 {
		return &ValidationError{Reason: "no conversation selected"}
	}
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/history/%d", convID), nil, nil)
}

// ListUsers returns all accounts. Admin only; others get a *ServerError.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleAdmin flips the admin flag of another account and returns the new
// value.
func (c *Client) ToggleAdmin(ctx context.Context, userID int64) (bool, error) {
	var out struct {
		IsAdmin bool `json:"is_admin"`
	}
	path := fmt.Sprintf("/api/admin/users/%d/toggle-admin", userID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return false, err
	}
	return out.IsAdmin, nil
}

// DeleteUser removes another account together with its messages,
// friendships and conversations.
func (c *Client) DeleteUser(ctx context.Context, userID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", userID), nil, nil)
}
