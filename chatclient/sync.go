package chatclient

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// ReloadConversations fetches the full conversation list and replaces the
// held snapshot in one step. Repeated calls with no server-side change yield
// identical rows. On failure the previous snapshot stays in place, and a
// response that lands after the session logged out is discarded.
func (c *Client) ReloadConversations(ctx context.Context) ([]ConversationRow, error) {
	c.mu.Lock()
	if c.state != LoggedIn {
		c.mu.Unlock()
		return nil, errNotLoggedIn
	}
	gen := c.gen
	c.mu.Unlock()

	sums, err := c.fetchSummaries(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != LoggedIn {
		c.mu.Unlock()
		return nil, errNotLoggedIn
	}
	c.summaries = sums
	// The highlight is re-derived from the current selection every time,
	// never carried over from the previous snapshot.
	rows := rowsFor(sums, c.sess.ConversationID)
	cb := c.OnConversations
	c.mu.Unlock()

	if cb != nil {
		cb(rows)
	}
	return rows, nil
}

// SelectConversation makes the given conversation the active one and fetches
// its history, rendered in the order the server returned it. Selecting the
// already-selected conversation runs the same path and lands in the same
// state. Every send after this targets receiverID until the next selection
// or logout.
func (c *Client) SelectConversation(ctx context.Context, conversationID, receiverID int64, receiverName string) ([]Bubble, error) {
	c.mu.Lock()
	if c.state != LoggedIn {
		c.mu.Unlock()
		return nil, errNotLoggedIn
	}
	c.sess.ConversationID = conversationID
	c.sess.ReceiverID = receiverID
	c.sess.ReceiverName = receiverName
	gen := c.gen
	selfID := c.sess.UserID
	c.mu.Unlock()

	msgs, err := c.fetchHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	loggedIn := c.gen == gen && c.state == LoggedIn
	current := c.sess.ConversationID == conversationID
	c.mu.Unlock()
	if !loggedIn {
		return nil, errNotLoggedIn
	}
	if !current {
		// A newer selection won the race; its history is the one on screen.
		return nil, errSelectionSuperseded
	}

	bubbles := make([]Bubble, 0, len(msgs))
	for _, m := range msgs {
		bubbles = append(bubbles, bubbleFor(m, selfID))
	}
	return bubbles, nil
}

// SendMessage emits the trimmed content to the selected receiver over the
// realtime channel and reports whether anything was emitted. Empty content
// or a missing selection is a silent no-op. There is no delivery guarantee;
// the message shows up only when the server echoes it back.
func (c *Client) SendMessage(content string) bool {
	content = strings.TrimSpace(content)

	c.mu.Lock()
	ch := c.ch
	receiverID := c.sess.ReceiverID
	selected := c.state == LoggedIn && c.sess.ConversationID != 0
	c.mu.Unlock()

	if content == "" || !selected || ch == nil {
		return false
	}
	if err := ch.emit("send_msg", outboundMsg{ReceiverID: receiverID, Content: content, Type: "text"}); err != nil {
		// Fire-and-forget: the channel may have dropped the event.
		log.Debug().Err(err).Msg("[chatclient] emit send_msg")
	}
	return true
}
