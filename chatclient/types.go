package chatclient

import "time"

// Summary is one row of the conversation list as the server reports it.
// The client never patches these incrementally; every reload replaces the
// whole snapshot.
type Summary struct {
	ConversationID int64  `json:"conversation_id"`
	ReceiverID     int64  `json:"receiver_id"`
	ReceiverName   string `json:"receiver_name"`
	LastMessage    string `json:"last_message_content"`
	UnreadCount    int    `json:"unread_count"`
}

// Message is a single chat message as delivered by the server, either from
// the history endpoint or pushed over the realtime channel.
type Message struct {
	SenderID       int64     `json:"sender_id"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
	Type           string    `json:"type,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// User is an account row from the admin listing.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Session holds the authenticated identity and the current selection.
// It lives inside a Client; there is exactly one per client and it is
// cleared in full on logout.
type Session struct {
	UserID   int64
	Username string
	IsAdmin  bool

	// Selection state. ConversationID zero means nothing is selected.
	// Once set by SelectConversation the pair stays fixed until the next
	// selection or logout, so every send in between targets ReceiverID.
	ConversationID int64
	ReceiverID     int64
	ReceiverName   string
}

// outboundMsg is the payload of a send_msg channel event.
type outboundMsg struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Type       string `json:"type,omitempty"`
}
