package chatclient

import "time"

// ConversationRow is the view model for one entry of the conversation list.
type ConversationRow struct {
	ConversationID int64
	ReceiverID     int64
	Peer           string
	Preview        string
	Unread         int
	Active         bool
}

// Bubble is the view model for one rendered message.
type Bubble struct {
	Mine     bool
	SenderID int64
	Text     string
	Kind     string
	At       time.Time
}

// rowsFor maps a summary snapshot to list rows, marking the row matching
// the active conversation. Pure transform; safe to call on any snapshot.
func rowsFor(sums []Summary, activeConversationID int64) []ConversationRow {
	rows := make([]ConversationRow, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, ConversationRow{
			ConversationID: s.ConversationID,
			ReceiverID:     s.ReceiverID,
			Peer:           s.ReceiverName,
			Preview:        s.LastMessage,
			Unread:         s.UnreadCount,
			Active:         activeConversationID != 0 && s.ConversationID == activeConversationID,
		})
	}
	return rows
}

// bubbleFor maps a message to its bubble, tagged mine iff the sender is the
// session's own user at render time.
func bubbleFor(m Message, selfID int64) Bubble {
	kind := m.Type
	if kind == "" {
		kind = "text"
	}
	return Bubble{
		Mine:     m.SenderID == selfID,
		SenderID: m.SenderID,
		Text:     m.Content,
		Kind:     kind,
		At:       m.Timestamp,
	}
}
