package chatclient

import (
	"testing"
	"time"
)

func TestRowsForDerivesHighlightFromSelection(t *testing.T) {
	sums := []Summary{
		{ConversationID: 5, ReceiverID: 2, ReceiverName: "bob", LastMessage: "yo", UnreadCount: 0},
		{ConversationID: 9, ReceiverID: 3, ReceiverName: "carol", LastMessage: "No messages yet.", UnreadCount: 4},
	}

	rows := rowsFor(sums, 9)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Active {
		t.Errorf("row for conversation 5 marked active")
	}
	if !rows[1].Active {
		t.Errorf("row for conversation 9 not marked active")
	}
	if rows[1].Peer != "carol" || rows[1].Unread != 4 {
		t.Errorf("row = %+v, want peer carol unread 4", rows[1])
	}

	// No selection: nothing is highlighted, including a summary with id 0.
	for _, row := range rowsFor(sums, 0) {
		if row.Active {
			t.Errorf("row %+v active with no selection", row)
		}
	}
}

func TestRowsForIsDeterministic(t *testing.T) {
	sums := []Summary{
		{ConversationID: 1, ReceiverID: 7, ReceiverName: "dave", LastMessage: "hello", UnreadCount: 1},
	}
	a := rowsFor(sums, 1)
	b := rowsFor(sums, 1)
	if len(a) != len(b) || a[0] != b[0] {
		t.Errorf("repeated transform differs: %+v vs %+v", a[0], b[0])
	}
}

func TestBubbleForTagsMine(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		sender int64
		self   int64
		mine   bool
	}{
		{"own message", 1, 1, true},
		{"peer message", 2, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := bubbleFor(Message{SenderID: tc.sender, Content: "hi", Timestamp: ts}, tc.self)
			if b.Mine != tc.mine {
				t.Errorf("Mine = %v, want %v", b.Mine, tc.mine)
			}
			if b.Text != "hi" || !b.At.Equal(ts) {
				t.Errorf("bubble = %+v", b)
			}
		})
	}
}

func TestBubbleForDefaultsKind(t *testing.T) {
	b := bubbleFor(Message{SenderID: 1, Content: "x"}, 1)
	if b.Kind != "text" {
		t.Errorf("Kind = %q, want text", b.Kind)
	}
	b = bubbleFor(Message{SenderID: 1, Content: "x", Type: "image"}, 1)
	if b.Kind != "image" {
		t.Errorf("Kind = %q, want image", b.Kind)
	}
}
