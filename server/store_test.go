package main

import (
	"errors"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *store {
	t.Helper()
	s, err := openStore(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFirstUserBecomesAdmin(t *testing.T) {
	s := testStore(t)
	first, err := s.CreateUser("alice", "pw1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsAdmin {
		t.Error("first registered user is not admin")
	}
	second, err := s.CreateUser("bob", "pw2")
	if err != nil {
		t.Fatal(err)
	}
	if second.IsAdmin {
		t.Error("second registered user is admin")
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateUser("alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateUser("alice", "other"); !errors.Is(err, errUsernameTaken) {
		t.Errorf("err = %v, want errUsernameTaken", err)
	}
}

func TestAuthenticate(t *testing.T) {
	s := testStore(t)
	created, err := s.CreateUser("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	u, err := s.Authenticate("alice", "hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.ID != created.ID {
		t.Errorf("id = %d, want %d", u.ID, created.ID)
	}
	if _, err := s.Authenticate("alice", "wrong"); !errors.Is(err, errInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := s.Authenticate("nobody", "x"); !errors.Is(err, errInvalidCredentials) {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestAddFriendCreatesConversation(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")

	if err := s.AddFriend(alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFriend(bob.ID, alice.ID); !errors.Is(err, errAlreadyFriends) {
		t.Errorf("reverse add err = %v, want errAlreadyFriends", err)
	}

	sums, err := s.ConversationSummaries(alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sums))
	}
	if sums[0].ReceiverID != bob.ID || sums[0].ReceiverName != "bob" {
		t.Errorf("summary = %+v", sums[0])
	}
	if sums[0].LastMessage != "No messages yet." {
		t.Errorf("last message = %q", sums[0].LastMessage)
	}

	// Both sides resolve to the same conversation.
	c1, _ := s.GetOrCreateConversation(alice.ID, bob.ID)
	c2, _ := s.GetOrCreateConversation(bob.ID, alice.ID)
	if c1 != c2 {
		t.Errorf("conversation ids differ: %d vs %d", c1, c2)
	}
}

func TestSummariesCountUnread(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")
	_ = s.AddFriend(alice.ID, bob.ID)
	conv, _ := s.GetOrCreateConversation(alice.ID, bob.ID)

	if _, err := s.AppendMessage(conv, bob.ID, "one", "text"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(conv, bob.ID, "two", "text"); err != nil {
		t.Fatal(err)
	}

	sums, _ := s.ConversationSummaries(alice.ID)
	if sums[0].UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", sums[0].UnreadCount)
	}
	if sums[0].LastMessage != "two" {
		t.Errorf("preview = %q, want two", sums[0].LastMessage)
	}

	// Bob sent them, so bob has nothing unread.
	sums, _ = s.ConversationSummaries(bob.ID)
	if sums[0].UnreadCount != 0 {
		t.Errorf("sender unread = %d, want 0", sums[0].UnreadCount)
	}
}

func TestHistoryMarksRead(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")
	_ = s.AddFriend(alice.ID, bob.ID)
	conv, _ := s.GetOrCreateConversation(alice.ID, bob.ID)
	_, _ = s.AppendMessage(conv, bob.ID, "hello", "text")

	msgs, err := s.History(conv, alice.ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("history = %+v", msgs)
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("timestamp did not round-trip")
	}

	sums, _ := s.ConversationSummaries(alice.ID)
	if sums[0].UnreadCount != 0 {
		t.Errorf("unread after history fetch = %d, want 0", sums[0].UnreadCount)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")
	_ = s.AddFriend(alice.ID, bob.ID)
	conv, _ := s.GetOrCreateConversation(alice.ID, bob.ID)

	for _, text := range []string{"a", "b", "c"} {
		if _, err := s.AppendMessage(conv, alice.ID, text, "text"); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := s.History(conv, alice.ID, 2)
	if len(msgs) != 2 || msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("history = %+v, want oldest-first a,b", msgs)
	}
}

func TestClearHistory(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")
	_ = s.AddFriend(alice.ID, bob.ID)
	conv, _ := s.GetOrCreateConversation(alice.ID, bob.ID)
	_, _ = s.AppendMessage(conv, alice.ID, "bye", "text")

	if err := s.ClearHistory(conv); err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.History(conv, alice.ID, 50)
	if len(msgs) != 0 {
		t.Errorf("history after clear = %+v", msgs)
	}
}

func TestRemoveFriend(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")
	_ = s.AddFriend(alice.ID, bob.ID)

	if err := s.RemoveFriend(bob.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveFriend(bob.ID, alice.ID); !errors.Is(err, errFriendshipNotFound) {
		t.Errorf("second remove err = %v", err)
	}
	sums, _ := s.ConversationSummaries(alice.ID)
	if len(sums) != 0 {
		t.Errorf("summaries after unfriend = %+v", sums)
	}
}

func TestToggleAdmin(t *testing.T) {
	s := testStore(t)
	_, _ = s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")

	on, err := s.ToggleAdmin(bob.ID)
	if err != nil || !on {
		t.Fatalf("toggle = %v, %v", on, err)
	}
	off, err := s.ToggleAdmin(bob.ID)
	if err != nil || off {
		t.Fatalf("second toggle = %v, %v", off, err)
	}
	if _, err := s.ToggleAdmin(9999); !errors.Is(err, errUserNotFound) {
		t.Errorf("missing user err = %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := testStore(t)
	alice, _ := s.CreateUser("alice", "pw")
	bob, _ := s.CreateUser("bob", "pw")
	_ = s.AddFriend(alice.ID, bob.ID)
	conv, _ := s.GetOrCreateConversation(alice.ID, bob.ID)
	_, _ = s.AppendMessage(conv, bob.ID, "hi", "text")

	if err := s.DeleteUser(bob.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UserByID(bob.ID); !errors.Is(err, errUserNotFound) {
		t.Errorf("deleted user still present: %v", err)
	}
	sums, _ := s.ConversationSummaries(alice.ID)
	if len(sums) != 0 {
		t.Errorf("summaries still reference deleted user: %+v", sums)
	}
	if _, _, err := s.ConversationMembers(conv); !errors.Is(err, errConvNotFound) {
		t.Errorf("conversation survived cascade: %v", err)
	}
}
