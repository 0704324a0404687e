package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
)

type testEnv struct {
	t   *testing.T
	srv *httptest.Server
	st  *store
	gw  *gateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := testStore(t)
	sessions, err := openSessionStore("")
	if err != nil {
		t.Fatal(err)
	}
	gw := newGateway(st)
	srv := httptest.NewServer(newRouter(st, sessions, gw))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = sessions.Close() })
	return &testEnv{t: t, srv: srv, st: st, gw: gw}
}

// httpClient returns a client with its own cookie jar, i.e. one browser.
func (e *testEnv) httpClient() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		e.t.Fatal(err)
	}
	return &http.Client{Jar: jar}
}

func (e *testEnv) do(c *http.Client, method, path string, body any) (int, map[string]any) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		e.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// signup registers and logs a user in on a fresh client.
func (e *testEnv) signup(username, password string) (*http.Client, int64) {
	e.t.Helper()
	c := e.httpClient()
	creds := map[string]string{"username": username, "password": password}
	if status, body := e.do(c, http.MethodPost, "/api/auth/register", creds); status != http.StatusCreated {
		e.t.Fatalf("register %s: %d %v", username, status, body)
	}
	status, body := e.do(c, http.MethodPost, "/api/auth/login", creds)
	if status != http.StatusOK {
		e.t.Fatalf("login %s: %d %v", username, status, body)
	}
	return c, int64(body["user_id"].(float64))
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	c := e.httpClient()
	creds := map[string]string{"username": "alice", "password": "pw"}

	status, body := e.do(c, http.MethodPost, "/api/auth/register", creds)
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}

	status, body = e.do(c, http.MethodPost, "/api/auth/login", creds)
	if status != http.StatusOK {
		t.Fatalf("login: %d %v", status, body)
	}
	if body["username"] != "alice" || body["is_admin"] != true {
		t.Errorf("login body = %v, first user should be admin", body)
	}

	if status, _ := e.do(c, http.MethodGet, "/api/friends", nil); status != http.StatusOK {
		t.Errorf("friends while logged in: %d", status)
	}

	if status, _ := e.do(c, http.MethodPost, "/api/auth/logout", nil); status != http.StatusOK {
		t.Errorf("logout: %d", status)
	}
	if status, _ := e.do(c, http.MethodGet, "/api/friends", nil); status != http.StatusUnauthorized {
		t.Errorf("friends after logout: %d, want 401", status)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t)
	c := e.httpClient()
	e.do(c, http.MethodPost, "/api/auth/register", map[string]string{"username": "alice", "password": "pw"})

	status, body := e.do(c, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "nope"})
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	if body["message"] != "Invalid credentials" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestLoginNormalizesUsername(t *testing.T) {
	e := newTestEnv(t)
	c := e.httpClient()
	// Registration rewrites the embedded whitespace; the same credentials
	// the user typed must still sign in.
	creds := map[string]string{"username": "a b", "password": "pw"}
	if status, body := e.do(c, http.MethodPost, "/api/auth/register", creds); status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}
	status, body := e.do(c, http.MethodPost, "/api/auth/login", creds)
	if status != http.StatusOK {
		t.Fatalf("login with original input: %d %v", status, body)
	}
	if body["username"] != "a_b" {
		t.Errorf("username = %v, want the stored a_b", body["username"])
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	e := newTestEnv(t)
	c := e.httpClient()
	creds := map[string]string{"username": "alice", "password": "pw"}
	e.do(c, http.MethodPost, "/api/auth/register", creds)

	status, body := e.do(c, http.MethodPost, "/api/auth/register", creds)
	if status != http.StatusBadRequest || body["message"] != "Username already exists" {
		t.Errorf("duplicate register: %d %v", status, body)
	}
}

func TestAddFriend(t *testing.T) {
	e := newTestEnv(t)
	alice, _ := e.signup("alice", "pw")
	e.signup("bob", "pw")

	status, body := e.do(alice, http.MethodPost, "/api/friends/add/bob", nil)
	if status != http.StatusOK || body["friend_username"] != "bob" {
		t.Fatalf("add friend: %d %v", status, body)
	}
	if status, body = e.do(alice, http.MethodPost, "/api/friends/add/bob", nil); status != http.StatusBadRequest || body["message"] != "Already friends" {
		t.Errorf("re-add: %d %v", status, body)
	}
	if status, body = e.do(alice, http.MethodPost, "/api/friends/add/alice", nil); status != http.StatusBadRequest {
		t.Errorf("self add: %d %v", status, body)
	}
	if status, body = e.do(alice, http.MethodPost, "/api/friends/add/nobody", nil); status != http.StatusNotFound {
		t.Errorf("missing user: %d %v", status, body)
	}

	// The friends list now carries the conversation summary for bob.
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/friends", nil)
	resp, err := alice.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sums []summary
	if err := json.NewDecoder(resp.Body).Decode(&sums); err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].ReceiverName != "bob" || sums[0].LastMessage != "No messages yet." {
		t.Errorf("summaries = %+v", sums)
	}
}

func TestHistoryMembershipGuard(t *testing.T) {
	e := newTestEnv(t)
	alice, aliceID := e.signup("alice", "pw")
	_, bobID := e.signup("bob", "pw")
	carol, _ := e.signup("carol", "pw")

	e.do(alice, http.MethodPost, "/api/friends/add/bob", nil)
	conv, err := e.st.GetOrCreateConversation(aliceID, bobID)
	if err != nil {
		t.Fatal(err)
	}

	if status, _ := e.do(alice, http.MethodGet, fmt.Sprintf("/api/history/%d", conv), nil); status != http.StatusOK {
		t.Errorf("member history: %d", status)
	}
	status, body := e.do(carol, http.MethodGet, fmt.Sprintf("/api/history/%d", conv), nil)
	if status != http.StatusForbidden {
		t.Errorf("outsider history: %d %v", status, body)
	}
	if status, _ := e.do(carol, http.MethodDelete, fmt.Sprintf("/api/history/%d", conv), nil); status != http.StatusForbidden {
		t.Errorf("outsider clear: %d", status)
	}
	if status, _ := e.do(alice, http.MethodGet, "/api/history/9999", nil); status != http.StatusNotFound {
		t.Errorf("missing conversation: %d", status)
	}
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestEnv(t)
	alice, aliceID := e.signup("alice", "pw") // first user, admin
	bob, bobID := e.signup("bob", "pw")

	if status, _ := e.do(bob, http.MethodGet, "/api/admin/users", nil); status != http.StatusUnauthorized {
		t.Errorf("non-admin list: %d, want 401", status)
	}
	if status, _ := e.do(alice, http.MethodGet, "/api/admin/users", nil); status != http.StatusOK {
		t.Errorf("admin list: %d", status)
	}

	status, body := e.do(alice, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/toggle-admin", aliceID), nil)
	if status != http.StatusBadRequest {
		t.Errorf("self toggle: %d %v", status, body)
	}
	status, body = e.do(alice, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/toggle-admin", bobID), nil)
	if status != http.StatusOK || body["is_admin"] != true {
		t.Errorf("toggle bob: %d %v", status, body)
	}

	if status, _ := e.do(alice, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", aliceID), nil); status != http.StatusBadRequest {
		t.Errorf("self delete: %d", status)
	}
	if status, _ := e.do(alice, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", bobID), nil); status != http.StatusOK {
		t.Errorf("delete bob: %d", status)
	}
	if status, _ := e.do(alice, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", bobID), nil); status != http.StatusNotFound {
		t.Errorf("delete missing: %d", status)
	}
}
