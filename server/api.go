package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const sessionCookie = "duochat_session"

type ctxKey int

const ctxUserID ctxKey = iota

type api struct {
	st       *store
	sessions *sessionStore
	gw       *gateway
}

// newRouter wires the REST API and the websocket endpoint.
func newRouter(st *store, sessions *sessionStore, gw *gateway) http.Handler {
	a := &api{st: st, sessions: sessions, gw: gw}
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/logout", a.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Get("/friends", a.handleFriends)
			r.Post("/friends/add/{username}", a.handleAddFriend)
			r.Delete("/friends/remove/{friendID}", a.handleRemoveFriend)
			r.Get("/history/{conversationID}", a.handleHistory)
			r.Delete("/history/{conversationID}", a.handleClearHistory)

			r.Route("/admin", func(r chi.Router) {
				r.Use(a.requireAdmin)
				r.Get("/users", a.handleListUsers)
				r.Post("/users/{userID}/toggle-admin", a.handleToggleAdmin)
				r.Delete("/users/{userID}", a.handleDeleteUser)
			})
		})
	})

	// The websocket upgrade authenticates through the same session cookie;
	// an anonymous upgrade is refused outright.
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.authenticate(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		gw.serveConn(w, r, userID)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("[api] encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func (a *api) authenticate(r *http.Request) (int64, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return 0, false
	}
	return a.sessions.Lookup(c.Value)
}

func (a *api) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, userID)))
	})
}

func (a *api) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.st.UserByID(currentUser(r))
		if err != nil || !u.IsAdmin {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxUserID).(int64)
	return id
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	creds.Username = sanitizeUsername(creds.Username, maxUsernameRunes)
	if creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	u, err := a.st.CreateUser(creds.Username, creds.Password)
	if errors.Is(err, errUsernameTaken) {
		writeError(w, http.StatusBadRequest, "Username already exists")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("[api] create user")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Registration successful",
		"user_id":  u.ID,
		"username": u.Username,
	})
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Usernames are normalized at registration, so the same rewrite has to
	// apply here or an account like "a b" could never sign back in.
	creds.Username = sanitizeUsername(creds.Username, maxUsernameRunes)
	u, err := a.st.Authenticate(creds.Username, creds.Password)
	if errors.Is(err, errInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("[api] authenticate")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	token, err := a.sessions.Create(u.ID)
	if err != nil {
		log.Error().Err(err).Msg("[api] create session")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Login successful",
		"user_id":  u.ID,
		"username": u.Username,
		"is_admin": u.IsAdmin,
	})
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		a.sessions.Delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (a *api) handleFriends(w http.ResponseWriter, r *http.Request) {
	sums, err := a.st.ConversationSummaries(currentUser(r))
	if err != nil {
		log.Error().Err(err).Msg("[api] conversation summaries")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if sums == nil {
		sums = []summary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

func (a *api) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	friend, err := a.st.UserByName(chi.URLParam(r, "username"))
	if errors.Is(err, errUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if friend.ID == userID {
		writeError(w, http.StatusBadRequest, "Cannot add yourself as friend")
		return
	}
	if err := a.st.AddFriend(userID, friend.ID); err != nil {
		if errors.Is(err, errAlreadyFriends) {
			writeError(w, http.StatusBadRequest, "Already friends")
			return
		}
		log.Error().Err(err).Msg("[api] add friend")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Friend added successfully",
		"friend_id":       friend.ID,
		"friend_username": friend.Username,
	})
}

func (a *api) handleRemoveFriend(w http.ResponseWriter, r *http.Request) {
	friendID, err := strconv.ParseInt(chi.URLParam(r, "friendID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid friend id")
		return
	}
	if err := a.st.RemoveFriend(currentUser(r), friendID); err != nil {
		if errors.Is(err, errFriendshipNotFound) {
			writeError(w, http.StatusNotFound, "Friendship not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Friend removed successfully"})
}

// memberOf checks that the requester belongs to the conversation before any
// history access.
func (a *api) memberOf(w http.ResponseWriter, r *http.Request) (int64, bool) {
	convID, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid conversation id")
		return 0, false
	}
	one, two, err := a.st.ConversationMembers(convID)
	if errors.Is(err, errConvNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return 0, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return 0, false
	}
	if userID := currentUser(r); userID != one && userID != two {
		writeError(w, http.StatusForbidden, "You are not part of this conversation")
		return 0, false
	}
	return convID, true
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID, ok := a.memberOf(w, r)
	if !ok {
		return
	}
	msgs, err := a.st.History(convID, currentUser(r), 50)
	if err != nil {
		log.Error().Err(err).Msg("[api] history")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{
			SenderID:       m.SenderID,
			ConversationID: m.ConversationID,
			Content:        m.Content,
			Type:           m.Type,
			Timestamp:      m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	convID, ok := a.memberOf(w, r)
	if !ok {
		return
	}
	if err := a.st.ClearHistory(convID); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared successfully"})
}

func (a *api) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.st.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{
			"id":       u.ID,
			"username": u.Username,
			"is_admin": u.IsAdmin,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleToggleAdmin(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	if targetID == currentUser(r) {
		writeError(w, http.StatusBadRequest, "Cannot modify your own admin status")
		return
	}
	isAdmin, err := a.st.ToggleAdmin(targetID)
	if errors.Is(err, errUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Admin status updated successfully",
		"user_id":  targetID,
		"is_admin": isAdmin,
	})
}

func (a *api) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	if targetID == currentUser(r) {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}
	if err := a.st.DeleteUser(targetID); err != nil {
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}
