package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second

	maxUsernameRunes = 32
	maxMessageRunes  = 10000
)

// frame is the envelope for every realtime event in either direction.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type inboundMsg struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}

type messageDTO struct {
	SenderID       int64     `json:"sender_id"`
	ConversationID int64     `json:"conversation_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
}

// peerConn is one live websocket, write-locked the same way the hub locks
// its connections.
type peerConn struct {
	userID int64
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (p *peerConn) writeFrame(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(f)
}

func (p *peerConn) writeClose(code int, reason string) {
	p.mu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	p.mu.Unlock()
}

// gateway owns the presence registry (user id to live connection) and the
// direct-message routing between them. One connection per user; a newer
// login replaces and closes the older one.
type gateway struct {
	st *store

	mu    sync.Mutex
	conns map[int64]*peerConn
	wg    sync.WaitGroup
}

func newGateway(st *store) *gateway {
	return &gateway{st: st, conns: make(map[int64]*peerConn)}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
}

// serveConn upgrades an authenticated request and pumps its events until
// the connection dies. Callers have already resolved userID from the session.
func (g *gateway) serveConn(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peerConn{userID: userID, conn: conn}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	g.mu.Lock()
	if old, ok := g.conns[userID]; ok {
		// A second login displaces the first connection.
		old.writeClose(websocket.ClosePolicyViolation, "signed in elsewhere")
		_ = old.conn.Close()
	}
	g.conns[userID] = p
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				p.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	g.wg.Add(1)
	defer func() {
		close(done)
		g.mu.Lock()
		if g.conns[userID] == p {
			delete(g.conns, userID)
		}
		g.mu.Unlock()
		_ = conn.Close()
		g.wg.Done()
	}()

	for {
		var f frame
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := conn.ReadJSON(&f); err != nil {
			log.Debug().Err(err).Int64("user", userID).Msg("[ws] read")
			return
		}
		if f.Event != "send_msg" {
			continue
		}
		var in inboundMsg
		if err := json.Unmarshal(f.Data, &in); err != nil {
			log.Debug().Err(err).Int64("user", userID).Msg("[ws] bad send_msg payload")
			continue
		}
		g.deliver(userID, in)
	}
}

// deliver persists one message and routes it: to the receiver when online
// (counting as read), and always echoed back to the sender, which is the
// only confirmation the sender gets.
func (g *gateway) deliver(senderID int64, in inboundMsg) {
	content := sanitizeString(in.Content, maxMessageRunes)
	if in.ReceiverID == 0 || content == "" {
		return
	}
	msgType := in.Type
	if msgType == "" {
		msgType = "text"
	}

	convID, err := g.st.GetOrCreateConversation(senderID, in.ReceiverID)
	if err != nil {
		log.Warn().Err(err).Msg("[ws] resolve conversation")
		return
	}
	stored, err := g.st.AppendMessage(convID, senderID, content, msgType)
	if err != nil {
		log.Warn().Err(err).Msg("[ws] persist message")
		return
	}

	dto := messageDTO{
		SenderID:       senderID,
		ConversationID: convID,
		Content:        stored.Content,
		Type:           stored.Type,
		Timestamp:      stored.Timestamp,
	}
	raw, _ := json.Marshal(dto)
	out := frame{Event: "receive_msg", Data: raw}

	g.mu.Lock()
	receiver := g.conns[in.ReceiverID]
	sender := g.conns[senderID]
	g.mu.Unlock()

	if receiver != nil {
		if err := receiver.writeFrame(out); err != nil {
			log.Debug().Err(err).Int64("user", in.ReceiverID).Msg("[ws] deliver")
		} else if err := g.st.MarkMessageRead(stored.ID); err != nil {
			log.Debug().Err(err).Msg("[ws] mark read")
		}
	}
	if sender != nil {
		if err := sender.writeFrame(out); err != nil {
			log.Debug().Err(err).Int64("user", senderID).Msg("[ws] echo")
		}
	}
}

// online reports whether a user currently has a connection.
func (g *gateway) online(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[userID] != nil
}

// closeAll force-closes every live connection during shutdown.
func (g *gateway) closeAll() {
	g.mu.Lock()
	conns := make([]*peerConn, 0, len(g.conns))
	for _, p := range g.conns {
		conns = append(conns, p)
	}
	g.mu.Unlock()
	for _, p := range conns {
		p.writeClose(websocket.CloseGoingAway, "server shutdown")
		_ = p.conn.Close()
	}
}

// wait blocks until every connection handler has returned.
func (g *gateway) wait() {
	g.wg.Wait()
}
