package chatclient

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
)

// frame is the envelope for every event on the realtime channel, both
// directions: send_msg going out, receive_msg coming in.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// channel is one realtime connection, bound to the identity that was
// authenticated when it was dialed. A client holds at most one open channel;
// a fresh login tears the previous one down before dialing again.
type channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	closed  atomic.Bool
}

// dialChannel opens the websocket endpoint using the client's cookie jar so
// the server can tie the connection to the HTTP session.
func dialChannel(baseURL string, jar http.CookieJar) (*channel, error) {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + wsURL[len("https://"):]
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + wsURL[len("http://"):]
	}
	wsURL = strings.TrimSuffix(wsURL, "/") + "/ws"

	dialer := websocket.Dialer{
		Jar:              jar,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, &NetworkError{Op: "dial " + wsURL, Err: err}
	}

	ch := &channel{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go ch.pingLoop()
	return ch, nil
}

func (ch *channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ch.writeMu.Lock()
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := ch.conn.WriteMessage(websocket.PingMessage, nil)
			ch.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ch.done:
			return
		}
	}
}

// emit sends one fire-and-forget event. There is no acknowledgement; a
// dropped connection loses the event silently.
func (ch *channel) emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ch.conn.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		return &NetworkError{Op: "emit " + event, Err: err}
	}
	return nil
}

// next blocks until the next inbound frame or a read error.
func (ch *channel) next() (frame, error) {
	var f frame
	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	if err := ch.conn.ReadJSON(&f); err != nil {
		return frame{}, err
	}
	return f, nil
}

func (ch *channel) close() {
	if ch == nil || ch.closed.Swap(true) {
		return
	}
	close(ch.done)
	ch.writeMu.Lock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ch.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		log.Debug().Err(err).Msg("[channel] write close")
	}
	ch.writeMu.Unlock()
	_ = ch.conn.Close()
}
