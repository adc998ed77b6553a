package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound buffer per session before the connection is dropped.
	sendBuffer = 256
)

// Session is one live websocket connection. It owns the read and write
// pumps, a buffered outbound queue, and the set of bus subscriptions the
// connection holds, torn down together when the socket closes.
type Session struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	log     *zap.SugaredLogger
	handle  func(raw []byte) []byte
	onClose func(*Session)

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewSession wraps an upgraded websocket connection. handle is invoked
// for every inbound text frame and may return a reply frame; onClose runs
// exactly once when the connection ends.
func NewSession(conn *websocket.Conn, userID string, log *zap.SugaredLogger, handle func(raw []byte) []byte, onClose func(*Session)) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		log:     log,
		handle:  handle,
		onClose: onClose,
		subs:    make(map[string]*Subscription),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated actor behind the connection.
func (s *Session) UserID() string { return s.userID }

// Track associates a bus subscription with the session so it is released
// when the socket closes. A previous subscription to the same room is
// superseded.
func (s *Session) Track(sub *Subscription) {
	s.mu.Lock()
	s.subs[sub.Room()] = sub
	s.mu.Unlock()
}

// Subscribed reports whether the session tracks a subscription for room.
func (s *Session) Subscribed(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[room]
	return ok
}

// Drop forgets the subscription for room without closing the socket.
func (s *Session) Drop(room string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subs[room]
	delete(s.subs, room)
	return sub
}

// Run starts the read and write pumps. It returns immediately; the pumps
// run on their own goroutines until the connection closes.
func (s *Session) Run() {
	go s.writePump()
	go s.readPump()
}

// Send enqueues a frame for delivery, reporting false when the outbound
// buffer is full. A full buffer means the peer is not draining; the
// caller decides whether to drop the connection.
func (s *Session) Send(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// SendJSON marshals v and enqueues it.
func (s *Session) SendJSON(v interface{}) bool {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Errorw("marshal outbound frame", "session_id", s.id, "err", err)
		return false
	}
	return s.Send(b)
}

// Close tears the session down: every tracked subscription is closed and
// the socket shut. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = map[string]*Subscription{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close(nil)
	}
	_ = s.conn.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
}

// readPump pumps inbound frames from the websocket to the handler.
func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warnw("websocket read error", "session_id", s.id, "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if reply := s.handle(message); reply != nil {
			if !s.Send(reply) {
				s.log.Warnw("outbound buffer full, dropping session", "session_id", s.id)
				return
			}
		}
	}
}

// writePump pumps frames from the send queue to the websocket and keeps
// the connection alive with periodic pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warnw("websocket write error", "session_id", s.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
