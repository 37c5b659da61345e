// ABOUTME: WebSocket endpoint for live message delivery
// ABOUTME: Each connection registers one presence session fed by a buffered write loop

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/evalhub/message-gateway/internal/presence"
)

const (
	// registerTimeout bounds how long a fresh connection may wait before
	// sending its register frame.
	registerTimeout = 10 * time.Second

	// maxFrameSize limits inbound client frames.
	maxFrameSize = 64 * 1024

	defaultSendBuffer   = 32
	defaultWriteTimeout = 10 * time.Second
)

// registerFrame is the first frame a client must send after connecting.
type registerFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// wsEvent is the frame pushed to clients when a message arrives.
type wsEvent struct {
	Type string `json:"type"`
	*presence.Event
}

// createUpgrader creates a WebSocket upgrader with the given allowed origins.
// An empty list allows all origins.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedMap) == 0 {
				return true
			}
			return allowedMap[r.Header.Get("Origin")]
		},
	}
}

// wsSession adapts a websocket connection to a presence session. Events are
// queued on a buffered channel and written by a single goroutine; a full
// buffer fails the push so the broadcaster drops the handle instead of
// blocking the send path.
type wsSession struct {
	id           string
	conn         *websocket.Conn
	out          chan *presence.Event
	writeTimeout time.Duration
	done         chan struct{}
	once         sync.Once
}

func newWSSession(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *wsSession {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	s := &wsSession{
		id:           uuid.New().String(),
		conn:         conn,
		out:          make(chan *presence.Event, sendBuffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *wsSession) ID() string { return s.id }

// Push queues an event for delivery. It never blocks: a closed session or a
// saturated buffer returns an error so the caller can discard the handle.
func (s *wsSession) Push(event *presence.Event) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	default:
	}

	select {
	case s.out <- event:
		return nil
	default:
		return errors.New("session send buffer full")
	}
}

// close stops the write loop and closes the connection. Safe to call more
// than once.
func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSession) writeLoop() {
	defer s.close()
	for {
		select {
		case <-s.done:
			return
		case event := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteJSON(wsEvent{Type: "receive-message", Event: event}); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles GET /ws. The client sends a register frame naming
// its user, then the connection receives receive-message events until it
// closes. Reads after registration only serve to detect disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := createUpgrader(s.allowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxFrameSize)

	userID, err := readRegisterFrame(conn)
	if err != nil {
		s.logger.Debug("websocket registration failed", "error", err)
		_ = conn.Close()
		return
	}

	session := newWSSession(conn, s.live.SendBuffer, s.live.WriteTimeout)
	s.registry.Register(userID, session)

	s.logger.Info("websocket session registered",
		"user_id", userID,
		"session_id", session.ID())

	// Block on reads until the client goes away. Inbound frames after the
	// register frame are ignored; they keep intermediaries from idling out
	// the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "session_id", session.ID(), "error", err)
			}
			break
		}
	}

	s.registry.Unregister(userID, session.ID())
	session.close()

	s.logger.Info("websocket session closed",
		"user_id", userID,
		"session_id", session.ID())
}

// readRegisterFrame reads and validates the client's register frame.
func readRegisterFrame(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var frame registerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return "", fmt.Errorf("reading register frame: %w", err)
	}
	if frame.Type != "register" {
		return "", fmt.Errorf("expected register frame, got %q", frame.Type)
	}
	if frame.UserID == "" {
		return "", errors.New("register frame missing user_id")
	}
	return frame.UserID, nil
}

// Ensure wsSession implements presence.Session
var _ presence.Session = (*wsSession)(nil)
