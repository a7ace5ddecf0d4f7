package signal

import (
	"sync"
	"time"

	"proctorsfu/internal/core/domain"

	"github.com/gorilla/websocket"
)

// sessionState is the per-connection signaling state machine.
type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateJoined
	stateClosed
)

// session is one live signaling connection. The server exclusively owns the
// connection-id → session mapping; registries reference peers by user id
// only.
type session struct {
	id   domain.ConnectionID
	conn *websocket.Conn

	mu     sync.Mutex
	state  sessionState
	userID domain.UserID
	roomID domain.RoomID
	role   domain.Role

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newSession(id domain.ConnectionID, conn *websocket.Conn, writeTimeout time.Duration) *session {
	return &session{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// bind transitions the session to Joined.
func (s *session) bind(userID domain.UserID, roomID domain.RoomID, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateJoined
	s.userID = userID
	s.roomID = roomID
	s.role = role
}

// identity returns the bound identity; ok is false before a room join.
func (s *session) identity() (userID domain.UserID, roomID domain.RoomID, role domain.Role, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.roomID, s.role, s.state == stateJoined
}

func (s *session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
}

// send serializes writes; gorilla connections allow one concurrent writer.
func (s *session) send(env Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(env)
}

func (s *session) sendPing() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
