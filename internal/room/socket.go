package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/wire"
)

// ErrSocketClosed is returned when writing to a closed socket.
var ErrSocketClosed = errors.New("socket closed")

// writeTimeout bounds a single frame write so one stalled client cannot
// hold up fan-out to the rest of the room.
const writeTimeout = 10 * time.Second

// Socket is one member's WebSocket connection to a room. Writes are
// serialized; closing is idempotent.
type Socket struct {
	ConnID      string
	MemberID    string
	ConnectedAt time.Time

	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewSocket wraps an upgraded connection for a room member.
func NewSocket(conn *websocket.Conn, memberID string, log *logging.Logger) *Socket {
	return &Socket{
		ConnID:      uuid.New().String(),
		MemberID:    memberID,
		ConnectedAt: time.Now(),
		conn:        conn,
		log:         log,
	}
}

// WriteFrame sends a frame to the client. Thread-safe.
func (s *Socket) WriteFrame(f wire.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(f)
}

// ReadMessage reads the next raw frame payload from the connection.
func (s *Socket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

// Close closes the underlying connection. Safe to call multiple times.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
