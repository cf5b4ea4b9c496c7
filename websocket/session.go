package websocket

import (
	"sync"
	"time"

	"github.com/anjiri1684/chat_core/models"
	"github.com/rs/zerolog"
)

// TextMessage matches the RFC 6455 text frame opcode used by both websocket
// libraries.
const TextMessage = 1

const writeWait = 10 * time.Second

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one authenticated connection. Frames queue on send and are
// written by the session's own goroutine.
type Session struct {
	ID       string
	Identity models.Identity

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newSession(id string, identity models.Identity, conn Conn, buffer int, log zerolog.Logger) *Session {
	return &Session{
		ID:       id,
		Identity: identity,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		log:      log.With().Str("session_id", id).Str("user_id", identity.UserID.String()).Logger(),
	}
}

// enqueue never blocks. It reports false when the session is closed or its
// queue is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(TextMessage, frame); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.Close()
				return
			}
		}
	}
}

// Close stops the writer and closes the connection. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Log() *zerolog.Logger { return &s.log }
