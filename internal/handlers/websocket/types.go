package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpanvictor/evermore/internal/domains/session"
)

// Client message types.
const (
	MessageSessionStart  = "session.start"
	MessageSessionConfig = "session.config"
	MessagePTTDown       = "ptt.down"
	MessagePTTUp         = "ptt.up"
	MessageCutAudio      = "cut_audio"
	// Older clients send the prefixed form.
	MessageCutAudioLegacy = "ai.cut_audio"
)

// clientMessage is the envelope for every JSON control message. Config
// fields are promoted from ConfigUpdate; absent fields stay nil.
type clientMessage struct {
	Type      string `json:"type"`
	PersonaID string `json:"persona_id"`
	session.ConfigUpdate
}

const sinkWriteTimeout = 10 * time.Second

// connSink adapts a gorilla connection to session.Sink. gorilla allows one
// concurrent writer, so all sends serialize through the mutex.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

func (s *connSink) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(sinkWriteTimeout))
	return s.conn.WriteJSON(v)
}
