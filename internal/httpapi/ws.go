package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mtorrado/hotline/internal/observability"
	"github.com/mtorrado/hotline/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 2 << 20
)

var errConnClosed = errors.New("connection closed")

// wsConn wraps one caller websocket. All writes go through its mutex so
// concurrent turn goroutines never interleave frames.
type wsConn struct {
	sessionID string
	conn      *websocket.Conn
	metrics   *observability.Metrics

	mu     sync.Mutex
	closed bool

	cancel context.CancelFunc
	turns  sync.WaitGroup
	done   chan struct{}
}

// SendEvent writes one JSON text frame.
func (c *wsConn) SendEvent(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		c.closed = true
		return err
	}
	if t, ok := eventTypeOf(v); ok {
		c.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
	}
	return nil
}

// SendAudio writes one binary frame.
func (c *wsConn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		c.closed = true
		return err
	}
	c.metrics.WSMessages.WithLabelValues("outbound", "audio").Inc()
	return nil
}

func (c *wsConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// shutdown forces the connection down: in-flight turns see a closed sink and
// a canceled context, and the read loop unblocks.
func (c *wsConn) shutdown() {
	c.markClosed()
	c.cancel()
	_ = c.conn.Close()
}

func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		sessionID: sessionID,
		conn:      conn,
		metrics:   s.metrics,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.registry.add(c)
	s.metrics.ActiveConnections.Inc()
	log.Printf("session %s: connected", sessionID)

	defer func() {
		c.markClosed()
		cancel()
		c.turns.Wait()
		_ = conn.Close()
		s.registry.remove(c)
		s.metrics.ActiveConnections.Dec()
		close(c.done)
		log.Printf("session %s: disconnected", sessionID)
	}()

	_ = c.SendEvent(protocol.SessionWelcome{
		Type:      protocol.TypeSessionWelcome,
		SessionID: sessionID,
	})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msgType {
		case websocket.TextMessage:
			s.metrics.WSMessages.WithLabelValues("inbound", "control").Inc()
			s.handleControl(ctx, c, data)
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "audio").Inc()
			audio := append([]byte(nil), data...)
			c.turns.Add(1)
			go func() {
				defer c.turns.Done()
				turnCtx, turnCancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
				defer turnCancel()
				s.pipeline.HandleUtterance(turnCtx, sessionID, audio, c)
			}()
		}
	}
}

func (s *Server) handleControl(ctx context.Context, c *wsConn, data []byte) {
	msg, err := protocol.ParseControlMessage(data)
	if err != nil {
		_ = c.SendEvent(protocol.ErrorEvent{
			Type:      protocol.TypeError,
			SessionID: c.sessionID,
			Reason:    "invalid_json",
			Detail:    err.Error(),
		})
		return
	}

	switch msg.Type {
	case protocol.ControlPing:
		_ = c.SendEvent(protocol.Pong{
			Type:      protocol.TypePong,
			SessionID: c.sessionID,
		})
	case protocol.ControlResetSession:
		if err := s.store.Reset(ctx, c.sessionID); err != nil {
			log.Printf("session %s: history reset failed: %v", c.sessionID, err)
			_ = c.SendEvent(protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: c.sessionID,
				Component: "history",
				Reason:    "reset_failed",
			})
			return
		}
		_ = c.SendEvent(protocol.SessionReset{
			Type:      protocol.TypeSessionReset,
			SessionID: c.sessionID,
		})
	default:
		_ = c.SendEvent(protocol.UnknownMessageType{
			Type:         protocol.TypeUnknownMessageType,
			SessionID:    c.sessionID,
			ReceivedType: msg.Type,
		})
	}
}

func eventTypeOf(v any) (protocol.EventType, bool) {
	switch m := v.(type) {
	case protocol.SessionWelcome:
		return m.Type, true
	case protocol.UserTranscript:
		return m.Type, true
	case protocol.AIText:
		return m.Type, true
	case protocol.AudioStart:
		return m.Type, true
	case protocol.AudioEnd:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.Pong:
		return m.Type, true
	case protocol.SessionReset:
		return m.Type, true
	case protocol.UnknownMessageType:
		return m.Type, true
	default:
		return "", false
	}
}
