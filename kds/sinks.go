package kds

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSinkClosed = errors.New("sink closed")
	ErrSinkFull   = errors.New("sink buffer full")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSSink writes events to a websocket connection. gorilla connections allow one writer at a time.
type WSSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

func (s *WSSink) Push(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSSink) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Pump reads from the connection until the client goes away, keeping it alive with pings. Client
// messages are ignored. It returns when the connection is no longer usable.
func (s *WSSink) Pump() {
	done := make(chan struct{})
	defer close(done)

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// StreamSink buffers events for a consumer goroutine, such as an SSE response loop. A consumer
// that falls a full buffer behind is treated as dead: the sink closes itself so the consumer's
// range over Messages ends.
type StreamSink struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func NewStreamSink(buffer int) *StreamSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &StreamSink{ch: make(chan []byte, buffer)}
}

func (s *StreamSink) Push(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- payload:
		return nil
	default:
		s.closed = true
		close(s.ch)
		return ErrSinkFull
	}
}

func (s *StreamSink) Messages() <-chan []byte {
	return s.ch
}

func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
