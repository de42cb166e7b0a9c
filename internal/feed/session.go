// Package feed owns the realtime ingestion pipeline: websocket sessions
// bound to one (key, subscription type, instrument partition) each, and the
// allocator that partitions the instrument universe across them.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/KE-WhyNot/BE-finance-service-sub000/configs"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/wire"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// ErrSessionClosed is returned by Open on a session that was already used.
// Sessions are single-shot: a closed session is discarded, never reopened.
var ErrSessionClosed = errors.New("session closed")

// Sink accepts one serialized normalized message at a time and fans it out
// to current subscribers. Implementations must tolerate concurrent calls
// from independent sessions.
type Sink interface {
	Publish(msg string) error
}

// Partition is a bounded subset of instrument codes assigned to one
// upstream connection. Immutable once a session is built from it.
type Partition struct {
	Credential configs.Credential
	SubType    wire.SubscriptionType
	Codes      []string
}

// State is the session lifecycle position.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// Session owns one upstream websocket connection. On Open it sends one
// subscribe frame per instrument in partition order, then pumps inbound
// frames through the wire decoder to the sink. A session never reconnects;
// on a read error it transitions to Closed and stays there.
type Session struct {
	partition   Partition
	wsURL       string
	approvalKey string
	sink        Sink
	logger      *logrus.Entry

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
}

// NewSession creates a session in the Created state.
func NewSession(wsURL, approvalKey string, partition Partition, sink Sink, logger *logrus.Logger) *Session {
	return &Session{
		partition:   partition,
		wsURL:       wsURL,
		approvalKey: approvalKey,
		sink:        sink,
		logger: logger.WithFields(logrus.Fields{
			"key_id":  partition.Credential.KeyID,
			"tr_id":   string(partition.SubType),
			"symbols": len(partition.Codes),
		}),
	}
}

// Open dials the upstream socket, registers every instrument in the
// partition, and starts the inbound read loop. It may be called once.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateConnecting
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}

	// Registration frames go out in partition order; the vendor accepts
	// multiple subscribe frames over one connection.
	for _, code := range s.partition.Codes {
		frame, err := wire.EncodeSubscribe(s.approvalKey, s.partition.SubType, code)
		if err != nil {
			conn.Close()
			s.setState(StateClosed)
			return fmt.Errorf("encode subscribe for %s: %w", code, err)
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			s.setState(StateClosed)
			return fmt.Errorf("subscribe %s: %w", code, err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.logger.Info("Session opened")
	go s.readLoop()
	return nil
}

// readLoop forwards decoded inbound frames to the sink in arrival order.
// Decode discards and per-frame failures are dropped, not propagated.
func (s *Session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			// A read error after Close is normal shutdown.
			if s.markClosed() {
				s.logger.WithField("error", err).Warn("Session read error, closing")
			}
			return
		}

		msg, err := wire.Decode(raw)
		if err != nil {
			s.logger.WithField("error", err).Debug("Dropping malformed frame")
			continue
		}
		if msg.Kind == wire.KindDiscard {
			continue
		}

		serialized, err := msg.Serialize()
		if err != nil {
			s.logger.WithField("error", err).Debug("Dropping unserializable message")
			continue
		}
		if err := s.sink.Publish(serialized); err != nil {
			s.logger.WithField("error", err).Error("Broadcast publish failed")
		}
	}
}

// Close releases the socket. Safe to call more than once and mid-read; the
// read loop treats the resulting error as shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	wasOpen := s.state == StateOpen
	s.state = StateClosed
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasOpen {
		s.logger.Info("Session closed")
	}
}

// IsOpen reports whether the session currently holds a live connection.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen
}

// Partition returns the immutable partition this session was built from.
func (s *Session) Partition() Partition {
	return s.partition
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// markClosed transitions Open to Closed and reports whether the session was
// open, so deliberate closes are not logged as faults.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	s.state = StateClosed
	return true
}
