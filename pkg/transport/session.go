package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotApproved      = errors.New("connection has not been approved")
	ErrNoPendingVerdict = errors.New("connection is not waiting for a verdict")
)

// FrameWriter is the backend specific half of a Session.
type FrameWriter interface {
	WriteFrame(data []byte, method packets.DeliveryMethod, channel packets.Channel) error
	CloseTransport()
}

type sessionState uint8

const (
	sessionState_Pending sessionState = iota
	sessionState_Approving
	sessionState_Connected
	sessionState_Closed
)

// Session implements handlers.Connection on top of a FrameWriter. It owns the
// approval state machine shared by every backend and forwards events to the
// core in the order they happened through its own pump goroutine, so neither
// a backend read loop nor the core listener blocks on the other.
type Session struct {
	id         uint64
	remoteAddr string
	handler    *handlers.TransportHandler
	writer     FrameWriter
	log        *zap.Logger

	mut_state sync.Mutex
	state     sessionState
	outbox    []handlers.Event
	pumpDone  bool
	wake      chan struct{}
}

func NewSession(ctx context.Context, handler *handlers.TransportHandler, remoteAddr string, writer FrameWriter, log *zap.Logger) *Session {
	s := &Session{
		id:         handler.NextConnectionID(),
		remoteAddr: remoteAddr,
		handler:    handler,
		writer:     writer,
		wake:       make(chan struct{}, 1),
	}
	s.log = log.With(zap.Uint64("connId", s.id), zap.String("remoteAddr", remoteAddr))

	go s.pump(ctx)
	return s
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

func (s *Session) Logger() *zap.Logger {
	return s.log
}

func (s *Session) Send(data []byte, method packets.DeliveryMethod, channel packets.Channel) error {
	s.mut_state.Lock()
	state := s.state
	s.mut_state.Unlock()

	switch state {
	case sessionState_Connected:
		return s.writer.WriteFrame(data, method, channel)
	case sessionState_Closed:
		return ErrConnectionClosed
	default:
		return ErrNotApproved
	}
}

func (s *Session) SendUnconnected(data []byte) error {
	s.mut_state.Lock()
	closed := s.state == sessionState_Closed
	s.mut_state.Unlock()

	if closed {
		return ErrConnectionClosed
	}
	return s.writer.WriteFrame(data, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)
}

func (s *Session) Approve() error {
	err := func() error {
		s.mut_state.Lock()
		defer s.mut_state.Unlock()

		if s.state != sessionState_Approving {
			return ErrNoPendingVerdict
		}
		s.state = sessionState_Connected
		return nil
	}()
	if err != nil {
		return err
	}

	if err := s.writer.WriteFrame(VerdictFrame(true, ""), packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != nil {
		s.log.Warn("Failed to send approval verdict", zap.Error(err))
	}
	s.enqueue(handlers.Event{Type: handlers.EventType_StatusConnected})
	return nil
}

func (s *Session) Deny(reason string) error {
	err := func() error {
		s.mut_state.Lock()
		defer s.mut_state.Unlock()

		if s.state != sessionState_Pending && s.state != sessionState_Approving {
			return ErrNoPendingVerdict
		}
		s.state = sessionState_Closed
		return nil
	}()
	if err != nil {
		return err
	}

	s.log.Info("Denying connection", zap.String("reason", reason))
	if err := s.writer.WriteFrame(VerdictFrame(false, reason), packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != nil {
		s.log.Warn("Failed to send deny verdict", zap.Error(err))
	}
	s.writer.CloseTransport()
	s.finish()
	return nil
}

func (s *Session) Disconnect(reason string) error {
	wasConnected, alreadyClosed := func() (bool, bool) {
		s.mut_state.Lock()
		defer s.mut_state.Unlock()

		if s.state == sessionState_Closed {
			return false, true
		}
		wasConnected := s.state == sessionState_Connected
		s.state = sessionState_Closed
		return wasConnected, false
	}()
	if alreadyClosed {
		return nil
	}

	s.log.Info("Disconnecting", zap.String("reason", reason))
	if err := s.writer.WriteFrame(VerdictFrame(false, reason), packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != nil {
		s.log.Debug("Failed to send disconnect verdict", zap.Error(err))
	}
	s.writer.CloseTransport()

	if wasConnected {
		s.enqueue(handlers.Event{Type: handlers.EventType_StatusDisconnected})
	}
	s.finish()
	return nil
}

//
// Backend callbacks

// OnFrame classifies a frame read from the peer.
func (s *Session) OnFrame(data []byte) {
	s.mut_state.Lock()
	state := s.state
	if state == sessionState_Pending && len(data) > 0 && packets.PacketType(data[0]) == packets.PacketType_Handshake {
		s.state = sessionState_Approving
	}
	s.mut_state.Unlock()

	switch state {
	case sessionState_Pending:
		if len(data) > 0 && packets.PacketType(data[0]) == packets.PacketType_Handshake {
			s.enqueue(handlers.Event{Type: handlers.EventType_Approval, Data: data})
		} else {
			s.enqueue(handlers.Event{Type: handlers.EventType_Unconnected, Data: data})
		}
	case sessionState_Approving:
		if len(data) > 0 && packets.PacketType(data[0]) == packets.PacketType_Handshake {
			s.log.Debug("Dropping repeated handshake")
			return
		}
		s.enqueue(handlers.Event{Type: handlers.EventType_Unconnected, Data: data})
	case sessionState_Connected:
		s.enqueue(handlers.Event{Type: handlers.EventType_Data, Data: data})
	}
}

func (s *Session) OnLatency(latency float32) {
	s.mut_state.Lock()
	connected := s.state == sessionState_Connected
	s.mut_state.Unlock()

	if connected {
		s.enqueue(handlers.Event{Type: handlers.EventType_LatencyUpdated, Latency: latency})
	}
}

// OnClosed is called by the backend once the underlying transport is gone,
// whoever closed it.
func (s *Session) OnClosed() {
	wasConnected, alreadyClosed := func() (bool, bool) {
		s.mut_state.Lock()
		defer s.mut_state.Unlock()

		if s.state == sessionState_Closed {
			return false, true
		}
		wasConnected := s.state == sessionState_Connected
		s.state = sessionState_Closed
		return wasConnected, false
	}()
	if alreadyClosed {
		return
	}

	if wasConnected {
		s.log.Info("Connection closed by peer")
		s.enqueue(handlers.Event{Type: handlers.EventType_StatusDisconnected})
	}
	s.finish()
}

//
// Event pump

func (s *Session) enqueue(ev handlers.Event) {
	ev.Conn = s
	if s.handler.GetNowTimestamp != nil {
		ev.RecvTime = s.handler.GetNowTimestamp()
	}

	s.mut_state.Lock()
	s.outbox = append(s.outbox, ev)
	s.mut_state.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finish lets the pump exit once the outbox is drained.
func (s *Session) finish() {
	s.mut_state.Lock()
	s.pumpDone = true
	s.mut_state.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for {
			s.mut_state.Lock()
			if len(s.outbox) == 0 {
				done := s.pumpDone
				s.mut_state.Unlock()
				if done {
					return
				}
				break
			}
			ev := s.outbox[0]
			s.outbox[0] = handlers.Event{}
			s.outbox = s.outbox[1:]
			s.mut_state.Unlock()

			if !s.handler.Push(ctx, ev) {
				return
			}
		}
	}
}
