package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap/zaptest"
)

func newTestHandler(name string) (*handlers.TransportHandler, chan handlers.Event) {
	events := make(chan handlers.Event, 64)
	var nextID atomic.Uint64
	return &handlers.TransportHandler{
		Name:             name,
		NextConnectionID: func() uint64 { return nextID.Add(1) },
		GetNowTimestamp:  func() int64 { return time.Now().UnixMicro() },
		Events:           events,
	}, events
}

func nextEvent(t *testing.T, events <-chan handlers.Event) handlers.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
	}
	return handlers.Event{}
}

func expectNoEvent(t *testing.T, events <-chan handlers.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected %s event", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func handshakeFrame(username string) []byte {
	return packets.Frame(&packets.Handshake{Username: username, ModVersion: "V0_5_0"})
}

func TestMemoryConnectionLifecycle(t *testing.T) {
	handler, events := newTestHandler("memory")
	m := CreateMemoryTransport(handler, MemoryTransportParams{Logger: zaptest.NewLogger(t)})

	peer := m.Dial()

	peer.Send(packets.Frame(&packets.PublicKeyRequest{}))
	if ev := nextEvent(t, events); ev.Type != handlers.EventType_Unconnected {
		t.Fatalf("expected Unconnected before handshake, got %s", ev.Type)
	}

	peer.Send(handshakeFrame("Alice"))
	approval := nextEvent(t, events)
	if approval.Type != handlers.EventType_Approval {
		t.Fatalf("expected Approval, got %s", approval.Type)
	}
	if approval.Conn.ID() != peer.ConnectionID() {
		t.Fatalf("event carries connection %d, want %d", approval.Conn.ID(), peer.ConnectionID())
	}

	if err := approval.Conn.Send([]byte{1}, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != ErrNotApproved {
		t.Fatalf("expected ErrNotApproved before approval, got %v", err)
	}

	if err := approval.Conn.Approve(); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ev := nextEvent(t, events); ev.Type != handlers.EventType_StatusConnected {
		t.Fatalf("expected StatusConnected, got %s", ev.Type)
	}

	frame, ok := peer.Next(time.Second)
	if !ok {
		t.Fatalf("peer did not receive a verdict")
	}
	accepted, _, err := ParseVerdictFrame(frame.Data)
	if err != nil || !accepted {
		t.Fatalf("expected accepted verdict, got %v (%v)", accepted, err)
	}

	peer.Send(packets.Frame(&packets.ChatMessage{Username: "Alice", Message: "hi"}))
	if ev := nextEvent(t, events); ev.Type != handlers.EventType_Data {
		t.Fatalf("expected Data, got %s", ev.Type)
	}

	peer.SetLatency(0.025)
	if ev := nextEvent(t, events); ev.Type != handlers.EventType_LatencyUpdated || ev.Latency != 0.025 {
		t.Fatalf("expected LatencyUpdated 0.025, got %s %f", ev.Type, ev.Latency)
	}

	if err := approval.Conn.Send([]byte{9, 9}, packets.DeliveryMethod_UnreliableSequenced, packets.Channel_PedSync); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, ok = peer.Next(time.Second)
	if !ok || frame.Channel != packets.Channel_PedSync || frame.Method != packets.DeliveryMethod_UnreliableSequenced {
		t.Fatalf("unexpected frame %+v", frame)
	}

	peer.Close()
	if ev := nextEvent(t, events); ev.Type != handlers.EventType_StatusDisconnected {
		t.Fatalf("expected StatusDisconnected, got %s", ev.Type)
	}
	expectNoEvent(t, events)

	if err := approval.Conn.Send([]byte{1}, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed after close, got %v", err)
	}
}

func TestMemoryDenySendsReason(t *testing.T) {
	handler, events := newTestHandler("memory")
	m := CreateMemoryTransport(handler, MemoryTransportParams{Logger: zaptest.NewLogger(t)})

	peer := m.Dial()
	peer.Send(handshakeFrame("Bob"))
	approval := nextEvent(t, events)

	if err := approval.Conn.Deny("Username is already taken!"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	frame, ok := peer.Next(time.Second)
	if !ok {
		t.Fatalf("peer did not receive a verdict")
	}
	accepted, reason, err := ParseVerdictFrame(frame.Data)
	if err != nil || accepted || reason != "Username is already taken!" {
		t.Fatalf("unexpected verdict accepted=%v reason=%q err=%v", accepted, reason, err)
	}

	select {
	case <-peer.Closed():
	case <-time.After(time.Second):
		t.Fatalf("denied connection was not closed")
	}

	// A denied connection was never connected, so no status change follows
	expectNoEvent(t, events)

	if err := approval.Conn.Approve(); err != ErrNoPendingVerdict {
		t.Fatalf("expected ErrNoPendingVerdict, got %v", err)
	}
}

func TestServerDisconnectRaisesStatusOnce(t *testing.T) {
	handler, events := newTestHandler("memory")
	m := CreateMemoryTransport(handler, MemoryTransportParams{Logger: zaptest.NewLogger(t)})

	peer := m.Dial()
	peer.Send(handshakeFrame("Carol"))
	conn := nextEvent(t, events).Conn
	conn.Approve()
	nextEvent(t, events)
	peer.Drain()

	if err := conn.Disconnect("Kicked"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if ev := nextEvent(t, events); ev.Type != handlers.EventType_StatusDisconnected {
		t.Fatalf("expected StatusDisconnected, got %s", ev.Type)
	}

	peer.Close()
	expectNoEvent(t, events)

	frames := peer.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected only the disconnect verdict, got %d frames", len(frames))
	}
	if _, reason, _ := ParseVerdictFrame(frames[0].Data); reason != "Kicked" {
		t.Fatalf("unexpected disconnect reason %q", reason)
	}
}

func TestVerdictFrameWithoutReason(t *testing.T) {
	accepted, reason, err := ParseVerdictFrame(VerdictFrame(true, ""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !accepted || reason != "" {
		t.Fatalf("unexpected verdict %v %q", accepted, reason)
	}

	if _, _, err := ParseVerdictFrame(packets.Frame(&packets.PlayerDisconnect{PedID: 1})); err == nil {
		t.Fatalf("expected error for non-verdict frame")
	}
}
