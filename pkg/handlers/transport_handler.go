package handlers

import (
	"context"

	"github.com/sessamekesh/coop-relay/pkg/packets"
)

// Connection is one remote endpoint as seen by the core, whichever backend
// carries it.
type Connection interface {
	ID() uint64
	RemoteAddr() string

	Send(data []byte, method packets.DeliveryMethod, channel packets.Channel) error
	// SendUnconnected writes a frame reliably on the Default channel whether or
	// not the connection was approved yet.
	SendUnconnected(data []byte) error

	// Approve accepts a connection that raised an Approval event.
	Approve() error
	// Deny refuses a pending connection, sending reason to the peer.
	Deny(reason string) error
	// Disconnect closes an approved connection, sending reason to the peer.
	Disconnect(reason string) error
}

type EventType uint8

const (
	// First Handshake frame from a connection that is not approved yet
	EventType_Approval EventType = iota
	EventType_StatusConnected
	EventType_StatusDisconnected
	EventType_Data
	// Any other frame from a connection that is not approved yet
	EventType_Unconnected
	EventType_LatencyUpdated
)

func (t EventType) String() string {
	switch t {
	case EventType_Approval:
		return "Approval"
	case EventType_StatusConnected:
		return "StatusConnected"
	case EventType_StatusDisconnected:
		return "StatusDisconnected"
	case EventType_Data:
		return "Data"
	case EventType_Unconnected:
		return "Unconnected"
	case EventType_LatencyUpdated:
		return "LatencyUpdated"
	}
	return "Unknown"
}

type Event struct {
	Type EventType
	Conn Connection
	Data []byte

	// Half round trip time in seconds, set on LatencyUpdated
	Latency float32

	// Telemetry
	RecvTime int64
}

type TransportHandler struct {
	Name             string
	NextConnectionID func() uint64
	GetNowTimestamp  func() int64

	Events chan<- Event
}

// Push hands ev to the core, giving up if ctx ends first.
func (h *TransportHandler) Push(ctx context.Context, ev Event) bool {
	if ev.RecvTime == 0 && h.GetNowTimestamp != nil {
		ev.RecvTime = h.GetNowTimestamp()
	}

	select {
	case h.Events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
