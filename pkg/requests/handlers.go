package requests

import (
	"context"
	"sync"

	"github.com/sessamekesh/coop-relay/pkg/errors"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
)

// HandlerFunc answers a request from a peer. It runs on the listener
// goroutine and must not block; ctx carries the listener marker.
type HandlerFunc func(ctx context.Context, conn handlers.Connection, payload []byte) (packets.Packet, error)

// Handlers answers inbound Request envelopes by inner packet type.
type Handlers struct {
	mut_handlers sync.RWMutex
	handlers     map[packets.PacketType]HandlerFunc
}

func NewHandlers() *Handlers {
	return &Handlers{
		handlers: make(map[packets.PacketType]HandlerFunc),
	}
}

func (h *Handlers) Register(packetType packets.PacketType, fn HandlerFunc) error {
	h.mut_handlers.Lock()
	defer h.mut_handlers.Unlock()

	if _, has := h.handlers[packetType]; has {
		return &errors.NameCollision{
			CollisionContext: "RequestHandlers",
			Name:             packetType.String(),
		}
	}
	h.handlers[packetType] = fn
	return nil
}

// Handle answers env on conn with a Response envelope on the RequestResponse
// channel. Requests of an unregistered type are ignored and reported false.
func (h *Handlers) Handle(ctx context.Context, conn handlers.Connection, env *packets.Envelope) (bool, error) {
	h.mut_handlers.RLock()
	fn, has := h.handlers[env.InnerType]
	h.mut_handlers.RUnlock()

	if !has {
		return false, nil
	}

	resp, err := fn(ctx, conn, env.Payload)
	if err != nil {
		return true, err
	}
	if resp == nil {
		return true, &errors.MissingFieldError{
			MessageName: "Response",
			FieldName:   env.InnerType.String(),
		}
	}
	return true, conn.Send(packets.ResponseFrame(env.ID, resp), packets.DeliveryMethod_ReliableOrdered, packets.Channel_RequestResponse)
}
