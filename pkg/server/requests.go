package server

import (
	"context"

	"github.com/sessamekesh/coop-relay/internal"
	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
)

// RequestHandler answers a request a client sent to the server. It runs on
// the listener, so it must not block and must not make requests itself.
type RequestHandler func(ctx context.Context, client *clients.Client, payload []byte) (packets.Packet, error)

func (s *Server) RegisterRequestHandler(packetType packets.PacketType, handler RequestHandler) error {
	return s.requestHandlers.Register(packetType, func(ctx context.Context, conn handlers.Connection, payload []byte) (packets.Packet, error) {
		client, has := s.clients.Get(conn.ID())
		if !has {
			return nil, &internal.MissingClientIdError{Id: conn.ID()}
		}
		return handler(ctx, client, payload)
	})
}

// Request sends req to client and blocks for its response, up to the
// configured request timeout.
func (s *Server) Request(ctx context.Context, client *clients.Client, req packets.Packet, channel packets.Channel) (packets.PacketType, []byte, error) {
	return s.requester.Request(ctx, client.Conn, req, channel, s.settings.RequestTimeout)
}

// PendingRequests is the number of requests still waiting for a response.
func (s *Server) PendingRequests() int {
	return s.pending.Len()
}
