package server

import (
	"fmt"

	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

// Username server generated chat lines are sent under
const ServerChatName = "Server"

// onConnected introduces the new client and the rest of the world to each
// other.
func (s *Server) onConnected(client *clients.Client) {
	log := s.log.With(zap.Uint64("connId", client.NetID), zap.String("username", client.Username))
	others := s.clients.Others(client.NetID)

	for _, other := range others {
		if err := client.Send(&packets.PlayerConnect{PedID: other.PedID, Username: other.Username}, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default); err != nil {
			log.Warn("Failed to send existing player", zap.Error(err))
			return
		}
	}

	s.sendWorldTo(client)

	joined := packets.Frame(&packets.PlayerConnect{PedID: client.PedID, Username: client.Username})
	s.sendFrameTo(others, joined, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)
	s.sendChatTo(others, ServerChatName, fmt.Sprintf("%s connected!", client.Username))

	if s.settings.WelcomeMessage != "" {
		if err := client.SendChat(ServerChatName, s.settings.WelcomeMessage); err != nil {
			log.Debug("Failed to send welcome message", zap.Error(err))
		}
	}

	log.Info("Player connected", zap.Int32("pedId", client.PedID), zap.String("session", client.SessionTag))

	player := playerOf(client)
	s.queueJob(func() { s.host.OnPlayerConnected(player) })

	s.pushResources(client)
}

// onDisconnected tells everyone else the client left and releases what it
// owned.
func (s *Server) onDisconnected(client *clients.Client) {
	others := s.clients.Others(client.NetID)
	left := packets.Frame(&packets.PlayerDisconnect{PedID: client.PedID})
	s.sendFrameTo(others, left, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)

	if err := s.entities.CleanUp(client.NetID, s.worker); err != nil {
		s.log.Warn("Failed to schedule entity clean up", zap.Uint64("connId", client.NetID), zap.Error(err))
	}

	player := playerOf(client)
	s.queueJob(func() { s.host.OnPlayerDisconnected(player) })

	s.log.Info("Player disconnected", zap.Uint64("connId", client.NetID), zap.String("username", client.Username), zap.Int32("pedId", client.PedID))

	if _, err := s.clients.Remove(client.NetID); err != nil {
		s.log.Warn("Failed to remove client", zap.Error(err))
	}
	s.security.RemoveConnection(client.Conn.RemoteAddr())
}

func (s *Server) queueJob(job func()) {
	if err := s.worker.QueueJob(job); err != nil {
		s.log.Debug("Dropping job, worker stopped", zap.Error(err))
	}
}
