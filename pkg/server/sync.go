package server

import (
	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/entities"
	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

// Positional updates are applied on the listener before relaying, so the
// distance checks of later frames see them. Ownership goes to whoever sent
// the latest update.

func (s *Server) onPedSync(client *clients.Client, p *packets.PedSync, frame []byte) {
	s.entities.ApplyPedUpdate(p, client.NetID)

	isPlayer := p.ID == client.PedID
	if isPlayer {
		ev := events.PlayerUpdate{Player: playerOf(client), Health: p.Health, Position: p.Position}
		s.queueJob(func() { s.host.OnPlayerUpdate(ev) })
	}

	s.relayInRange(client, p.Position, s.cutoffFor(isPlayer), frame)
}

func (s *Server) onVehicleSync(client *clients.Client, p *packets.VehicleSync, frame []byte) {
	s.entities.ApplyVehicleUpdate(p, client.NetID)

	isPlayer := false
	if ped, has := s.entities.GetPed(client.PedID); has {
		isPlayer = ped.LastVehicle != 0 && ped.LastVehicle == p.ID
	}

	s.relayInRange(client, p.Position, s.cutoffFor(isPlayer), frame)
}

func (s *Server) cutoffFor(isPlayer bool) float32 {
	if isPlayer {
		return s.settings.PlayerStreamingDistance
	}
	return s.settings.NpcStreamingDistance
}

// relayInRange forwards frame to every other client whose ped is within
// cutoff of position.
func (s *Server) relayInRange(sender *clients.Client, position packets.Vector3, cutoff float32, frame []byte) {
	for _, c := range s.clients.Others(sender.NetID) {
		ped, has := s.entities.GetPed(c.PedID)
		if !has {
			s.log.Debug("Recipient has no ped, not relaying sync", zap.Uint64("connId", c.NetID), zap.Int32("pedId", c.PedID))
			continue
		}
		if !entities.WithinStreamingDistance(position, ped.Position, cutoff) {
			continue
		}
		if err := c.Conn.Send(frame, packets.DeliveryMethod_UnreliableSequenced, packets.Channel_PedSync); err != nil {
			s.log.Debug("Failed to relay sync", zap.Uint64("connId", c.NetID), zap.Error(err))
		}
	}
}

// relayToOthers forwards frame to every other client regardless of distance.
func (s *Server) relayToOthers(sender *clients.Client, frame []byte) {
	s.sendFrameTo(s.clients.Others(sender.NetID), frame, packets.DeliveryMethod_UnreliableSequenced, packets.Channel_PedSync)
}

func (s *Server) sendFrameTo(targets []*clients.Client, frame []byte, method packets.DeliveryMethod, channel packets.Channel) {
	for _, c := range targets {
		if err := c.Conn.Send(frame, method, channel); err != nil {
			s.log.Debug("Failed to send frame", zap.Uint64("connId", c.NetID), zap.Error(err))
		}
	}
}
