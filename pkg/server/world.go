package server

import (
	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/entities"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

//
// Server owned world objects, mirrored to clients through custom events

func propSyncEvent(prop entities.Prop) (*packets.CustomEvent, error) {
	return packets.NewCustomEvent(packets.CustomEvent_ServerPropSync,
		prop.ID, prop.Model,
		prop.Position.X, prop.Position.Y, prop.Position.Z,
		prop.Rotation.X, prop.Rotation.Y, prop.Rotation.Z)
}

func blipSyncEvent(blip entities.Blip) (*packets.CustomEvent, error) {
	return packets.NewCustomEvent(packets.CustomEvent_ServerBlipSync,
		blip.ID, blip.Sprite, blip.Color, blip.Scale, blip.Name,
		blip.Position.X, blip.Position.Y, blip.Position.Z)
}

// sendWorldTo pushes every server prop and blip to one client.
func (s *Server) sendWorldTo(client *clients.Client) {
	for _, prop := range s.entities.AllProps() {
		ev, err := propSyncEvent(prop)
		if err != nil {
			s.log.Error("Failed to encode prop", zap.Int32("propId", prop.ID), zap.Error(err))
			continue
		}
		client.Send(ev, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)
	}
	for _, blip := range s.entities.AllBlips() {
		ev, err := blipSyncEvent(blip)
		if err != nil {
			s.log.Error("Failed to encode blip", zap.Int32("blipId", blip.ID), zap.Error(err))
			continue
		}
		client.Send(ev, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)
	}
}

// SendCustomEvent sends a custom event to target, or to everyone if target
// is nil.
func (s *Server) SendCustomEvent(target *clients.Client, hash int32, args ...any) error {
	ev, err := packets.NewCustomEvent(hash, args...)
	if err != nil {
		return err
	}
	s.broadcastCustomEvent(target, ev)
	return nil
}

func (s *Server) broadcastCustomEvent(target *clients.Client, ev *packets.CustomEvent) {
	targets := []*clients.Client{target}
	if target == nil {
		targets = s.clients.All()
	}
	s.sendFrameTo(targets, packets.Frame(ev), packets.DeliveryMethod_ReliableOrdered, packets.Channel_Default)
}

func (s *Server) CreateProp(model int32, position packets.Vector3, rotation packets.Vector3) (entities.Prop, error) {
	prop := s.entities.CreateProp(model, position, rotation)
	ev, err := propSyncEvent(prop)
	if err != nil {
		return prop, err
	}
	s.broadcastCustomEvent(nil, ev)
	return prop, nil
}

// MoveProp updates a prop and resends it to everyone.
func (s *Server) MoveProp(id int32, position packets.Vector3, rotation packets.Vector3) (bool, error) {
	prop, has := s.entities.UpdateProp(id, position, rotation)
	if !has {
		return false, nil
	}
	ev, err := propSyncEvent(prop)
	if err != nil {
		return true, err
	}
	s.broadcastCustomEvent(nil, ev)
	return true, nil
}

func (s *Server) DeleteProp(id int32) bool {
	if !s.entities.DeleteProp(id) {
		return false
	}
	if err := s.SendCustomEvent(nil, packets.CustomEvent_DeleteServerProp, id); err != nil {
		s.log.Error("Failed to announce prop deletion", zap.Int32("propId", id), zap.Error(err))
	}
	return true
}

func (s *Server) CreateBlip(blip entities.Blip) (entities.Blip, error) {
	blip = s.entities.CreateBlip(blip)
	ev, err := blipSyncEvent(blip)
	if err != nil {
		return blip, err
	}
	s.broadcastCustomEvent(nil, ev)
	return blip, nil
}

func (s *Server) DeleteBlip(id int32) bool {
	if !s.entities.DeleteBlip(id) {
		return false
	}
	if err := s.SendCustomEvent(nil, packets.CustomEvent_DeleteServerBlip, id); err != nil {
		s.log.Error("Failed to announce blip deletion", zap.Int32("blipId", id), zap.Error(err))
	}
	return true
}

// Kick disconnects the named player. Reports false if nobody has that name.
func (s *Server) Kick(username string, reason string) bool {
	client, has := s.clients.GetByUsername(username)
	if !has {
		return false
	}
	s.log.Info("Kicking player", zap.String("username", username), zap.String("reason", reason))
	client.Kick(reason)
	return true
}
