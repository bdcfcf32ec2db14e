package server

import (
	"context"

	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/errors"
	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

// onData handles one frame from an approved client. Any error disconnects
// that client with the error text as the reason.
func (s *Server) onData(ctx context.Context, client *clients.Client, frame []byte) {
	packetType, err := packets.PeekType(frame)
	if err == nil {
		err = s.dispatch(ctx, client, packetType, frame)
	}
	if err != nil {
		s.log.Error("Error handling packet, disconnecting sender",
			zap.Uint64("connId", client.NetID),
			zap.String("username", client.Username),
			zap.Stringer("type", packetType),
			zap.Error(err),
			zap.Stack("stack"))
		client.Kick(err.Error())
	}
}

func (s *Server) dispatch(ctx context.Context, client *clients.Client, packetType packets.PacketType, frame []byte) error {
	switch packetType {
	case packets.PacketType_Response:
		env, err := packets.ParseEnvelope(frame)
		if err != nil {
			return err
		}
		if !s.pending.Resolve(env.ID, env.InnerType, env.Payload) {
			s.log.Debug("Dropping response nobody waits for", zap.Int32("requestId", env.ID))
		}
		return nil

	case packets.PacketType_Request:
		env, err := packets.ParseEnvelope(frame)
		if err != nil {
			return err
		}
		handled, err := s.requestHandlers.Handle(ctx, client.Conn, env)
		if !handled {
			s.log.Debug("No handler for request", zap.Stringer("type", env.InnerType))
		}
		return err
	}

	_, payload, err := packets.ParseFrame(frame)
	if err != nil {
		return err
	}

	if packetType.IsSyncEvent() {
		s.sendFrameTo(s.clients.Others(client.NetID), frame, packets.DeliveryMethod_UnreliableSequenced, packets.Channel_SyncEvents)
		return nil
	}

	switch packetType {
	case packets.PacketType_PedSync:
		var p packets.PedSync
		if err := p.Unpack(payload); err != nil {
			return err
		}
		s.onPedSync(client, &p, frame)
	case packets.PacketType_VehicleSync:
		var p packets.VehicleSync
		if err := p.Unpack(payload); err != nil {
			return err
		}
		s.onVehicleSync(client, &p, frame)
	case packets.PacketType_PedStateSync:
		var p packets.PedStateSync
		if err := p.Unpack(payload); err != nil {
			return err
		}
		s.relayToOthers(client, frame)
	case packets.PacketType_VehicleStateSync:
		var p packets.VehicleStateSync
		if err := p.Unpack(payload); err != nil {
			return err
		}
		s.entities.ApplyVehicleStateUpdate(&p, client.NetID)
		s.relayToOthers(client, frame)
	case packets.PacketType_ProjectileSync:
		var p packets.ProjectileSync
		if err := p.Unpack(payload); err != nil {
			return err
		}
		s.relayToOthers(client, frame)
	case packets.PacketType_ChatMessage:
		var p packets.ChatMessage
		if err := p.Unpack(payload); err != nil {
			return err
		}
		s.onChatMessage(client, &p)
	case packets.PacketType_CustomEvent:
		var p packets.CustomEvent
		if err := p.Unpack(payload); err != nil {
			return err
		}
		name, _ := packets.EventName(p.Hash)
		ev := events.CustomEvent{Player: playerOf(client), Hash: p.Hash, Name: name, Args: p.Args}
		s.queueJob(func() { s.host.OnCustomEventReceived(ev) })
	default:
		s.log.Warn("Dropping packet", zap.Uint64("connId", client.NetID), zap.Error(&errors.UnknownPacketType{PacketType: uint8(packetType)}))
	}
	return nil
}
