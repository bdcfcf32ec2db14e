package server

import (
	"github.com/sessamekesh/coop-relay/pkg/packets"
)

// sendPlayerInfos tells every client the latency of every other client. Runs
// on the worker every PlayerInfoInterval.
func (s *Server) sendPlayerInfos() {
	all := s.clients.All()
	for _, c := range all {
		frame := packets.Frame(&packets.PlayerInfoUpdate{
			PedID:    c.PedID,
			Username: c.Username,
			Latency:  c.Latency(),
		})
		for _, other := range all {
			if other.NetID == c.NetID {
				continue
			}
			other.Conn.Send(frame, packets.DeliveryMethod_ReliableSequenced, packets.Channel_Default)
		}
	}
}
