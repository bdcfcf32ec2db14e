package entities

import (
	"github.com/sessamekesh/coop-relay/pkg/packets"
)

// ServerOwner is the OwnerID of entities no client owns.
const ServerOwner uint64 = 0

type Ped struct {
	ID      int32
	OwnerID uint64
	Health  int32

	Position packets.Vector3
	Rotation packets.Vector3
	Velocity packets.Vector3

	// Last vehicle the ped was seen seated in, 0 if none
	LastVehicle int32
}

type Vehicle struct {
	ID      int32
	OwnerID uint64

	Position   packets.Vector3
	Quaternion packets.Quaternion
	Velocity   packets.Vector3

	// Seat index to ped id
	Passengers map[int32]int32
}

func (v Vehicle) clone() Vehicle {
	if v.Passengers != nil {
		passengers := make(map[int32]int32, len(v.Passengers))
		for seat, ped := range v.Passengers {
			passengers[seat] = ped
		}
		v.Passengers = passengers
	}
	return v
}

// Prop is a static object spawned and owned by the server.
type Prop struct {
	ID       int32
	Model    int32
	Position packets.Vector3
	Rotation packets.Vector3
}

// Blip is a server owned map marker.
type Blip struct {
	ID       int32
	Sprite   int32
	Color    int32
	Scale    float32
	Name     string
	Position packets.Vector3
}

// WithinStreamingDistance reports whether a peer at b should receive updates
// about an entity at a. A negative cutoff disables the filter; a distance of
// exactly cutoff is still in range.
func WithinStreamingDistance(a packets.Vector3, b packets.Vector3, cutoff float32) bool {
	if cutoff < 0 {
		return true
	}
	return a.DistanceTo(b) <= cutoff
}
