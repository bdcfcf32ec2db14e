package entities

import (
	"sort"
	"sync"

	"github.com/sessamekesh/coop-relay/pkg/packets"
	utils "github.com/sessamekesh/coop-relay/pkg/util"
	"github.com/sessamekesh/coop-relay/pkg/worker"
	"go.uber.org/zap"
)

type JobQueue interface {
	QueueJob(job worker.Job) error
}

// Store is the authoritative record of every replicated entity. Peds,
// vehicles and props share one id space. Accessors hand out copies.
type Store struct {
	mut_tables sync.RWMutex
	peds       map[int32]*Ped
	vehicles   map[int32]*Vehicle
	props      map[int32]*Prop
	blips      map[int32]*Blip

	log *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Store{
		peds:     make(map[int32]*Ped),
		vehicles: make(map[int32]*Vehicle),
		props:    make(map[int32]*Prop),
		blips:    make(map[int32]*Blip),
		log:      logger.With(zap.String("handler", "Entities")),
	}
}

//
// Ids

func (s *Store) idTakenLocked(id int32) bool {
	if _, has := s.peds[id]; has {
		return true
	}
	if _, has := s.vehicles[id]; has {
		return true
	}
	_, has := s.props[id]
	return has
}

// RequestID returns a random non-zero id unused by any ped, vehicle or prop.
// The id is not reserved; use AddPed or CreateProp to allocate atomically.
func (s *Store) RequestID() int32 {
	s.mut_tables.RLock()
	defer s.mut_tables.RUnlock()
	return utils.RandomNonZeroInt32(s.idTakenLocked)
}

//
// Reads

func (s *Store) GetPed(id int32) (Ped, bool) {
	s.mut_tables.RLock()
	defer s.mut_tables.RUnlock()

	ped, has := s.peds[id]
	if !has {
		return Ped{}, false
	}
	return *ped, true
}

func (s *Store) GetVehicle(id int32) (Vehicle, bool) {
	s.mut_tables.RLock()
	defer s.mut_tables.RUnlock()

	veh, has := s.vehicles[id]
	if !has {
		return Vehicle{}, false
	}
	return veh.clone(), true
}

func (s *Store) GetProp(id int32) (Prop, bool) {
	s.mut_tables.RLock()
	defer s.mut_tables.RUnlock()

	prop, has := s.props[id]
	if !has {
		return Prop{}, false
	}
	return *prop, true
}

func (s *Store) AllPeds() []Ped {
	s.mut_tables.RLock()
	out := make([]Ped, 0, len(s.peds))
	for _, ped := range s.peds {
		out = append(out, *ped)
	}
	s.mut_tables.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AllVehicles() []Vehicle {
	s.mut_tables.RLock()
	out := make([]Vehicle, 0, len(s.vehicles))
	for _, veh := range s.vehicles {
		out = append(out, veh.clone())
	}
	s.mut_tables.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AllProps() []Prop {
	s.mut_tables.RLock()
	out := make([]Prop, 0, len(s.props))
	for _, prop := range s.props {
		out = append(out, *prop)
	}
	s.mut_tables.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AllBlips() []Blip {
	s.mut_tables.RLock()
	out := make([]Blip, 0, len(s.blips))
	for _, blip := range s.blips {
		out = append(out, *blip)
	}
	s.mut_tables.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type Counts struct {
	Peds     int `json:"peds"`
	Vehicles int `json:"vehicles"`
	Props    int `json:"props"`
	Blips    int `json:"blips"`
}

func (s *Store) Count() Counts {
	s.mut_tables.RLock()
	defer s.mut_tables.RUnlock()

	return Counts{
		Peds:     len(s.peds),
		Vehicles: len(s.vehicles),
		Props:    len(s.props),
		Blips:    len(s.blips),
	}
}

//
// Sync updates. The most recent update always wins, including ownership.

func (s *Store) ApplyPedUpdate(p *packets.PedSync, owner uint64) Ped {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	ped, has := s.peds[p.ID]
	if !has {
		ped = &Ped{ID: p.ID}
		s.peds[p.ID] = ped
	}
	ped.OwnerID = owner
	ped.Health = p.Health
	ped.Position = p.Position
	ped.Rotation = p.Rotation
	ped.Velocity = p.Velocity
	return *ped
}

func (s *Store) ApplyVehicleUpdate(p *packets.VehicleSync, owner uint64) Vehicle {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	veh, has := s.vehicles[p.ID]
	if !has {
		veh = &Vehicle{ID: p.ID}
		s.vehicles[p.ID] = veh
	}
	veh.OwnerID = owner
	veh.Position = p.Position
	veh.Quaternion = p.Quaternion
	veh.Velocity = p.Velocity
	return veh.clone()
}

// ApplyVehicleStateUpdate replaces the passenger map and points every listed
// ped that is known at the vehicle.
func (s *Store) ApplyVehicleStateUpdate(p *packets.VehicleStateSync, owner uint64) Vehicle {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	veh, has := s.vehicles[p.ID]
	if !has {
		veh = &Vehicle{ID: p.ID}
		s.vehicles[p.ID] = veh
	}
	veh.OwnerID = owner
	veh.Passengers = make(map[int32]int32, len(p.Passengers))
	for seat, pedID := range p.Passengers {
		veh.Passengers[seat] = pedID
		if ped, has := s.peds[pedID]; has {
			ped.LastVehicle = veh.ID
		}
	}
	return veh.clone()
}

//
// Direct mutation

// AddPed registers a player ped. id 0, or an id already in use, is replaced
// by a fresh one. The id actually used is returned.
func (s *Store) AddPed(id int32, owner uint64) int32 {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	if id == 0 || s.idTakenLocked(id) {
		id = utils.RandomNonZeroInt32(s.idTakenLocked)
	}
	s.peds[id] = &Ped{ID: id, OwnerID: owner}
	return id
}

func (s *Store) RemovePed(id int32) bool {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	_, has := s.peds[id]
	delete(s.peds, id)
	return has
}

func (s *Store) RemoveVehicle(id int32) bool {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	_, has := s.vehicles[id]
	delete(s.vehicles, id)
	return has
}

func (s *Store) CreateProp(model int32, position packets.Vector3, rotation packets.Vector3) Prop {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	prop := &Prop{
		ID:       utils.RandomNonZeroInt32(s.idTakenLocked),
		Model:    model,
		Position: position,
		Rotation: rotation,
	}
	s.props[prop.ID] = prop
	return *prop
}

// UpdateProp moves an existing prop. It reports false if id is unknown.
func (s *Store) UpdateProp(id int32, position packets.Vector3, rotation packets.Vector3) (Prop, bool) {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	prop, has := s.props[id]
	if !has {
		return Prop{}, false
	}
	prop.Position = position
	prop.Rotation = rotation
	return *prop, true
}

func (s *Store) DeleteProp(id int32) bool {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	_, has := s.props[id]
	delete(s.props, id)
	return has
}

// CreateBlip registers a map marker. Blip ids are their own id space.
func (s *Store) CreateBlip(blip Blip) Blip {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	blip.ID = utils.RandomNonZeroInt32(func(id int32) bool {
		_, has := s.blips[id]
		return has
	})
	stored := blip
	s.blips[blip.ID] = &stored
	return blip
}

func (s *Store) DeleteBlip(id int32) bool {
	s.mut_tables.Lock()
	defer s.mut_tables.Unlock()

	_, has := s.blips[id]
	delete(s.blips, id)
	return has
}

// CleanUp schedules removal of every ped and vehicle owned by owner on queue.
// An entity claimed by someone else before its job runs is left alone.
func (s *Store) CleanUp(owner uint64, queue JobQueue) error {
	s.mut_tables.RLock()
	pedIDs := []int32{}
	for id, ped := range s.peds {
		if ped.OwnerID == owner {
			pedIDs = append(pedIDs, id)
		}
	}
	vehicleIDs := []int32{}
	for id, veh := range s.vehicles {
		if veh.OwnerID == owner {
			vehicleIDs = append(vehicleIDs, id)
		}
	}
	s.mut_tables.RUnlock()

	s.log.Debug("Scheduling entity clean up", zap.Uint64("owner", owner), zap.Int("peds", len(pedIDs)), zap.Int("vehicles", len(vehicleIDs)))

	return queue.QueueJob(func() {
		s.mut_tables.Lock()
		defer s.mut_tables.Unlock()

		for _, id := range pedIDs {
			if ped, has := s.peds[id]; has && ped.OwnerID == owner {
				delete(s.peds, id)
			}
		}
		for _, id := range vehicleIDs {
			if veh, has := s.vehicles[id]; has && veh.OwnerID == owner {
				delete(s.vehicles, id)
			}
		}

		s.log.Debug("Remaining entities", zap.Int("count", len(s.peds)+len(s.vehicles)+len(s.props)))
	})
}
