package entities

import (
	"testing"

	"github.com/sessamekesh/coop-relay/pkg/packets"
	"github.com/sessamekesh/coop-relay/pkg/worker"
	"go.uber.org/zap/zaptest"
)

func TestLaterPedUpdateWins(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	s.ApplyPedUpdate(&packets.PedSync{ID: 7, Health: 100, Position: packets.Vector3{X: 1}}, 1)
	s.ApplyPedUpdate(&packets.PedSync{ID: 8, Health: 50}, 1)
	s.ApplyPedUpdate(&packets.PedSync{ID: 7, Health: 80, Position: packets.Vector3{X: 2}}, 2)

	ped, has := s.GetPed(7)
	if !has {
		t.Fatalf("ped 7 missing")
	}
	if ped.Health != 80 || ped.Position.X != 2 {
		t.Fatalf("expected values of the later update, got %+v", ped)
	}
	if ped.OwnerID != 2 {
		t.Fatalf("expected ownership to move to the last sender, got %d", ped.OwnerID)
	}
}

func TestVehicleStateUpdateTracksLastVehicle(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	driver := s.AddPed(0, 1)

	s.ApplyVehicleStateUpdate(&packets.VehicleStateSync{
		ID:         55,
		Passengers: map[int32]int32{-1: driver, 0: 999},
	}, 1)

	ped, _ := s.GetPed(driver)
	if ped.LastVehicle != 55 {
		t.Fatalf("expected driver's last vehicle to be 55, got %d", ped.LastVehicle)
	}
	if _, has := s.GetPed(999); has {
		t.Fatalf("unknown passenger must not be created")
	}

	veh, has := s.GetVehicle(55)
	if !has || len(veh.Passengers) != 2 || veh.OwnerID != 1 {
		t.Fatalf("unexpected vehicle %+v", veh)
	}

	// Returned copies must not alias the store
	veh.Passengers[5] = 5
	again, _ := s.GetVehicle(55)
	if len(again.Passengers) != 2 {
		t.Fatalf("mutating a returned vehicle changed the store")
	}
}

func TestIdsAreUniqueAcrossTables(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	seen := map[int32]bool{}
	for i := 0; i < 200; i++ {
		var id int32
		switch i % 3 {
		case 0:
			id = s.AddPed(0, 1)
		case 1:
			id = s.CreateProp(1234, packets.Vector3{}, packets.Vector3{}).ID
		case 2:
			id = s.RequestID()
			s.ApplyVehicleUpdate(&packets.VehicleSync{ID: id}, 1)
		}
		if id == 0 {
			t.Fatalf("allocated zero id")
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestAddPedReplacesTakenId(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	s.ApplyVehicleUpdate(&packets.VehicleSync{ID: 42}, 1)

	if id := s.AddPed(42, 2); id == 42 || id == 0 {
		t.Fatalf("expected a fresh id instead of the taken 42, got %d", id)
	}
	if id := s.AddPed(43, 2); id != 43 {
		t.Fatalf("expected the free requested id 43, got %d", id)
	}
}

func TestCleanUpRemovesOwnedEntitiesOnWorker(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	w := worker.New("test", zaptest.NewLogger(t))
	defer w.Close()

	alicePed := s.AddPed(0, 1)
	s.ApplyPedUpdate(&packets.PedSync{ID: 100}, 1)
	s.ApplyVehicleUpdate(&packets.VehicleSync{ID: 200}, 1)
	s.ApplyVehicleUpdate(&packets.VehicleSync{ID: 201}, 2)
	prop := s.CreateProp(1, packets.Vector3{}, packets.Vector3{})

	if err := s.CleanUp(1, w); err != nil {
		t.Fatalf("clean up: %v", err)
	}
	w.Flush()

	for _, ped := range s.AllPeds() {
		if ped.OwnerID == 1 {
			t.Fatalf("ped %d still attributed to departed owner", ped.ID)
		}
	}
	if _, has := s.GetPed(alicePed); has {
		t.Fatalf("player ped survived clean up")
	}
	if _, has := s.GetVehicle(200); has {
		t.Fatalf("owned vehicle survived clean up")
	}
	if _, has := s.GetVehicle(201); !has {
		t.Fatalf("vehicle of another owner was removed")
	}
	if _, has := s.GetProp(prop.ID); !has {
		t.Fatalf("server prop was removed")
	}
}

func TestCleanUpSparesReclaimedEntities(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	w := worker.New("test", zaptest.NewLogger(t))
	defer w.Close()

	release := make(chan struct{})
	w.QueueJob(func() { <-release })

	s.ApplyVehicleUpdate(&packets.VehicleSync{ID: 300}, 1)
	s.CleanUp(1, w)

	// Another client takes the vehicle before the clean up job runs
	s.ApplyVehicleUpdate(&packets.VehicleSync{ID: 300}, 2)
	close(release)
	w.Flush()

	veh, has := s.GetVehicle(300)
	if !has || veh.OwnerID != 2 {
		t.Fatalf("reclaimed vehicle was removed")
	}
}

func TestPropsAndBlips(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	prop := s.CreateProp(99, packets.Vector3{X: 1}, packets.Vector3{})
	moved, ok := s.UpdateProp(prop.ID, packets.Vector3{X: 5}, packets.Vector3{Z: 90})
	if !ok || moved.Position.X != 5 || moved.Rotation.Z != 90 {
		t.Fatalf("unexpected moved prop %+v", moved)
	}
	if !s.DeleteProp(prop.ID) || s.DeleteProp(prop.ID) {
		t.Fatalf("DeleteProp should succeed exactly once")
	}

	blip := s.CreateBlip(Blip{Sprite: 1, Name: "Spawn"})
	if blip.ID == 0 {
		t.Fatalf("blip got zero id")
	}
	if blips := s.AllBlips(); len(blips) != 1 || blips[0].Name != "Spawn" {
		t.Fatalf("unexpected blips %+v", blips)
	}
	if c := s.Count(); c.Blips != 1 || c.Props != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestWithinStreamingDistance(t *testing.T) {
	origin := packets.Vector3{}
	fifty := packets.Vector3{X: 30, Y: 40}

	if WithinStreamingDistance(origin, fifty, 40) {
		t.Fatalf("50 units is beyond a 40 unit cutoff")
	}
	if !WithinStreamingDistance(origin, fifty, 100) {
		t.Fatalf("50 units is within a 100 unit cutoff")
	}
	if !WithinStreamingDistance(origin, fifty, 50) {
		t.Fatalf("exactly at the cutoff is still in range")
	}
	if !WithinStreamingDistance(origin, packets.Vector3{X: 1e6}, -1) {
		t.Fatalf("-1 disables filtering")
	}
}
