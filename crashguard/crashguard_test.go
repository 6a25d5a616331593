package crashguard

import (
	"testing"

	"github.com/tapmix/tapmix/platform"
)

func TestGuardRegisterTeardown(t *testing.T) {
	var destroyed []platform.ObjectID
	g := New(func(id platform.ObjectID) error {
		destroyed = append(destroyed, id)
		return nil
	})

	if !g.Register(101) || !g.Register(102) {
		t.Fatal("Register failed with empty table")
	}
	if g.Registered() != 2 {
		t.Fatalf("Registered = %d, want 2", g.Registered())
	}

	g.Unregister(101)
	if g.Registered() != 1 {
		t.Fatalf("Registered after Unregister = %d, want 1", g.Registered())
	}

	g.TeardownAll()
	if len(destroyed) != 1 || destroyed[0] != 102 {
		t.Fatalf("TeardownAll destroyed %v, want [102]", destroyed)
	}
	if g.Registered() != 0 {
		t.Errorf("table not cleared after TeardownAll")
	}
	// idempotent
	g.TeardownAll()
	if len(destroyed) != 1 {
		t.Errorf("second TeardownAll destroyed again: %v", destroyed)
	}
}

func TestGuardCapacity(t *testing.T) {
	g := New(func(platform.ObjectID) error { return nil })
	for i := 0; i < Capacity; i++ {
		if !g.Register(platform.ObjectID(1000 + i)) {
			t.Fatalf("Register %d failed below capacity", i)
		}
	}
	if g.Register(9999) {
		t.Error("Register succeeded past capacity")
	}
	g.Unregister(1000)
	if !g.Register(9999) {
		t.Error("Register failed after a slot freed")
	}
}

func TestGuardRejectsZeroHandle(t *testing.T) {
	g := New(func(platform.ObjectID) error { return nil })
	if g.Register(platform.UnknownObject) {
		t.Error("Register accepted the unknown object")
	}
}

func TestSweepDestroysMatchingOrphans(t *testing.T) {
	sim := platform.NewSimulator(platform.WithDevices(
		platform.Device{UID: "dev1", Name: "Speakers", Transport: platform.TransportBuiltIn},
	))
	sim.InjectOrphanAggregate("tapmix-123-aaaa", "uid-a")
	sim.InjectOrphanAggregate("tapmix-123-bbbb", "uid-b")
	sim.InjectOrphanAggregate("otherapp-cccc", "uid-c")

	n := Sweep(sim, "tapmix-", nil)
	if n != 2 {
		t.Fatalf("Sweep removed %d aggregates, want 2", n)
	}
	if sim.AggregateCount() != 1 {
		t.Errorf("aggregate count after sweep = %d, want 1 (foreign aggregate kept)", sim.AggregateCount())
	}
}
