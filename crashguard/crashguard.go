// Package crashguard protects other applications from orphaned mixing
// groups. A private aggregate left behind by an abnormal exit keeps the real
// device silently muted for everyone else, so live aggregate handles are
// tracked in a fixed, preallocated table that a signal handler can walk
// without allocating or locking, and leftovers from a previous run are swept
// at startup by name pattern before any new resources are created.
package crashguard

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/tapmix/tapmix/platform"
)

// Capacity is the fixed number of aggregate handles the guard can track.
// One per controlled application plus one transient secondary each; 64 is
// far beyond any realistic controller count.
const Capacity = 64

// Guard tracks live aggregate handles for emergency teardown. Register and
// Unregister run on orchestration; TeardownAll is safe to call from the
// signal path because it only iterates the table and calls the teardown
// primitive.
type Guard struct {
	slots    [Capacity]atomic.Uint32
	teardown func(platform.ObjectID) error
}

// New creates a guard. teardown is the platform destroy primitive; it must
// itself be safe on the signal path.
func New(teardown func(platform.ObjectID) error) *Guard {
	return &Guard{teardown: teardown}
}

// Register adds an aggregate handle to the table. Returns false when the
// table is full; the aggregate then simply isn't crash-protected.
func (g *Guard) Register(id platform.ObjectID) bool {
	if id == platform.UnknownObject {
		return false
	}
	for i := range g.slots {
		if g.slots[i].CompareAndSwap(0, uint32(id)) {
			return true
		}
	}
	return false
}

// Unregister removes a handle from the table.
func (g *Guard) Unregister(id platform.ObjectID) {
	for i := range g.slots {
		if g.slots[i].CompareAndSwap(uint32(id), 0) {
			return
		}
	}
}

// TeardownAll destroys every registered aggregate and clears the table.
// No locks, no allocation: callable from a terminating signal handler.
func (g *Guard) TeardownAll() {
	for i := range g.slots {
		id := g.slots[i].Swap(0)
		if id != 0 {
			_ = g.teardown(platform.ObjectID(id))
		}
	}
}

// Registered returns the number of occupied slots.
func (g *Guard) Registered() int {
	n := 0
	for i := range g.slots {
		if g.slots[i].Load() != 0 {
			n++
		}
	}
	return n
}

// HandleSignals tears the table down when a fatal signal arrives, then
// re-raises the signal with default disposition so the process still dies
// the way the OS expects. Blocks until ctx is cancelled.
func (g *Guard) HandleSignals(ctx context.Context, sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	select {
	case <-ctx.Done():
		return
	case sig := <-ch:
		g.TeardownAll()
		signal.Reset(sig)
		if s, ok := sig.(syscall.Signal); ok {
			_ = syscall.Kill(os.Getpid(), s)
		}
	}
}

// Sweep destroys aggregates left over from a prior abnormal exit, matched by
// name prefix. Returns how many were removed. Must run before the engine
// creates anything, so a half-cleaned previous run can't collide.
func Sweep(sys platform.AudioSystem, prefix string, log *slog.Logger) int {
	if log == nil {
		log = slog.Default()
	}
	refs, err := sys.AggregatesByPrefix(prefix)
	if err != nil {
		log.Error("sweep orphaned aggregates", "error", err)
		return 0
	}
	n := 0
	for _, ref := range refs {
		if err := sys.DestroyAggregate(ref); err != nil {
			log.Error("destroy orphaned aggregate", "name", ref.Name, "error", err)
			continue
		}
		log.Info("swept orphaned aggregate", "name", ref.Name)
		n++
	}
	return n
}
