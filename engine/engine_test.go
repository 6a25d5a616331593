package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tapmix/tapmix/config"
	"github.com/tapmix/tapmix/platform"
	"github.com/tapmix/tapmix/settings"
	"github.com/tapmix/tapmix/tap"
)

var testApp = platform.App{PID: 7, Name: "Player", PersistKey: "com.example.player"}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.WarmupWired = 10 * time.Millisecond
	cfg.WarmupWireless = 20 * time.Millisecond
	cfg.TrustFrames = 512
	cfg.CrossfadeSeconds = 0.02
	cfg.SilenceSettle = 5 * time.Millisecond
	cfg.DestructiveRampSteps = 3
	cfg.DestructiveStepInterval = 2 * time.Millisecond
	cfg.HealthInterval = 40 * time.Millisecond
	cfg.FastCheckInterval = 10 * time.Millisecond
	cfg.LevelPollInterval = 10 * time.Millisecond
	cfg.MinConfirmCallbacks = 3
	cfg.RestartStabilize = 30 * time.Millisecond
	cfg.SuppressGrace = 20 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T) (*platform.Simulator, *settings.MemoryStore, *Engine) {
	t.Helper()
	sim := platform.NewSimulator(
		platform.WithTick(time.Millisecond),
		platform.WithDevices(
			platform.Device{UID: "spk", Name: "Speakers", Transport: platform.TransportBuiltIn},
			platform.Device{UID: "hp", Name: "Headphones", Transport: platform.TransportUSB},
		),
		platform.WithApps(testApp),
	)
	sim.SetAppLevel(testApp.PID, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sim.Run(ctx)

	store := settings.NewMemory()
	e := New(sim, testConfig(), store, nil, nil)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(e.StopSync)
	return sim, store, e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestTapPersistsAndUntapKeepsRecord(t *testing.T) {
	sim, store, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if sim.TapCount() != 1 {
		t.Fatalf("tap count = %d, want 1", sim.TapCount())
	}

	if err := e.SetVolume(ctx, testApp.PID, 0.4); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	rec, err := store.Get(ctx, testApp.PersistKey)
	if err != nil {
		t.Fatalf("persisted record missing: %v", err)
	}
	if rec.Volume != 0.4 {
		t.Fatalf("persisted volume = %v, want 0.4", rec.Volume)
	}

	if err := e.Untap(ctx, testApp.PID); err != nil {
		t.Fatalf("untap: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sim.TapCount() == 0 })
	if _, err := store.Get(ctx, testApp.PersistKey); err != nil {
		t.Fatalf("untap deleted the persisted record: %v", err)
	}

	if err := e.Tap(ctx, 999); !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("tap unknown pid = %v, want ErrAppNotFound", err)
	}
}

func TestStartupRestoresPersistedApps(t *testing.T) {
	sim := platform.NewSimulator(
		platform.WithTick(time.Millisecond),
		platform.WithDevices(
			platform.Device{UID: "spk", Name: "Speakers"},
			platform.Device{UID: "hp", Name: "Headphones"},
		),
		platform.WithApps(testApp),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)

	store := settings.NewMemory()
	rec := settings.DefaultRecord()
	rec.DeviceUID = "hp"
	rec.FollowsDefault = false
	rec.Volume = 0.7
	if err := store.Set(ctx, testApp.PersistKey, rec); err != nil {
		t.Fatal(err)
	}

	e := New(sim, testConfig(), store, nil, nil)
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.StopSync()

	waitFor(t, time.Second, func() bool {
		apps, err := e.Apps(ctx)
		return err == nil && len(apps) == 1 && apps[0].DeviceUID == "hp" && apps[0].Volume == 0.7
	})
}

func TestStartupSweepsOrphanedAggregates(t *testing.T) {
	sim := platform.NewSimulator(
		platform.WithDevices(platform.Device{UID: "spk", Name: "Speakers"}),
	)
	sim.InjectOrphanAggregate(tap.AggregateNamePrefix+"1234-dead", "orphan-uid")
	sim.InjectOrphanAggregate("someone-elses-aggregate", "other-uid")

	e := New(sim, testConfig(), settings.NewMemory(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.StopSync()

	if got := sim.AggregateCount(); got != 1 {
		t.Fatalf("aggregates after sweep = %d, want only the foreign one", got)
	}
}

func TestPermissionConfirmationMutesOriginalRoute(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if mb, ok := sim.TapMuteBehavior(testApp.PID); !ok || mb != platform.MuteBehaviorUnmuted {
		t.Fatalf("new tap mute = %v, want unmuted until confirmation", mb)
	}

	waitFor(t, 2*time.Second, func() bool {
		mb, ok := sim.TapMuteBehavior(testApp.PID)
		return ok && mb == platform.MuteBehaviorMuted
	})

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.PermissionConfirmed {
		t.Fatal("status does not report confirmed permission")
	}
}

func TestDefaultDeviceChangeReroutesFollowers(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	sim.SetDefaultDevice("hp")

	waitFor(t, 2*time.Second, func() bool {
		apps, err := e.Apps(ctx)
		return err == nil && len(apps) == 1 && apps[0].DeviceUID == "hp" && !apps[0].Switching
	})
}

func TestPinnedAppIgnoresDefaultChange(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if err := e.Route(ctx, testApp.PID, "spk"); err != nil {
		t.Fatalf("route: %v", err)
	}
	sim.SetDefaultDevice("hp")
	time.Sleep(100 * time.Millisecond)

	apps, err := e.Apps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if apps[0].DeviceUID != "spk" {
		t.Fatalf("pinned app moved to %q on default change", apps[0].DeviceUID)
	}
}

func TestDisconnectFallsBackReconnectRestores(t *testing.T) {
	sim, store, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if err := e.Route(ctx, testApp.PID, "hp"); err != nil {
		t.Fatalf("route: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "hp" && !apps[0].Switching
	})

	sim.RemoveDevice("hp")
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "spk" && !apps[0].Switching
	})
	// the fallback is never persisted; the chosen device survives
	rec, err := store.Get(ctx, testApp.PersistKey)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DeviceUID != "hp" || rec.FollowsDefault {
		t.Fatalf("fallback was persisted: %+v", rec)
	}

	sim.AddDevice(platform.Device{UID: "hp", Name: "Headphones", Transport: platform.TransportUSB})
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "hp" && !apps[0].Switching
	})
}

func TestServiceRestartRebuildsTaps(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sim.TapCount() == 1 })

	sim.RestartService()
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return sim.TapCount() == 1 && len(apps) == 1 && !apps[0].Switching
	})
	before := sim.RenderedFrames("spk")
	waitFor(t, time.Second, func() bool {
		return sim.RenderedFrames("spk") > before
	})
}

func TestExitedProcessIsUntapped(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	sim.SetProcesses() // player exits

	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 0 && sim.TapCount() == 0
	})
}

func TestSuppressionWindowBlocksDefaultReroute(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if err := e.call(func() { e.suppressUntil = time.Now().Add(time.Hour) }); err != nil {
		t.Fatal(err)
	}

	sim.SetDefaultDevice("hp")
	time.Sleep(100 * time.Millisecond)
	apps, err := e.Apps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if apps[0].DeviceUID == "hp" {
		t.Fatal("default change rerouted during the suppression window")
	}

	// window over: the next notification moves it
	if err := e.call(func() { e.suppressUntil = time.Time{} }); err != nil {
		t.Fatal(err)
	}
	sim.SetDefaultDevice("hp")
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "hp" && !apps[0].Switching
	})
}

func TestBrokenTapIsRecreated(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sim.RenderedFrames("spk") > 0 })

	// callbacks keep firing but the tap delivers only empty buffers
	sim.SetTapSilent(testApp.PID, true)
	time.Sleep(3 * testConfig().HealthInterval)
	sim.SetTapSilent(testApp.PID, false)

	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "spk" && sim.TapCount() == 1
	})
	before := sim.RenderedFrames("spk")
	waitFor(t, time.Second, func() bool {
		return sim.RenderedFrames("spk") > before
	})
}

func TestSuppressionWindowBlocksDeviceReconcile(t *testing.T) {
	sim, _, e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Tap(ctx, testApp.PID); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if err := e.Route(ctx, testApp.PID, "hp"); err != nil {
		t.Fatalf("route: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "hp" && !apps[0].Switching
	})

	if err := e.call(func() { e.suppressUntil = time.Now().Add(time.Hour) }); err != nil {
		t.Fatal(err)
	}
	sim.RemoveDevice("hp")
	time.Sleep(100 * time.Millisecond)
	apps, err := e.Apps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if apps[0].DeviceUID != "hp" {
		t.Fatal("device removal reconciled during the suppression window")
	}

	// window over: the next list change notices the missing device
	if err := e.call(func() { e.suppressUntil = time.Time{} }); err != nil {
		t.Fatal(err)
	}
	sim.AddDevice(platform.Device{UID: "usb", Name: "DAC", Transport: platform.TransportUSB})
	waitFor(t, 2*time.Second, func() bool {
		apps, _ := e.Apps(ctx)
		return len(apps) == 1 && apps[0].DeviceUID == "spk" && !apps[0].Switching
	})
}

func TestRecreateResetsHealthBaseline(t *testing.T) {
	// drive the internals directly, with no run loop: recreating a stalled
	// tap must leave a zero baseline for the fresh pipeline's counters
	sim := platform.NewSimulator(
		platform.WithDevices(platform.Device{UID: "spk", Name: "Speakers", Transport: platform.TransportBuiltIn}),
		platform.WithApps(testApp),
	)
	sim.SetAppLevel(testApp.PID, 0.5)
	e := New(sim, testConfig(), settings.NewMemory(), nil, nil)
	e.defaultUID = "spk"
	ctx := context.Background()

	ctl := tap.NewController(sim, e.cfg, e.log, nil, testApp)
	if err := ctl.Activate(ctx, "spk"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ts := &tapState{ctl: ctl, key: testApp.PersistKey, rec: settings.DefaultRecord()}
	e.taps[testApp.PID] = ts

	for i := 0; i < 5; i++ {
		sim.Tick()
	}
	e.healthPass(ctx)
	if ts.prev.Callbacks == 0 {
		t.Fatal("baseline never captured")
	}

	// no ticks since the last pass: the counters are flat and the tap is
	// recreated as stalled
	e.healthPass(ctx)
	if ts.prev != (tap.Snapshot{}) {
		t.Fatalf("baseline after recreation = %+v, want zero snapshot", ts.prev)
	}
	if ctl.State() != tap.StateSteady {
		t.Fatalf("state = %v after recreation, want steady", ctl.State())
	}
}
