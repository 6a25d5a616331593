package settings

import (
	"context"
	"errors"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	bs, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() { bs.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"badger": bs,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Get(ctx, "com.example.player"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
			}

			rec := DefaultRecord()
			rec.Volume = 0.75
			rec.Muted = true
			rec.EQEnabled = true
			rec.EQGains[3] = -4.5
			rec.DeviceUID = "uid-headphones"
			rec.FollowsDefault = false

			if err := store.Set(ctx, "com.example.player", rec); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := store.Get(ctx, "com.example.player")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != rec {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, rec)
			}

			if err := store.Delete(ctx, "com.example.player"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Get(ctx, "com.example.player"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
			}
			// deleting again is not an error
			if err := store.Delete(ctx, "com.example.player"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestStoreAll(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := map[string]Record{}
			for _, key := range []string{"com.a", "com.b", "com.c"} {
				rec := DefaultRecord()
				rec.DeviceUID = "dev-" + key
				if err := store.Set(ctx, key, rec); err != nil {
					t.Fatalf("Set %s: %v", key, err)
				}
				want[key] = rec
			}
			got, err := store.All(ctx)
			if err != nil {
				t.Fatalf("All: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("All returned %d records, want %d", len(got), len(want))
			}
			for k, rec := range want {
				if got[k] != rec {
					t.Errorf("record %s mismatch:\n got  %+v\n want %+v", k, got[k], rec)
				}
			}
		})
	}
}

func TestDefaultRecord(t *testing.T) {
	rec := DefaultRecord()
	if rec.Volume != 1 {
		t.Errorf("default volume = %v, want 1", rec.Volume)
	}
	if !rec.FollowsDefault {
		t.Error("default record must follow the default device")
	}
	if rec.Muted || rec.EQEnabled {
		t.Error("default record must start unmuted with EQ off")
	}
}
