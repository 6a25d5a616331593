// Package settings persists per-application audio preferences: volume,
// mute, EQ, routing, and the follows-default flag. Records are keyed by the
// application's stable persist key, never by transient process ID, so
// preferences survive relaunches and reconnects.
//
// The package ships a BadgerDB-backed store for production and an in-memory
// store for tests.
package settings

import (
	"context"
	"errors"

	"github.com/tapmix/tapmix/dsp"
)

// ErrNotFound is returned when no record exists for an app key.
var ErrNotFound = errors.New("settings: not found")

// Record is the persisted state of one application.
type Record struct {
	Volume         float32               `msgpack:"volume"`
	Muted          bool                  `msgpack:"muted"`
	EQEnabled      bool                  `msgpack:"eq_enabled"`
	EQGains        [dsp.NumBands]float64 `msgpack:"eq_gains"`
	DeviceUID      string                `msgpack:"device_uid"`
	FollowsDefault bool                  `msgpack:"follows_default"`
}

// DefaultRecord returns the state a never-seen application starts with.
// DeviceUID is filled in by the engine with the current default output, so
// routing is always explicit.
func DefaultRecord() Record {
	return Record{Volume: 1, FollowsDefault: true}
}

// Store persists application records.
type Store interface {
	// Get returns the record for appKey, or ErrNotFound.
	Get(ctx context.Context, appKey string) (Record, error)
	// Set stores the record for appKey, overwriting any existing one.
	Set(ctx context.Context, appKey string, rec Record) error
	// Delete removes appKey. No error if absent.
	Delete(ctx context.Context, appKey string) error
	// All returns every stored record keyed by app key.
	All(ctx context.Context) (map[string]Record, error)
	// Close releases the store.
	Close() error
}
