// Package platform defines the boundary to the OS audio subsystem: process
// taps, aggregate (mixing) devices, IO callbacks, device properties, and
// change notifications.
//
// The interfaces in this package are implemented by a thin CoreAudio binding
// in production. The in-repo Simulator implements the same surface entirely
// in memory and is what the tests and the demo CLI run against.
package platform
