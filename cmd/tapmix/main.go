// Package main provides the tapmix CLI.
//
// Usage:
//
//	tapmix [flags] <command> [args]
//
// Commands:
//
//	run      - Run the routing engine with a live status view
//	devices  - List output devices
//	apps     - List audio-producing applications and their routing
//	route    - Persist a device route for an application
//	volume   - Persist a volume for an application
//	mute     - Persist the mute flag for an application
//	status   - Show engine status
//
// Persisted settings live in the per-user settings database and are applied
// whenever the engine routes the matching application.
package main

import (
	"fmt"
	"os"

	"github.com/tapmix/tapmix/cmd/tapmix/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
