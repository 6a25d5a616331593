// Package tap owns one application's capture/render pipeline: the process
// tap, the private mixing group, the real-time render callback, and the
// orchestration that activates, switches, and invalidates those resources.
//
// Two execution contexts meet here. Orchestration (the routing engine's run
// loop plus per-switch goroutines) mutates controller state and performs OS
// resource calls. The render callback runs on a high-priority OS thread at
// fixed cadence and must never block, allocate, or lock; it exchanges data
// with orchestration exclusively through single-writer atomic scalar cells.
// Each cell's writer is documented where it is declared.
package tap
