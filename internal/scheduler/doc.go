// Package scheduler is the playback timer's control loop.
//
// One goroutine (Run) owns the task list and every task's runtime state.
// Once per tick it evaluates each task against the wall clock and drives the
// player and the volume controller. Mutations (List, AddOrUpdate, Delete,
// Status) are queued to the same goroutine and applied between evaluation
// passes, so no lock guards task state.
//
// Fade-in ramps and player automation block for seconds; they run on spawned
// workers and report back through channels.
package scheduler
