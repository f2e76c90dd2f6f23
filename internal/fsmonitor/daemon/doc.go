// Package daemon runs the filesystem monitor: a single listener
// goroutine consuming kernel events, an IPC worker pool answering
// client queries, and the controller that wires them to the shared
// token state.
//
// # Lifecycle
//
// Run follows a fixed boot order: the platform watch resources are
// created first (so boot fails before any goroutine exists if the
// watcher cannot be set up), the IPC server starts before the
// listener (so the endpoint is live before the first event is
// posted), and Run then blocks until the server shuts down, whether
// from a client quit or a fatal error. The listener is stopped and
// joined afterwards, and every resource is released before Run
// returns.
//
// # Concurrency
//
// All shared state (the current token data, its batch chain, the
// client reference count, and the error slot) is guarded by one
// coarse mutex. Query workers freeze the head batch and take a chain
// reference under the lock, then serialize their response with the
// lock released, so a concurrent resync never waits on a slow client.
package daemon
