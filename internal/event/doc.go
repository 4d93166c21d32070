// Package event provides the named hook bus that carries lifecycle and
// message events between plugins.
//
// Listeners are registered by event name and invoked in one of three
// modes:
//
//   - Parallel (and its alias Emit) runs every listener concurrently and
//     waits for all of them. Failures are logged and never propagate.
//   - Serial runs listeners in order and stops at the first error.
//   - Bail runs listeners in order and returns the first truthy result.
//
// Registration order is preserved, except that hooks added with
// WithPrepend run before all others (latest prepend first). Hooks added
// with WithFilter are skipped when their predicate rejects the emitted
// arguments; the core uses this to scope listeners to a selector.
//
// Every emission iterates a snapshot, so a listener may cancel itself or
// register new hooks without affecting the emission in progress.
package event
