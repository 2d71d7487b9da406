// Package interrupt implements the Deadline Interrupter: an asynchronous
// abort armed one second before the FaaS platform's invocation deadline,
// so the in-flight request has time to unwind and produce a structured
// error response before the platform kills the sandbox without recovery.
//
// The source this design generalizes from relies on a POSIX alarm
// delivering an asynchronous signal into blocked I/O. Go's cooperative
// cancellation — a context.Context threaded down to the blocking read —
// gets the same effect without a signal handler, and composes with
// net.Conn.Close() to unblock a read that's already in flight.
package interrupt

import (
	"context"
	"sync"
	"time"

	"github.com/faas-bridge/fpm-bridge/bridgeerrors"
)

// margin is how far ahead of the platform deadline the interrupter fires.
const margin = 1 * time.Second

// Interrupter is owned by the Handler Facade as a single instance for the
// lifetime of the process — not per-request — mirroring the design note
// that signal-handler-style setup must happen exactly once per process.
// Enable/Reset are what make it safe across many requests: each Enable
// replaces whatever the previous request left armed, and Reset before the
// next Enable guarantees no stale fire bleeds forward.
type Interrupter struct {
	mu             sync.Mutex
	timer          *time.Timer
	cancel         context.CancelFunc
	workerAttached func() bool
}

// New returns an Interrupter. workerAttached reports whether there is
// currently a worker this invocation could be cancelling a request against;
// Enable fails with ErrInterrupterUnavailable when it returns false.
func New(workerAttached func() bool) *Interrupter {
	return &Interrupter{workerAttached: workerAttached}
}

// Enable arms a one-shot abort at max(1, floor(remainingMs/1000)-1) seconds
// from now, and returns a context that is cancelled when it fires. The
// caller threads this context down to the blocking transport read.
func (in *Interrupter) Enable(remainingMs int64) (context.Context, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.workerAttached != nil && !in.workerAttached() {
		return nil, bridgeerrors.ErrInterrupterUnavailable
	}

	// A previous request's timer should never still be armed here -
	// handleRequest always calls Reset on every return path - but if one
	// somehow is, its context is stale (nobody is reading it any more) and
	// must be force-cancelled and cleared before arming the new one.
	in.preemptLocked()

	ctx, cancel := context.WithCancel(context.Background())
	in.cancel = cancel
	in.timer = time.AfterFunc(delayFor(remainingMs), func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		cancel()
		in.timer = nil
		in.cancel = nil
	})
	return ctx, nil
}

// delayFor computes max(1, floor(remainingMs/1000) - 1) seconds.
func delayFor(remainingMs int64) time.Duration {
	seconds := remainingMs/1000 - 1
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// Reset disarms the timer for the request that just finished. It stops the
// timer before it can fire but deliberately does not call the stored
// cancel func: the context was already handed to (and used by) the request
// that just completed successfully, and cancelling it now would signal an
// abort for a request that never timed out. Idempotent, and safe to call
// whether or not Enable ever fired — handleRequest calls it unconditionally
// on every return path.
func (in *Interrupter) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
	in.cancel = nil
}

// preemptLocked force-cancels and clears a timer/context left armed by a
// prior Enable. Only called from Enable, never from Reset: by the time a
// new Enable runs, any previously armed context is stale by construction.
func (in *Interrupter) preemptLocked() {
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
	if in.cancel != nil {
		in.cancel()
		in.cancel = nil
	}
}
