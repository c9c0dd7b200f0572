// Package tinfo tracks per-task scheduling/signaling state. The teacher's
// version locates "the current thread" via runtime.Gptr/Setgptr, calls into
// a runtime patched specifically for biscuit; those entry points do not
// exist in stock Go. Per the task-local-state design note in spec.md,
// Current identity is instead carried explicitly on a context.Context, the
// idiomatic stock-Go substitute: WithCurrent attaches a task's note to a
// ctx and Current pulls it back out, rather than reading a global. The
// proc and trap packages do not use a ctx; they pass the *proc.Task itself.
package tinfo

import (
	"context"
	"sync"

	"userproc/defs"
)

/// Tnote_t stores per-task state a lifecycle controller and syscall
/// dispatcher need to signal and observe: whether the task is alive, has
/// been asked to die, and (on the way out) the error a blocked syscall
/// should wake up to.
type Tnote_t struct {
	Alive    bool
	Killed   bool
	Isdoomed bool

	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the task is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

/// Threadinfo_t tracks every live task's note, keyed by tid.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

/// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type ctxKey struct{}

/// WithCurrent returns a context carrying n as the calling task's note, for
/// any blocking kernel operation to retrieve with Current.
func WithCurrent(ctx context.Context, n *Tnote_t) context.Context {
	if n == nil {
		panic("nuts")
	}
	return context.WithValue(ctx, ctxKey{}, n)
}

/// Current returns the task note carried by ctx. It panics if ctx carries
/// none, matching the teacher's "nuts" invariant: every kernel code path
/// that calls Current must run on behalf of some task.
func Current(ctx context.Context) *Tnote_t {
	n, ok := ctx.Value(ctxKey{}).(*Tnote_t)
	if !ok || n == nil {
		panic("nuts")
	}
	return n
}
