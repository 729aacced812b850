// Package funnel turns bursty file-change events into debounced, bounded
// sync work. Each path moves through a small state machine (idle, pending,
// firing) so that a flurry of writes to one file produces exactly one sync
// once the file has gone quiet.
package funnel

import (
	"context"
	"sync"
	"time"

	"github.com/kagelab/kioku/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Syncer receives the funnel's output: one Sync per settled change burst,
// one Remove per deletion.
type Syncer interface {
	Sync(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

type pathState int

const (
	stateIdle pathState = iota
	statePending
	stateFiring
)

type pathEntry struct {
	state pathState
	timer *time.Timer
	gen   uint64 // bumped on every arm; stale timer callbacks bail
	rearm bool   // an event arrived while firing; re-enter pending afterwards
}

// Funnel debounces create/modify events per path and dispatches work to a
// bounded worker pool. Deletions bypass the debounce window entirely.
type Funnel struct {
	syncer   Syncer
	debounce time.Duration
	sem      *semaphore.Weighted
	excluded func(string) bool
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*pathEntry
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Funnel.
type Option func(*Funnel)

// WithLogger sets a logger for dispatch events and worker errors.
func WithLogger(l *zap.Logger) Option {
	return func(f *Funnel) { f.logger = l }
}

// WithExclusion installs a predicate; events whose path matches are dropped
// before they reach the state machine.
func WithExclusion(fn func(string) bool) Option {
	return func(f *Funnel) { f.excluded = fn }
}

// New creates a funnel dispatching to syncer after debounce of quiet time,
// with at most workers concurrent sync/remove calls.
func New(syncer Syncer, debounce time.Duration, workers int, opts ...Option) *Funnel {
	if workers < 1 {
		workers = 1
	}
	f := &Funnel{
		syncer:   syncer,
		debounce: debounce,
		sem:      semaphore.NewWeighted(int64(workers)),
		entries:  make(map[string]*pathEntry),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run consumes events until the channel closes or ctx is canceled. It blocks;
// call it from its own goroutine and use Stop to drain in-flight work.
func (f *Funnel) Run(ctx context.Context, events <-chan notify.Event) {
	f.mu.Lock()
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.handle(ev)
		case <-f.ctx.Done():
			return
		}
	}
}

// Stop cancels pending timers, stops accepting dispatches, and waits for
// in-flight workers to finish.
func (f *Funnel) Stop() {
	f.mu.Lock()
	f.stopped = true
	if f.cancel != nil {
		f.cancel()
	}
	for path, e := range f.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(f.entries, path)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Funnel) handle(ev notify.Event) {
	if f.excluded != nil && f.excluded(ev.Path) {
		f.logger.Debug("event excluded", zap.String("path", ev.Path), zap.Stringer("op", ev.Op))
		return
	}
	if ev.Op == notify.Deleted {
		f.handleDelete(ev.Path)
		return
	}
	f.handleChange(ev.Path)
}

// handleChange arms or re-arms the per-path debounce timer.
func (f *Funnel) handleChange(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	e, ok := f.entries[path]
	if !ok {
		e = &pathEntry{}
		f.entries[path] = e
	}
	switch e.state {
	case stateIdle, statePending:
		f.armLocked(path, e)
	case stateFiring:
		e.rearm = true
	}
}

// armLocked puts e into pending and schedules a fresh timer. A timer that
// already expired may have a fire callback blocked on f.mu; bumping the
// generation makes that callback a no-op so the quiet period restarts cleanly.
func (f *Funnel) armLocked(path string, e *pathEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = statePending
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(f.debounce, func() { f.fire(path, gen) })
}

// handleDelete cancels any pending sync and dispatches the removal
// immediately; a vanished file has nothing to wait for.
func (f *Funnel) handleDelete(path string) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if e, ok := f.entries[path]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(f.entries, path)
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		if err := f.sem.Acquire(f.ctx, 1); err != nil {
			return
		}
		defer f.sem.Release(1)
		if err := f.syncer.Remove(f.ctx, path); err != nil {
			f.logger.Warn("remove failed", zap.String("path", path), zap.Error(err))
		}
	}()
}

// fire runs when a path's debounce timer expires: the path transitions to
// firing and a worker performs the sync. Events that arrive mid-sync send the
// path back to pending once the worker finishes.
func (f *Funnel) fire(path string, gen uint64) {
	f.mu.Lock()
	e, ok := f.entries[path]
	if !ok || e.state != statePending || e.gen != gen || f.stopped {
		f.mu.Unlock()
		return
	}
	e.state = stateFiring
	e.timer = nil
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		if err := f.sem.Acquire(f.ctx, 1); err != nil {
			f.settle(path)
			return
		}
		if err := f.syncer.Sync(f.ctx, path); err != nil {
			f.logger.Warn("sync failed", zap.String("path", path), zap.Error(err))
		}
		f.sem.Release(1)
		f.settle(path)
	}()
}

// settle moves a path out of firing: back to pending when events arrived
// during the sync, otherwise to idle.
func (f *Funnel) settle(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[path]
	if !ok {
		return
	}
	if e.rearm && !f.stopped {
		e.rearm = false
		f.armLocked(path, e)
		return
	}
	delete(f.entries, path)
}
