package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the task buffer of a Loop created with size <= 0
const DefaultQueueSize = 256

// ErrStopped is returned when work is submitted to a loop that is no longer running
var ErrStopped = errors.New("event loop stopped")

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine labelled with name for pprof and GoroutineName.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GoroutineName retrieves the name given to Go from the context.
func GoroutineName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Timer is a cancellable single-shot task.
type Timer interface {
	// Stop prevents the task from running. It reports whether the call
	// stopped the task, false if it already ran or was stopped before.
	Stop() bool
}

// Scheduler schedules a task to run on the loop after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop executes posted tasks one at a time on a single goroutine.
//
// Everything that touches sessions (transport completions, timer firings and
// user commands) goes through the loop, so no two state transitions ever race.
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	running atomic.Bool
	stopped atomic.Bool
	once    sync.Once
	logger  *logrus.Logger
}

// New creates a loop with the given queue size
func New(size int, logger *logrus.Logger) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes tasks until ctx is cancelled. It must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("event loop already running")
	}
	defer l.once.Do(func() {
		l.stopped.Store(true)
		close(l.done)
	})

	l.logger.Debug("Event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.WithField("pending", len(l.tasks)).Debug("Event loop stopped")
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Start runs the loop on its own named goroutine.
func (l *Loop) Start(ctx context.Context) {
	Go(ctx, "event-loop", func(ctx context.Context) {
		_ = l.Run(ctx)
	})
}

// Done is closed once Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Event loop task panicked")
		}
	}()
	fn()
}

// Post queues fn for execution on the loop. It blocks while the queue is
// full and returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if l.stopped.Load() {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules fn on the loop after d. A Stop issued from the loop
// suppresses fn even when the underlying timer has already fired and its
// task is waiting in the queue.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

type loopTimer struct {
	timer *time.Timer
	fired atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.fired.CompareAndSwap(false, true)
}
