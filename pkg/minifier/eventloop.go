package minifier

import (
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// eventLoop queues timer callbacks for the goroutine that owns the engine.
// Timers fire on their own goroutines but only enqueue; every callback runs on the
// owner while it waits for a deferred result, so the runtime is never entered concurrently.
type eventLoop struct {
	tasks   chan func()
	closed  chan struct{}
	once    sync.Once
	pending int // owner goroutine only
	timers  map[*timeout]struct{}
	err     error // first callback exception not yet taken
}

type timeout struct {
	loop      *eventLoop
	timer     *time.Timer
	cancelled bool
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		tasks:  make(chan func(), 16),
		closed: make(chan struct{}),
		timers: make(map[*timeout]struct{}),
	}
}

// Pending reports the number of timers that have not run or been cleared.
func (l *eventLoop) Pending() int {
	return l.pending
}

// TakeErr returns and clears the first exception thrown by a timer callback.
func (l *eventLoop) TakeErr() error {
	err := l.err
	l.err = nil
	return err
}

// Tasks is drained by the owner goroutine.
func (l *eventLoop) Tasks() <-chan func() {
	return l.tasks
}

func (l *eventLoop) enqueue(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.closed:
	}
}

// cancel marks t as done; it reports false if t already ran or was cleared.
func (t *timeout) cancel() bool {
	if t.cancelled {
		return false
	}
	t.cancelled = true
	t.loop.pending--
	delete(t.loop.timers, t)
	return true
}

func (l *eventLoop) setTimeout(call goja.FunctionCall) (*timeout, error) {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return nil, errors.New("invalid argument callback, not a function")
	}

	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	var params []goja.Value
	if len(call.Arguments) > 2 {
		params = append(params, call.Arguments[2:]...)
	}

	t := &timeout{loop: l}
	l.pending++
	l.timers[t] = struct{}{}
	t.timer = time.AfterFunc(delay, func() {
		l.enqueue(func() {
			if !t.cancel() {
				return
			}
			if _, err := fn(goja.Undefined(), params...); err != nil && l.err == nil {
				l.err = err
			}
		})
	})

	return t, nil
}

func (l *eventLoop) clearTimeout(t *timeout) {
	if t != nil && t.cancel() {
		t.timer.Stop()
	}
}

// install registers setTimeout and clearTimeout on vm.
func (l *eventLoop) install(vm *goja.Runtime) error {
	if err := vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		t, err := l.setTimeout(call)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(t)
	}); err != nil {
		return err
	}

	return vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		if t, ok := call.Argument(0).Export().(*timeout); ok {
			l.clearTimeout(t)
		}
		return goja.Undefined()
	})
}

// Close stops every timer and releases goroutines blocked on enqueue. Safe to call twice.
func (l *eventLoop) Close() {
	l.once.Do(func() {
		for t := range l.timers {
			t.timer.Stop()
		}
		l.timers = nil
		l.pending = 0
		close(l.closed)
	})
}
