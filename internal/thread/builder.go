package thread

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Builder collects a task's configuration. Nothing happens until Activate;
// a Builder that is never activated is inert and holds no runner resources.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	r *Runner

	name     string
	form     Form
	action   func(ctx context.Context) error
	function func(ctx context.Context) (any, error)
	delay    time.Duration

	onComplete func()
	onResult   func(any)
	onError    func(error)

	activated *Task
}

// Action starts a task whose work returns no value.
func (r *Runner) Action(work func(ctx context.Context) error) *Builder {
	return &Builder{r: r, form: FormAction, action: work}
}

// Function starts a task whose work produces a value, delivered through OnResult.
// Func[T] is the type-safe variant.
func (r *Runner) Function(work func(ctx context.Context) (any, error)) *Builder {
	return &Builder{r: r, form: FormFunction, function: work}
}

// Delay sets how long after activation the task becomes eligible to run.
// 0 runs it right away on the worker pool.
func (b *Builder) Delay(d time.Duration) *Builder {
	b.delay = d
	return b
}

// Name labels the task in logs and events.
func (b *Builder) Name(name string) *Builder {
	b.name = strings.TrimSpace(name)
	return b
}

// OnComplete is the success callback for Action tasks.
func (b *Builder) OnComplete(fn func()) *Builder {
	b.onComplete = fn
	return b
}

// OnResult is the success callback for Function tasks.
func (b *Builder) OnResult(fn func(v any)) *Builder {
	b.onResult = fn
	return b
}

func (b *Builder) OnError(fn func(err error)) *Builder {
	b.onError = fn
	return b
}

// Activate validates the configuration and hands the task to the runner.
// Configuration errors are reported here, never later on a worker.
func (b *Builder) Activate() (*Task, error) {
	if b == nil || b.r == nil {
		return nil, ErrNoRunner
	}
	if b.activated != nil {
		return b.activated, ErrAlreadyActivated
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	t := &Task{
		runner:     b.r,
		name:       b.name,
		form:       b.form,
		action:     b.action,
		function:   b.function,
		delay:      b.delay,
		onComplete: b.onComplete,
		onResult:   b.onResult,
		onError:    b.onError,
	}
	if err := b.r.activate(t); err != nil {
		return nil, err
	}
	b.activated = t
	return t, nil
}

func (b *Builder) validate() error {
	if b.delay < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeDelay, b.delay)
	}
	switch b.form {
	case FormAction:
		if b.action == nil {
			return ErrNilWork
		}
		if b.onResult != nil {
			return fmt.Errorf("%w: result callback on an action task", ErrCallbackMismatch)
		}
	case FormFunction:
		if b.function == nil {
			return ErrNilWork
		}
		if b.onComplete != nil {
			return fmt.Errorf("%w: plain completion callback on a function task", ErrCallbackMismatch)
		}
	default:
		return ErrUnsupportedForm
	}
	return nil
}

// Typed is a Function builder whose result callback is checked at compile time.
type Typed[T any] struct {
	b *Builder
}

// Func starts a result-producing task with a typed result callback.
func Func[T any](r *Runner, work func(ctx context.Context) (T, error)) *Typed[T] {
	if work == nil {
		return &Typed[T]{b: r.Function(nil)}
	}
	return &Typed[T]{b: r.Function(func(ctx context.Context) (any, error) {
		v, err := work(ctx)
		return v, err
	})}
}

func (t *Typed[T]) Delay(d time.Duration) *Typed[T] {
	t.b.Delay(d)
	return t
}

func (t *Typed[T]) Name(name string) *Typed[T] {
	t.b.Name(name)
	return t
}

func (t *Typed[T]) OnError(fn func(error)) *Typed[T] {
	t.b.OnError(fn)
	return t
}

func (t *Typed[T]) OnComplete(fn func(v T)) *Typed[T] {
	if fn == nil {
		t.b.OnResult(nil)
		return t
	}
	t.b.OnResult(func(v any) {
		tv, _ := v.(T)
		fn(tv)
	})
	return t
}

func (t *Typed[T]) Activate() (*Task, error) { return t.b.Activate() }
