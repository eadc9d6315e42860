package core

import "context"

// InputAdapter loads one source for pipeline processing.
type InputAdapter[T any] interface {
	Load(ctx context.Context) (T, error)
	// Name identifies the source in logs and errors.
	Name() string
}

// OutputAdapter persists a value produced by pipeline processing.
type OutputAdapter[T any] interface {
	Store(ctx context.Context, v T) error
	Name() string
}

// StoreFunc adapts a function to the OutputAdapter interface.
type StoreFunc[T any] struct {
	Label string
	Fn    func(ctx context.Context, v T) error
}

func (s StoreFunc[T]) Store(ctx context.Context, v T) error { return s.Fn(ctx, v) }

func (s StoreFunc[T]) Name() string { return s.Label }

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable, but at most MaxRetries extra times regardless
// of the worker's configured budget.
type LimitedTransientError struct {
	Err        error
	MaxRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil {
		return 0
	}
	return e.MaxRetries
}
