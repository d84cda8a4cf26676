// Package result holds the tagged outcome of a single unit of work: a
// success carrying a value, a failure carrying an error, or a cancellation.
package result

import (
	"time"

	"github.com/google/uuid"
)

type Result[T any] struct {
	id        uuid.UUID
	createdAt time.Time
	value     T
	err       error
	isSuccess bool
	isCancel  bool
}

func Success[T any](v T) Result[T] {
	return Result[T]{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		value:     v,
		isSuccess: true,
	}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		err:       err,
	}
}

func Cancel[T any](err error) Result[T] {
	return Result[T]{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		err:       err,
		isCancel:  true,
	}
}

// Value returns the successful value, or the zero value otherwise.
func (r Result[T]) Value() T {
	return r.value
}

func (r Result[T]) Err() error {
	return r.err
}

func (r Result[T]) IsSuccess() bool {
	return r.isSuccess
}

func (r Result[T]) IsCancel() bool {
	return r.isCancel
}

// IsFailure is true for failures that are not cancellations.
func (r Result[T]) IsFailure() bool {
	return !r.isSuccess && !r.isCancel && r.err != nil
}

func (r Result[T]) CreatedAt() time.Time {
	return r.createdAt
}

func (r Result[T]) ID() uuid.UUID {
	return r.id
}

// Match dispatches on the variant. Nil handlers are skipped.
func Match[T, U any](r Result[T], onSuccess func(T) U, onFailure func(error) U, onCancel func(error) U) U {
	var zero U
	switch {
	case r.isSuccess:
		if onSuccess != nil {
			return onSuccess(r.value)
		}
	case r.isCancel:
		if onCancel != nil {
			return onCancel(r.err)
		}
	default:
		if onFailure != nil {
			return onFailure(r.err)
		}
	}
	return zero
}
