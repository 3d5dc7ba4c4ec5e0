package models

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind classifies a failure so callers can decide whether to retry,
// skip a brand, skip a metric or abort the run.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindAuth        ErrorKind = "auth"
	KindSchema      ErrorKind = "schema"
	KindComputation ErrorKind = "computation"
	KindConfig      ErrorKind = "config"
)

type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsFailure returns err as a *Failure, tagging plain errors with kind.
func AsFailure(err error, kind ErrorKind) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: kind, Message: err.Error()}
}

// Result is the tagged outcome of an adapter call: either Success with Data
// or Error with a classified Failure. Adapters return it instead of a bare error.
type Result[T any] struct {
	Status Status
	Data   T
	Err    *Failure
}

func Success[T any](data T) Result[T] {
	return Result[T]{Status: StatusSuccess, Data: data}
}

func Fail[T any](kind ErrorKind, format string, args ...any) Result[T] {
	return Result[T]{Status: StatusError, Err: NewFailure(kind, format, args...)}
}

func FailWith[T any](err error, kind ErrorKind) Result[T] {
	return Result[T]{Status: StatusError, Err: AsFailure(err, kind)}
}

// OK reports an explicit success status. A zero Result is not OK.
func (r Result[T]) OK() bool {
	return r.Status == StatusSuccess
}

// Unwrap converts the result back to Go's (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.OK() {
		return r.Data, nil
	}
	var zero T
	if r.Err == nil {
		return zero, NewFailure(KindComputation, "result has no status")
	}
	return zero, r.Err
}
