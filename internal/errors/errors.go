package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeOutOfRange         = Code(codes.OutOfRange)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeOutOfRange:         http.StatusBadRequest,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Kinds of failure in the quiz-taking flow. They are carried as the cause of an
// *Error so callers can match them with errors.Is.
var (
	ErrInvalidQuizData        = errors.New("invalid quiz data")
	ErrIndexOutOfRange        = errors.New("index out of range")
	ErrNotActive              = errors.New("attempt is not active")
	ErrConfirmationRequired   = errors.New("unanswered questions require confirmation")
	ErrSubmissionFailed       = errors.New("submission failed")
	ErrReconciliationDegraded = errors.New("reconciliation degraded")
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
}

// InvalidQuizData is fatal to an attempt: the quiz cannot be taken at all.
func InvalidQuizData(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...), WithCause(ErrInvalidQuizData))
}

func IndexOutOfRange(format string, args ...any) *Error {
	return New(CodeOutOfRange, WithMessagef(format, args...), WithCause(ErrIndexOutOfRange))
}

func NotActive(format string, args ...any) *Error {
	return New(CodeFailedPrecondition, WithMessagef(format, args...), WithCause(ErrNotActive))
}

func ConfirmationRequired(unanswered int) *Error {
	return New(CodeFailedPrecondition,
		WithMessagef("%d unanswered question(s), confirm to submit", unanswered),
		WithCause(ErrConfirmationRequired),
	)
}

// SubmissionFailed wraps a gateway failure. It is recoverable: the attempt is
// back in the active state and the user may submit again.
func SubmissionFailed(err error) *Error {
	return New(CodeUnavailable,
		WithMessagef("submit attempt failed, please retry"),
		WithCause(fmt.Errorf("%w: %w", ErrSubmissionFailed, err)),
	)
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
