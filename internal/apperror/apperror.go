package apperror

import (
	"errors"
	"net/http"
)

type Code string

const (
	BadRequest  Code = "BAD_REQUEST"
	NotFound    Code = "NOT_FOUND"
	Internal    Code = "INTERNAL"
	Conflict    Code = "CONFLICT"
	Unavailable Code = "UNAVAILABLE"
)

type AppError struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap returns an AppError that keeps err reachable through errors.Is/As.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{code: code, message: message, cause: err}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *AppError) Unwrap() error   { return e.cause }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
