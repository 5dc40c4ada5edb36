package osc

import "errors"

var (
	ErrDuplicateRoute = errors.New("route already registered")
	ErrUnknownRoute   = errors.New("unknown route")
	ErrDecode         = errors.New("argument decode failed")
	ErrClosed         = errors.New("dispatcher closed")
)
