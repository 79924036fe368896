package db

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned for work submitted after Close.
	ErrQueueClosed = errors.New("db queue closed")
)
