package storage

import "errors"

var (
	// ErrInvalidConfig reports an event log configuration that fails Validate.
	ErrInvalidConfig = errors.New("invalid event log configuration")

	// ErrConnectionFailed wraps failures opening or pinging the database.
	ErrConnectionFailed = errors.New("event log connection failed")

	// ErrQueryFailed wraps failed reads and writes.
	ErrQueryFailed = errors.New("event log query failed")

	// ErrBufferFull means an event was dropped because the flush worker is behind.
	ErrBufferFull = errors.New("event buffer full")

	ErrClosed = errors.New("event log is closed")
)
