package domain

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrOrgCapacity        = errors.New("organization connection limit reached")
	ErrCapacity           = errors.New("connection limit reached")
	ErrServiceStopped     = errors.New("broadcast service stopped")
	ErrUnknownEvent       = errors.New("unknown event type")
	ErrInvalidScope       = errors.New("invalid scope")
)
