package store

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmptyURI is returned when a reference operation receives a blank URI.
var ErrEmptyURI = errors.New("empty uri")

// ErrInvalidTransition is returned when a notification status update would
// move backward or sideways out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")
