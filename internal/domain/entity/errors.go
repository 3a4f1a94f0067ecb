package entity

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-swap write loses to a concurrent change
	ErrConflict = errors.New("concurrent modification")
)
