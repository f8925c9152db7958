package store

import "errors"

var (
	// ErrNotFound is returned when a row doesn't exist or has expired (has TTL <= now).
	ErrNotFound = errors.New("canopy: document not found")

	// ErrAlreadyExists is returned when inserting a row with an existing ID.
	ErrAlreadyExists = errors.New("canopy: document already exists")

	// ErrConcurrentModification is returned when a conditional patch finds different values.
	ErrConcurrentModification = errors.New("canopy: document was modified concurrently")

	// ErrNotUnique is returned by Unique when more than one row matches.
	ErrNotUnique = errors.New("canopy: query matched more than one document")

	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
	ErrInvalidCursor = errors.New("canopy: invalid cursor")
)
