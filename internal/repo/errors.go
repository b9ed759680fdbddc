package repo

import "errors"

// ErrNotFound is returned when a lookup or update matches no row.
var ErrNotFound = errors.New("not found")
