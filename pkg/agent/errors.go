package agent

import "errors"

// ErrNotFound is returned when a non-URL input does not exist on disk.
var ErrNotFound = errors.New("agent: input not found")

// ErrUnsupportedType is returned when an input matches no supported
// extension set.
var ErrUnsupportedType = errors.New("agent: unsupported input type")

// ErrPagesMissing is returned when conversion reported success but no
// rendered page directory could be located.
var ErrPagesMissing = errors.New("agent: converted pages not found")
