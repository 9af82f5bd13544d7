package tiptree

import "context"

// Persist is the interface for loading and storing blocks. The name a
// block is stored under is the string form of its content identifier, so
// the content for a name never changes, and storing a name that is already
// present must succeed without effect.
type Persist interface {
	// Store makes the given bytes accessible by the given name.
	Store(context.Context, string, []byte) error
	// Load retrieves the previously-stored bytes by the given name. Names that
	// were never stored result in an error wrapping ErrNotFound.
	Load(context.Context, string) ([]byte, error)
}
