package tiptree

import "errors"

var (
	// ErrNotFound is returned (wrapped) when a block is not present in the Persist.
	ErrNotFound = errors.New("block not found")
	// ErrCodec indicates bytes that could not be decoded as a block, or that
	// don't hash to the name they were loaded by.
	ErrCodec = errors.New("malformed block")
	// ErrUnsupportedValue is returned before anything is stored, when a value
	// can't be represented.
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrNotHead is returned when appending a revision that wasn't derived from
	// the head of a history.
	ErrNotHead = errors.New("previous tip is not the head of the history")
	// ErrUnknownTip is returned when a tip isn't part of a tree's history.
	ErrUnknownTip = errors.New("tip is not in the history")
	// ErrNoPersist is returned when a Store is configured without a Persist.
	ErrNoPersist = errors.New("no persistence mechanism set; set Config.StoreImmutablePartsWith")
)

// IsNotFound tells whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
