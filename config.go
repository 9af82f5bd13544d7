package tiptree

import "go.uber.org/zap"

const (
	// DefaultMaxInlineBytes is the encoded size above which a map is moved
	// into its own block, if not overridden by Config.MaxInlineBytes.
	DefaultMaxInlineBytes = 512
	// DefaultStoreConcurrency is how many blocks are stored at once when
	// a write is flushed.
	DefaultStoreConcurrency = 40
)

// Config controls how a Store persists and loads nodes.
type Config struct {
	// StoreImmutablePartsWith is used to store and load blocks.
	StoreImmutablePartsWith Persist

	// NodeCache caches deserialized nodes and may be shared across multiple
	// stores that use the same Persist.
	NodeCache NodeCache

	// MaxInlineBytes is the largest encoded size a map may have and still be
	// kept inside its parent's block. 0 means DefaultMaxInlineBytes.
	MaxInlineBytes int

	// MaxInlineDepth is how deeply maps may nest inside one block before
	// being moved into their own. 0 means no limit.
	MaxInlineDepth int

	// StoreConcurrency bounds parallel Persist.Store calls. 0 means
	// DefaultStoreConcurrency.
	StoreConcurrency int

	// Log receives debug output. Defaults to a no-op logger.
	Log *zap.Logger
}
