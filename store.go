package tiptree

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Store applies writes to, and resolves paths in, trees whose nodes live
// in a Persist. A Store holds no per-tree state; any number of trees and
// goroutines can share one.
type Store struct {
	persist        Persist
	nodeCache      NodeCache
	maxInlineBytes int
	maxInlineDepth int
	concurrency    int
	log            *zap.Logger
}

// NewStore makes a Store from the given configuration.
func NewStore(cfg Config) (*Store, error) {
	if cfg.StoreImmutablePartsWith == nil {
		return nil, ErrNoPersist
	}
	s := Store{
		persist:        cfg.StoreImmutablePartsWith,
		nodeCache:      cfg.NodeCache,
		maxInlineBytes: cfg.MaxInlineBytes,
		maxInlineDepth: cfg.MaxInlineDepth,
		concurrency:    cfg.StoreConcurrency,
		log:            cfg.Log,
	}
	if s.maxInlineBytes <= 0 {
		s.maxInlineBytes = DefaultMaxInlineBytes
	}
	if s.maxInlineDepth < 0 {
		s.maxInlineDepth = 0
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultStoreConcurrency
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return &s, nil
}

func (s *Store) rootNode(ctx context.Context, tip Tip) (Node, error) {
	if !tip.Defined() {
		return Node{}, nil
	}
	node, err := s.loadNode(ctx, tip.Link())
	if err != nil {
		return Node{}, fmt.Errorf("load root: %w", err)
	}
	return node, nil
}

// Resolve returns the value at path in the revision identified by tip.
// Links met along the way are followed; the value found is returned with
// any links inside it left as Links. If the path leads through something
// that isn't a map, or to a key that isn't present, Resolve returns false
// and no error.
func (s *Store) Resolve(ctx context.Context, tip Tip, path string) (Value, bool, error) {
	segments := SplitPath(path)
	root, err := s.rootNode(ctx, tip)
	if err != nil {
		return nil, false, err
	}
	rootMap := root.entries
	if rootMap == nil {
		rootMap = Map{}
	}
	var cur Value = rootMap
	for i, segment := range segments {
		m, ok := cur.(Map)
		if !ok {
			s.log.Debug("resolve reached a leaf", zap.Stringer("tip", tip), zap.String("path", path), zap.Int("depth", i))
			return nil, false, nil
		}
		next, ok := m[segment]
		if !ok {
			return nil, false, nil
		}
		if l, ok := next.(Link); ok {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			node, err := s.loadNode(ctx, l)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", JoinPath(segments[:i+1]), err)
			}
			next = node.entries
		}
		cur = next
	}
	return clone(cur), true, nil
}

// Load returns the entries of the node a link refers to.
func (s *Store) Load(ctx context.Context, l Link) (Map, error) {
	node, err := s.loadNode(ctx, l)
	if err != nil {
		return nil, err
	}
	return node.Map(), nil
}

// Expand replaces every Link inside v with the contents of the node it
// refers to, recursively.
func (s *Store) Expand(ctx context.Context, v Value) (Value, error) {
	switch tv := v.(type) {
	case Link:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, err := s.loadNode(ctx, tv)
		if err != nil {
			return nil, err
		}
		return s.Expand(ctx, node.entries)
	case Map:
		m := make(Map, len(tv))
		for k, e := range tv {
			ev, err := s.Expand(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = ev
		}
		return m, nil
	case Seq:
		seq := make(Seq, len(tv))
		for i, e := range tv {
			ev, err := s.Expand(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq[i] = ev
		}
		return seq, nil
	}
	return v, nil
}
