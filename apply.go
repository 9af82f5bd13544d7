package tiptree

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Apply writes v at path in the revision identified by prev, and returns
// the tip of the resulting revision. Nodes along the path are rewritten;
// everything else is shared with prev. Intermediate nodes that don't exist
// yet, or that hold something other than a map, are replaced by new nodes.
//
// Writing to the root path replaces the whole tree, so v must be a Map.
//
// Nothing is stored unless the whole new revision could be encoded, and
// no tip is returned unless every new block was stored.
func (s *Store) Apply(ctx context.Context, prev Tip, path string, v Value) (Tip, error) {
	if err := validate(v, 0); err != nil {
		return Tip{}, err
	}
	segments := SplitPath(path)
	b := newBatch()
	var root Map
	if len(segments) == 0 {
		m, ok := v.(Map)
		if !ok {
			return Tip{}, fmt.Errorf("%w: root must be a map, not %s", ErrUnsupportedValue, v.Kind())
		}
		placed, err := s.placeMap(b, m, 0)
		if err != nil {
			return Tip{}, err
		}
		root = placed
	} else {
		node, err := s.rootNode(ctx, prev)
		if err != nil {
			return Tip{}, err
		}
		node, err = s.setIn(ctx, b, node, segments, v, 0)
		if err != nil {
			return Tip{}, err
		}
		root = node.entries
	}
	l, err := b.add(root)
	if err != nil {
		return Tip{}, err
	}
	if err := s.flush(ctx, b); err != nil {
		return Tip{}, fmt.Errorf("flush: %w", err)
	}
	tip := Tip{l.Cid}
	s.log.Debug("applied",
		zap.Stringer("prev", prev),
		zap.String("path", JoinPath(segments)),
		zap.Stringer("tip", tip),
		zap.Int("blocks", len(b.order)))
	return tip, nil
}

// setIn returns node with v written at the path given by segments. depth
// is how deeply node is nested among the maps of its block.
func (s *Store) setIn(ctx context.Context, b *batch, node Node, segments []string, v Value, depth int) (Node, error) {
	key := segments[0]
	if len(segments) == 1 {
		placed, err := s.placeValue(b, v, depth+1)
		if err != nil {
			return Node{}, err
		}
		return node.Set(key, placed), nil
	}
	child, _ := node.Get(key)
	switch tc := child.(type) {
	case Link:
		if err := ctx.Err(); err != nil {
			return Node{}, err
		}
		childNode, err := s.loadNode(ctx, tc)
		if err != nil {
			return Node{}, fmt.Errorf("%s: %w", key, err)
		}
		updated, err := s.setIn(ctx, b, childNode, segments[1:], v, 0)
		if err != nil {
			return Node{}, fmt.Errorf("%s: %w", key, err)
		}
		l, err := b.add(updated.entries)
		if err != nil {
			return Node{}, err
		}
		return node.Set(key, l), nil
	case Map:
		childDepth := depth + 1
		innerDepth := childDepth
		if s.tooDeep(childDepth) {
			innerDepth = 0
		}
		updated, err := s.setIn(ctx, b, Node{tc}, segments[1:], v, innerDepth)
		if err != nil {
			return Node{}, fmt.Errorf("%s: %w", key, err)
		}
		settled, err := s.settle(b, updated.entries, childDepth)
		if err != nil {
			return Node{}, err
		}
		return node.Set(key, settled), nil
	}
	updated, err := s.setIn(ctx, b, Node{}, segments[1:], v, 0)
	if err != nil {
		return Node{}, fmt.Errorf("%s: %w", key, err)
	}
	l, err := b.add(updated.entries)
	if err != nil {
		return Node{}, err
	}
	return node.Set(key, l), nil
}

// placeValue returns v with every map inside it either kept inline or
// replaced by a link to its own block. Maps are placed bottom-up, so a
// map's size is judged after its own children have been placed.
func (s *Store) placeValue(b *batch, v Value, depth int) (Value, error) {
	switch tv := v.(type) {
	case Map:
		innerDepth := depth
		if s.tooDeep(depth) {
			innerDepth = 0
		}
		placed, err := s.placeMap(b, tv, innerDepth)
		if err != nil {
			return nil, err
		}
		return s.settle(b, placed, depth)
	case Seq:
		seq := make(Seq, len(tv))
		for i, e := range tv {
			pe, err := s.placeValue(b, e, depth)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq[i] = pe
		}
		return seq, nil
	}
	return v, nil
}

func (s *Store) placeMap(b *batch, m Map, depth int) (Map, error) {
	placed := make(Map, len(m))
	for k, e := range m {
		pe, err := s.placeValue(b, e, depth+1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		placed[k] = pe
	}
	return placed, nil
}

// settle moves m into its own block if it is nested too deeply, or
// encodes larger than maxInlineBytes.
func (s *Store) settle(b *batch, m Map, depth int) (Value, error) {
	encoded, err := encodeValid(m)
	if err != nil {
		return nil, err
	}
	if !s.tooDeep(depth) && len(encoded) <= s.maxInlineBytes {
		return m, nil
	}
	return b.addEncoded(encoded, m)
}

func (s *Store) tooDeep(depth int) bool {
	return s.maxInlineDepth > 0 && depth > s.maxInlineDepth
}
