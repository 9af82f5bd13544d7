package tiptree

import (
	"context"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DiffFunc receives each path whose value differs between two revisions.
// added is nil if the path was removed, and removed is nil if the path was
// added. Returning false stops the diff.
type DiffFunc func(path string, added, removed Value) (bool, error)

type diffItem struct {
	segments     []string
	old, current Value
}

// Diff calls f for the differences between the revisions at oldTip and
// newTip, in path order. Where both sides hold maps, the maps are compared
// key by key; otherwise differing values are reported whole. Links that
// are equal on both sides are skipped without being loaded.
func (s *Store) Diff(ctx context.Context, oldTip, newTip Tip, f DiffFunc) error {
	stack := []diffItem{{old: tipValue(oldTip), current: tipValue(newTip)}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if ol, ok := item.old.(Link); ok {
			if nl, ok := item.current.(Link); ok && ol.Equals(nl.Cid) {
				continue
			}
		}
		old, err := s.deref(ctx, item.old)
		if err != nil {
			return fmt.Errorf("load old %s: %w", JoinPath(item.segments), err)
		}
		current, err := s.deref(ctx, item.current)
		if err != nil {
			return fmt.Errorf("load new %s: %w", JoinPath(item.segments), err)
		}
		om, oldIsMap := old.(Map)
		nm, newIsMap := current.(Map)
		if oldIsMap && newIsMap {
			keys := maps.Keys(om)
			for k := range nm {
				if _, ok := om[k]; !ok {
					keys = append(keys, k)
				}
			}
			slices.Sort(keys)
			for i := len(keys) - 1; i >= 0; i-- {
				k := keys[i]
				segments := append(append([]string(nil), item.segments...), k)
				stack = append(stack, diffItem{segments: segments, old: om[k], current: nm[k]})
			}
			continue
		}
		if old != nil && current != nil && Equal(old, current) {
			continue
		}
		keepGoing, err := f(JoinPath(item.segments), current, old)
		if err != nil {
			return fmt.Errorf("callback: %w", err)
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// deref loads v if it is a link. Absent values stay nil.
func (s *Store) deref(ctx context.Context, v Value) (Value, error) {
	l, ok := v.(Link)
	if !ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node, err := s.loadNode(ctx, l)
	if err != nil {
		return nil, err
	}
	return node.entries, nil
}

func tipValue(tip Tip) Value {
	if !tip.Defined() {
		return Map{}
	}
	return tip.Link()
}
