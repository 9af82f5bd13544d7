package tiptree

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Node is one level of a tree: keys mapped to inline values, or to Links
// naming the blocks of child nodes. Nodes are immutable; Set returns a
// modified copy.
type Node struct {
	entries Map
}

// NewNode makes a node holding the given entries.
func NewNode(m Map) (Node, error) {
	if err := validate(m, 0); err != nil {
		return Node{}, err
	}
	return Node{maps.Clone(m)}, nil
}

// Get returns the value or link stored at key.
func (n Node) Get(key string) (Value, bool) {
	v, ok := n.entries[key]
	return v, ok
}

// Set returns a node with key set to v, and all other keys unchanged.
func (n Node) Set(key string, v Value) Node {
	m := make(Map, len(n.entries)+1)
	for k, e := range n.entries {
		m[k] = e
	}
	m[key] = v
	return Node{m}
}

// Len returns the number of keys.
func (n Node) Len() int {
	return len(n.entries)
}

// Keys returns the node's keys in sorted order.
func (n Node) Keys() []string {
	keys := maps.Keys(n.entries)
	slices.Sort(keys)
	return keys
}

// Map returns a copy of the node's entries.
func (n Node) Map() Map {
	return clone(n.entries).(Map)
}

// Encode returns the node's canonical block contents.
func (n Node) Encode() ([]byte, error) {
	if n.entries == nil {
		return Encode(Map{})
	}
	return Encode(n.entries)
}

func decodeNode(b []byte) (Node, error) {
	v, err := Decode(b)
	if err != nil {
		return Node{}, err
	}
	m, ok := v.(Map)
	if !ok {
		return Node{}, fmt.Errorf("%w: block holds a %s, not a node", ErrCodec, v.Kind())
	}
	return Node{m}, nil
}

// clone copies the containers of a value so that callers can't modify
// nodes that are shared through the cache.
func clone(v Value) Value {
	switch tv := v.(type) {
	case Seq:
		c := make(Seq, len(tv))
		for i, e := range tv {
			c[i] = clone(e)
		}
		return c
	case Map:
		c := make(Map, len(tv))
		for k, e := range tv {
			c[k] = clone(e)
		}
		return c
	}
	return v
}
