package tiptree

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Tip identifies one revision of a tree: the link to its root node. The
// zero Tip is the empty tree.
type Tip struct {
	cid.Cid
}

const emptyTip = "<empty>"

// ParseTip parses the string form of a tip. The empty string is the
// empty tree.
func ParseTip(s string) (Tip, error) {
	if s == "" || s == emptyTip {
		return Tip{}, nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return Tip{}, fmt.Errorf("parse tip %q: %w", s, err)
	}
	return Tip{c}, nil
}

// Link returns the link to the tip's root node.
func (t Tip) Link() Link {
	return Link{t.Cid}
}

func (t Tip) String() string {
	if !t.Defined() {
		return emptyTip
	}
	return t.Cid.String()
}
