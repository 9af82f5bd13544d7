package tiptree

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

// Revision is one entry in a History.
type Revision struct {
	// Tip is the revision's root.
	Tip Tip
	// Previous is the tip the revision was derived from, or the empty Tip
	// for the first revision.
	Previous Tip
	// Height counts revisions; the first is 1.
	Height uint64
	// Record is the block recording this revision, if it was persisted.
	Record Link
}

// History is the append-only chain of revisions of one tree. It is not
// safe for concurrent use; Tree serializes access to its History.
type History struct {
	revisions []Revision
	byTip     map[cid.Cid]int
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{byTip: map[cid.Cid]int{}}
}

// Append adds r as the new head. r.Previous must be the tip of the current
// head (or empty, if the history is empty), otherwise ErrNotHead is
// returned. r.Height is assigned.
func (h *History) Append(r Revision) (Revision, error) {
	head, _ := h.Head()
	if !r.Previous.Equals(head.Tip.Cid) {
		return Revision{}, fmt.Errorf("append %s after %s: %w", r.Tip, r.Previous, ErrNotHead)
	}
	if !r.Tip.Defined() {
		return Revision{}, fmt.Errorf("%w: revision without a tip", ErrUnsupportedValue)
	}
	r.Height = uint64(len(h.revisions)) + 1
	h.byTip[r.Tip.Cid] = len(h.revisions)
	h.revisions = append(h.revisions, r)
	return r, nil
}

// Head returns the latest revision, or false if there are none.
func (h *History) Head() (Revision, bool) {
	if len(h.revisions) == 0 {
		return Revision{}, false
	}
	return h.revisions[len(h.revisions)-1], true
}

// At returns the revision with the given tip. If a tip recurs, the latest
// revision with it is returned.
func (h *History) At(tip Tip) (Revision, bool) {
	i, ok := h.byTip[tip.Cid]
	if !ok {
		return Revision{}, false
	}
	return h.revisions[i], true
}

// Previous returns the tip that tip was derived from.
func (h *History) Previous(tip Tip) (Tip, bool) {
	r, ok := h.At(tip)
	if !ok {
		return Tip{}, false
	}
	return r.Previous, true
}

// Tips returns every tip, oldest first.
func (h *History) Tips() []Tip {
	tips := make([]Tip, len(h.revisions))
	for i, r := range h.revisions {
		tips[i] = r.Tip
	}
	return tips
}

// Revisions returns a copy of the chain, oldest first.
func (h *History) Revisions() []Revision {
	return append([]Revision(nil), h.revisions...)
}

// Len returns the number of revisions.
func (h *History) Len() int {
	return len(h.revisions)
}

const (
	recordTip    = "tip"
	recordPrev   = "prev"
	recordHeight = "height"
)

// putRecord persists a block recording r, chained to the record of the
// revision before it.
func (s *Store) putRecord(ctx context.Context, r Revision, prevRecord Link) (Link, error) {
	var prev Value = Null{}
	if prevRecord.Defined() {
		prev = prevRecord
	}
	height := Int{new(big.Int).SetUint64(r.Height)}
	b := newBatch()
	l, err := b.add(Map{
		recordTip:    r.Tip.Link(),
		recordPrev:   prev,
		recordHeight: height,
	})
	if err != nil {
		return Link{}, err
	}
	if err := s.flush(ctx, b); err != nil {
		return Link{}, fmt.Errorf("store record: %w", err)
	}
	return l, nil
}

type record struct {
	tip    Tip
	prev   Link
	height uint64
}

func (s *Store) readRecord(ctx context.Context, l Link) (record, error) {
	node, err := s.loadNode(ctx, l)
	if err != nil {
		return record{}, err
	}
	var r record
	tip, ok := node.entries[recordTip].(Link)
	if !ok {
		return record{}, fmt.Errorf("%w: record %s has no tip", ErrCodec, l)
	}
	r.tip = Tip{tip.Cid}
	switch prev := node.entries[recordPrev].(type) {
	case Link:
		r.prev = prev
	case Null:
	default:
		return record{}, fmt.Errorf("%w: record %s has a malformed prev", ErrCodec, l)
	}
	height, ok := node.entries[recordHeight].(Int)
	if !ok || !height.big().IsUint64() {
		return record{}, fmt.Errorf("%w: record %s has a malformed height", ErrCodec, l)
	}
	r.height = height.big().Uint64()
	if len(node.entries) != 3 {
		return record{}, fmt.Errorf("%w: record %s has unexpected keys", ErrCodec, l)
	}
	return r, nil
}

// LoadHistory rebuilds a History by following persisted records back from
// the given one to the first revision.
func LoadHistory(ctx context.Context, s *Store, head Link) (*History, error) {
	var chain []record
	var links []Link
	for l := head; l.Defined(); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := s.readRecord(ctx, l)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		if len(chain) > 0 && chain[len(chain)-1].height != r.height+1 {
			return nil, fmt.Errorf("%w: history: record %s at height %d precedes height %d",
				ErrCodec, l, r.height, chain[len(chain)-1].height)
		}
		chain = append(chain, r)
		links = append(links, l)
		l = r.prev
	}
	if len(chain) > 0 && chain[len(chain)-1].height != 1 {
		return nil, fmt.Errorf("%w: history: first record has height %d", ErrCodec, chain[len(chain)-1].height)
	}
	h := NewHistory()
	var prev Tip
	for i := len(chain) - 1; i >= 0; i-- {
		r, err := h.Append(Revision{Tip: chain[i].tip, Previous: prev, Record: links[i]})
		if err != nil {
			return nil, err
		}
		prev = r.Tip
	}
	s.log.Debug("loaded history", zap.Stringer("head", head), zap.Int("revisions", h.Len()))
	return h, nil
}
