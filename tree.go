package tiptree

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Tree is a single-writer handle on a tree: it applies writes at the head
// of its History, and records each revision in the Store so the tree can
// be reopened later.
type Tree struct {
	store *Store

	mu         sync.Mutex
	history    *History
	headRecord Link
}

// NewTree returns an empty tree.
func NewTree(store *Store) *Tree {
	return &Tree{store: store, history: NewHistory()}
}

// OpenTree reopens a tree from the record of its latest revision, as
// returned by HeadRecord.
func OpenTree(ctx context.Context, store *Store, record Link) (*Tree, error) {
	h, err := LoadHistory(ctx, store, record)
	if err != nil {
		return nil, err
	}
	return &Tree{store: store, history: h, headRecord: record}, nil
}

// Set writes v at path and returns the new head revision. Writes are
// serialized. A write that leaves the tree unchanged doesn't add a
// revision.
func (t *Tree) Set(ctx context.Context, path string, v Value) (Revision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	head, _ := t.history.Head()
	tip, err := t.store.Apply(ctx, head.Tip, path, v)
	if err != nil {
		return Revision{}, err
	}
	if head.Tip.Defined() && tip.Equals(head.Tip.Cid) {
		return head, nil
	}
	r := Revision{Tip: tip, Previous: head.Tip, Height: head.Height + 1}
	record, err := t.store.putRecord(ctx, r, t.headRecord)
	if err != nil {
		return Revision{}, err
	}
	r.Record = record
	r, err = t.history.Append(r)
	if err != nil {
		return Revision{}, err
	}
	t.headRecord = record
	t.store.log.Debug("tree set",
		zap.String("path", path),
		zap.Stringer("tip", tip),
		zap.Uint64("height", r.Height))
	return r, nil
}

// Get resolves path at the head.
func (t *Tree) Get(ctx context.Context, path string) (Value, bool, error) {
	return t.store.Resolve(ctx, t.Head(), path)
}

// GetAt resolves path as of an earlier revision. The tip must be in the
// tree's history, or be the empty Tip.
func (t *Tree) GetAt(ctx context.Context, tip Tip, path string) (Value, bool, error) {
	if tip.Defined() {
		t.mu.Lock()
		_, ok := t.history.At(tip)
		t.mu.Unlock()
		if !ok {
			return nil, false, fmt.Errorf("get at %s: %w", tip, ErrUnknownTip)
		}
	}
	return t.store.Resolve(ctx, tip, path)
}

// Head returns the tip of the latest revision, or the empty Tip.
func (t *Tree) Head() Tip {
	t.mu.Lock()
	defer t.mu.Unlock()
	head, _ := t.history.Head()
	return head.Tip
}

// HeadRecord returns the link to the record of the latest revision, for
// use with OpenTree.
func (t *Tree) HeadRecord() Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headRecord
}

// History returns the tree's revisions, oldest first.
func (t *Tree) History() []Revision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.Revisions()
}

// Store returns the store the tree's nodes live in.
func (t *Tree) Store() *Store {
	return t.store
}
