package tiptree

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type pendingBlock struct {
	bytes []byte
	node  Node
}

// batch collects the new blocks of a write, so nothing is stored until
// the whole new revision has been encoded.
type batch struct {
	pending map[cid.Cid]pendingBlock
	order   []Link
}

func newBatch() *batch {
	return &batch{pending: map[cid.Cid]pendingBlock{}}
}

func (b *batch) add(m Map) (Link, error) {
	if m == nil {
		m = Map{}
	}
	encoded, err := encodeValid(m)
	if err != nil {
		return Link{}, err
	}
	return b.addEncoded(encoded, m)
}

func (b *batch) addEncoded(encoded []byte, m Map) (Link, error) {
	l, err := linkFor(encoded)
	if err != nil {
		return Link{}, err
	}
	if _, ok := b.pending[l.Cid]; !ok {
		b.pending[l.Cid] = pendingBlock{encoded, Node{m}}
		b.order = append(b.order, l)
	}
	return l, nil
}

// flush stores the batch's blocks, at most s.concurrency at a time. The
// first error cancels the stores still outstanding and is returned.
func (s *Store) flush(ctx context.Context, b *batch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	stored := 0
	for _, l := range b.order {
		if gctx.Err() != nil {
			break
		}
		if s.nodeCache != nil && s.nodeCache.Contains(l.Cid) {
			continue
		}
		name := l.String()
		block := b.pending[l.Cid].bytes
		stored++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.persist.Store(gctx, name, block); err != nil {
				return fmt.Errorf("persist store %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// a ctx canceled before any store was scheduled
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Debug("flushed", zap.Int("blocks", len(b.order)), zap.Int("stored", stored))
	if s.nodeCache != nil {
		for _, l := range b.order {
			s.nodeCache.Add(l.Cid, b.pending[l.Cid].node)
		}
	}
	return nil
}
