package tiptree

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/minio/blake2b-simd"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"
)

const blake2b256 = multihash.BLAKE2B_MIN + 31

// linkFor names a block by its content: a CIDv1 with the dag-cbor codec
// and a BLAKE2b-256 multihash.
func linkFor(b []byte) (Link, error) {
	sum := blake2b.Sum256(b)
	mh, err := multihash.Encode(sum[:], blake2b256)
	if err != nil {
		return Link{}, fmt.Errorf("multihash: %w", err)
	}
	return Link{cid.NewCidV1(cid.DagCBOR, multihash.Multihash(mh))}, nil
}

// verify checks that b is the content named by l. Links using hash
// functions other than ours are trusted.
func verify(l Link, b []byte) error {
	dmh, err := multihash.Decode(l.Hash())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCodec, l, err)
	}
	if dmh.Code != blake2b256 {
		return nil
	}
	sum := blake2b.Sum256(b)
	if !bytes.Equal(sum[:], dmh.Digest) {
		return fmt.Errorf("%w: %s: content does not match hash", ErrCodec, l)
	}
	return nil
}

func (s *Store) load(ctx context.Context, l Link) ([]byte, error) {
	b, err := s.persist.Load(ctx, l.String())
	if err != nil {
		return nil, fmt.Errorf("persist load %s: %w", l, err)
	}
	if err := verify(l, b); err != nil {
		return nil, err
	}
	return b, nil
}

// loadNode loads and decodes the node stored under l, consulting the
// cache first.
func (s *Store) loadNode(ctx context.Context, l Link) (Node, error) {
	if s.nodeCache != nil {
		if node, ok := s.nodeCache.Get(l.Cid); ok {
			return node.(Node), nil
		}
	}
	b, err := s.load(ctx, l)
	if err != nil {
		return Node{}, err
	}
	node, err := decodeNode(b)
	if err != nil {
		return Node{}, fmt.Errorf("%s: %w", l, err)
	}
	s.log.Debug("loaded node", zap.Stringer("link", l), zap.Int("keys", node.Len()))
	if s.nodeCache != nil {
		s.nodeCache.Add(l.Cid, node)
	}
	return node, nil
}
