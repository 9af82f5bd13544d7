package rpc

import (
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrhy/tiptree"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/encoding/protowire"
)

var ctx = context.Background()

func newTestServer(t *testing.T) (*tiptree.Store, *Client) {
	store, err := tiptree.NewStore(tiptree.Config{
		StoreImmutablePartsWith: tiptree.NewInMemoryStore(),
		Log:                     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(store, ServerConfig{Log: zaptest.NewLogger(t)}))
	t.Cleanup(srv.Close)
	client, err := Dial(ctx, ClientConfig{
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Log:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return store, client
}

func TestApplyResolve(t *testing.T) {
	store, client := newTestServer(t)
	huge, ok := new(big.Int).SetString("-123456789012345678901234567890", 10)
	require.True(t, ok)
	value := tiptree.Map{
		"huge":  tiptree.NewBigInt(huge),
		"float": tiptree.Float(1.0 / 3),
		"list":  tiptree.Seq{tiptree.Null{}, tiptree.Bool(true)},
	}
	tip, err := client.Apply(ctx, tiptree.Tip{}, "a/b", value)
	require.NoError(t, err)
	require.True(t, tip.Defined())

	v, found, err := client.Resolve(ctx, tip, "a/b")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, tiptree.Equal(value, v), "%v", v)

	// the intermediate is a link, and survives the trip as one
	v, found, err = client.Resolve(ctx, tip, "/")
	require.NoError(t, err)
	require.True(t, found)
	link, ok := v.(tiptree.Map)["a"].(tiptree.Link)
	require.True(t, ok, "%v", v)
	local, err := store.Load(ctx, link)
	require.NoError(t, err)
	require.Contains(t, local, "b")

	_, found, err = client.Resolve(ctx, tip, "a/nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestErrorsCrossTheWire(t *testing.T) {
	store, client := newTestServer(t)
	_, err := client.Apply(ctx, tiptree.Tip{}, "/", tiptree.String("not a map"))
	require.ErrorIs(t, err, tiptree.ErrUnsupportedValue)

	// a tip from some other store
	other, err := tiptree.NewStore(tiptree.Config{StoreImmutablePartsWith: tiptree.NewInMemoryStore()})
	require.NoError(t, err)
	foreign, err := other.Apply(ctx, tiptree.Tip{}, "x", tiptree.NewInt(1))
	require.NoError(t, err)
	_, _, err = client.Resolve(ctx, foreign, "x")
	require.ErrorIs(t, err, tiptree.ErrNotFound)

	// the connection is still good after a failed request
	tip, err := client.Apply(ctx, tiptree.Tip{}, "x", tiptree.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, foreign, tip)
	_, found, err := store.Resolve(ctx, tip, "x")
	require.NoError(t, err)
	require.True(t, found)
}

func TestFrames(t *testing.T) {
	id := ulid.Make()
	tip, err := tiptree.ParseTip("")
	require.NoError(t, err)
	req := Request{ID: id, Op: OpResolve, Tip: tip, Path: "/a/b"}
	b, err := req.Marshal()
	require.NoError(t, err)
	got, err := UnmarshalRequest(b)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	// unknown fields are skipped
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	got, err = UnmarshalRequest(b)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	resp := Response{ID: id, Found: true, Value: tiptree.String("x"), Code: CodeNotFound, Message: "gone"}
	b, err = resp.Marshal()
	require.NoError(t, err)
	gotResp, err := UnmarshalResponse(b)
	require.NoError(t, err)
	assert.Equal(t, resp, gotResp)

	_, err = UnmarshalResponse(b[:len(b)-1])
	require.ErrorIs(t, err, ErrFrame)

	bad := protowire.AppendTag(nil, fieldID, protowire.BytesType)
	bad = protowire.AppendBytes(bad, []byte{1, 2, 3})
	_, err = UnmarshalRequest(bad)
	require.ErrorIs(t, err, ErrFrame)
}

func TestBadRequest(t *testing.T) {
	_, client := newTestServer(t)
	_, err := client.roundTrip(ctx, Request{Op: Op(42)})
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = client.roundTrip(ctx, Request{Op: OpApply, Path: "a"})
	require.ErrorIs(t, err, ErrBadRequest)
}
