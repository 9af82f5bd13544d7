package tiptree

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var ctx = context.Background()

func newTestStore(t testing.TB, cfg Config) (*Store, *inMemoryStore) {
	ims := NewInMemoryStore().(*inMemoryStore)
	if cfg.StoreImmutablePartsWith == nil {
		cfg.StoreImmutablePartsWith = ims
	}
	if cfg.Log == nil {
		cfg.Log = zaptest.NewLogger(t)
	}
	s, err := NewStore(cfg)
	require.NoError(t, err)
	return s, ims
}

func mustApply(t testing.TB, s *Store, prev Tip, path string, v Value) Tip {
	t.Helper()
	tip, err := s.Apply(ctx, prev, path, v)
	require.NoError(t, err)
	require.True(t, tip.Defined())
	return tip
}

func mustResolve(t testing.TB, s *Store, tip Tip, path string) Value {
	t.Helper()
	v, found, err := s.Resolve(ctx, tip, path)
	require.NoError(t, err)
	require.True(t, found, "%s not found at %s", path, tip)
	return v
}

func requireMiss(t testing.TB, s *Store, tip Tip, path string) {
	t.Helper()
	v, found, err := s.Resolve(ctx, tip, path)
	require.NoError(t, err)
	require.False(t, found, "%s found at %s: %v", path, tip, v)
	require.Nil(t, v)
}

func requireEqual(t testing.TB, expected, actual Value) {
	t.Helper()
	require.True(t, Equal(expected, actual), "expected %#v, got %#v", expected, actual)
}

func pad(n int) String {
	return String(strings.Repeat("x", n))
}

func TestNoPersist(t *testing.T) {
	_, err := NewStore(Config{})
	require.ErrorIs(t, err, ErrNoPersist)
}

func TestEmptyTree(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	requireEqual(t, Map{}, mustResolve(t, s, Tip{}, "/"))
	requireEqual(t, Map{}, mustResolve(t, s, Tip{}, ""))
	requireMiss(t, s, Tip{}, "a")
	requireMiss(t, s, Tip{}, "a/b")
}

func TestPathGrammar(t *testing.T) {
	t.Parallel()
	assert.Empty(t, SplitPath(""))
	assert.Empty(t, SplitPath("/"))
	assert.Empty(t, SplitPath("//"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/b/"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("a//b"))
	assert.Equal(t, "/", JoinPath(nil))
	assert.Equal(t, "/a/b", JoinPath([]string{"a", "b"}))

	s, _ := newTestStore(t, Config{})
	tip := mustApply(t, s, Tip{}, "/a/b/", String("v"))
	for _, p := range []string{"a/b", "/a/b", "a/b/", "//a//b//"} {
		requireEqual(t, String("v"), mustResolve(t, s, tip, p))
	}
}

func TestOverwriteIsolation(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	t1 := mustApply(t, s, Tip{}, "parent/sibling1", String("val1"))
	t2 := mustApply(t, s, t1, "parent/sibling2", String("val2"))
	requireEqual(t, String("val1"), mustResolve(t, s, t2, "parent/sibling1"))
	requireEqual(t, String("val2"), mustResolve(t, s, t2, "parent/sibling2"))
	t3 := mustApply(t, s, t2, "parent/sibling1", String("val3"))
	requireEqual(t, String("val3"), mustResolve(t, s, t3, "parent/sibling1"))
	requireEqual(t, String("val2"), mustResolve(t, s, t3, "parent/sibling2"))
}

func TestNestedCreation(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	tip := mustApply(t, s, Tip{}, "parent/sibling1/child/anotherChild", String("val1"))
	requireEqual(t, String("val1"), mustResolve(t, s, tip, "parent/sibling1/child/anotherChild"))

	// every intermediate created by the write is its own node
	root := mustResolve(t, s, tip, "/").(Map)
	require.IsType(t, Link{}, root["parent"])
	parent := mustResolve(t, s, tip, "parent").(Map)
	require.IsType(t, Link{}, parent["sibling1"])
	sibling1 := mustResolve(t, s, tip, "parent/sibling1").(Map)
	require.IsType(t, Link{}, sibling1["child"])
	requireEqual(t, Map{"anotherChild": String("val1")}, mustResolve(t, s, tip, "parent/sibling1/child"))

	requireMiss(t, s, tip, "parent/sibling2")
	requireMiss(t, s, tip, "parent/sibling1/child/anotherChild/deeper")
}

func TestAncestorDescendantCoexistence(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	t1 := mustApply(t, s, Tip{}, "parent", Map{"name": String("val1")})
	t2 := mustApply(t, s, t1, "parent/sibling1/child", String("val2"))
	requireEqual(t, String("val1"), mustResolve(t, s, t2, "parent/name"))
	requireEqual(t, String("val2"), mustResolve(t, s, t2, "parent/sibling1/child"))

	parent := mustResolve(t, s, t2, "parent").(Map)
	requireEqual(t, String("val1"), parent["name"])
	link, ok := parent["sibling1"].(Link)
	require.True(t, ok, "sibling1 should be a link, is %#v", parent["sibling1"])
	loaded, err := s.Load(ctx, link)
	require.NoError(t, err)
	requireEqual(t, Map{"child": String("val2")}, loaded)

	expanded, err := s.Expand(ctx, parent)
	require.NoError(t, err)
	requireEqual(t, Map{"name": String("val1"), "sibling1": Map{"child": String("val2")}}, expanded)
}

func TestStructuralSharing(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{MaxInlineBytes: 32})
	t0 := mustApply(t, s, Tip{}, "a/c", Map{"big": pad(100)})
	t0 = mustApply(t, s, t0, "a/d", String("inline"))
	before := mustResolve(t, s, t0, "a").(Map)
	require.IsType(t, Link{}, before["c"])

	t1 := mustApply(t, s, t0, "a/b", String("v"))
	after := mustResolve(t, s, t1, "a").(Map)
	require.IsType(t, Link{}, after["c"])
	require.True(t, before["c"].(Link).Equals(after["c"].(Link).Cid))
	requireEqual(t, before["d"], after["d"])

	unrelated := mustApply(t, s, t1, "z", NewInt(1))
	require.True(t, mustResolve(t, s, t1, "/").(Map)["a"].(Link).Equals(
		mustResolve(t, s, unrelated, "/").(Map)["a"].(Link).Cid))
}

func TestHistoricalPin(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	t1 := mustApply(t, s, Tip{}, "a", NewInt(1))
	t2 := mustApply(t, s, t1, "b", NewInt(2))
	t3 := mustApply(t, s, t2, "a", NewInt(3))
	requireEqual(t, NewInt(1), mustResolve(t, s, t1, "a"))
	requireMiss(t, s, t1, "b")
	requireEqual(t, NewInt(1), mustResolve(t, s, t2, "a"))
	requireEqual(t, NewInt(3), mustResolve(t, s, t3, "a"))
	requireEqual(t, NewInt(2), mustResolve(t, s, t3, "b"))
}

func TestTypeReplacement(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	t1 := mustApply(t, s, Tip{}, "p/k", String("scalar"))
	t1 = mustApply(t, s, t1, "p/other", String("untouched"))
	t2 := mustApply(t, s, t1, "p/k", Seq{String("a"), String("b")})
	requireEqual(t, Seq{String("a"), String("b")}, mustResolve(t, s, t2, "p/k"))
	requireEqual(t, String("untouched"), mustResolve(t, s, t2, "p/other"))
	t3 := mustApply(t, s, t2, "p/k", NewInt(5))
	requireEqual(t, NewInt(5), mustResolve(t, s, t3, "p/k"))
	requireEqual(t, String("untouched"), mustResolve(t, s, t3, "p/other"))

	// writing below a scalar replaces it with a node
	t4 := mustApply(t, s, t3, "p/k/deeper", Bool(true))
	requireEqual(t, Bool(true), mustResolve(t, s, t4, "p/k/deeper"))
	requireEqual(t, String("untouched"), mustResolve(t, s, t4, "p/other"))
	// and reading below a scalar is a miss
	requireMiss(t, s, t3, "p/k/deeper")
	requireMiss(t, s, t2, "p/k/0")
}

func TestConcreteScenario(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{})
	t1 := mustApply(t, s, Tip{}, "stableKey", String("val1"))
	t2 := mustApply(t, s, t1, "changingKey", String("val2"))
	t3 := mustApply(t, s, t2, "/", Map{"stableKey": String("val1"), "changingKey": String("val3")})
	t4 := mustApply(t, s, t3, "changingKey", Seq{String("val4"), String("val5")})
	requireEqual(t, String("val1"), mustResolve(t, s, t4, "stableKey"))
	requireEqual(t, Seq{String("val4"), String("val5")}, mustResolve(t, s, t4, "changingKey"))
	requireEqual(t, String("val3"), mustResolve(t, s, t3, "changingKey"))
	requireEqual(t, String("val2"), mustResolve(t, s, t2, "changingKey"))
}

func TestRootOverwrite(t *testing.T) {
	t.Parallel()
	s, ims := newTestStore(t, Config{})
	t1 := mustApply(t, s, Tip{}, "a", NewInt(1))
	_, err := s.Apply(ctx, t1, "/", String("not a map"))
	require.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = s.Apply(ctx, t1, "", Seq{})
	require.ErrorIs(t, err, ErrUnsupportedValue)
	n := ims.len()

	// equal content is the same tip
	t2 := mustApply(t, s, t1, "/", Map{"a": NewInt(1)})
	require.Equal(t, t1, t2)
	require.Equal(t, n, ims.len())

	t3 := mustApply(t, s, t2, "/", Map{"b": NewInt(2)})
	requireMiss(t, s, t3, "a")
	requireEqual(t, NewInt(2), mustResolve(t, s, t3, "b"))
	requireEqual(t, NewInt(1), mustResolve(t, s, t1, "a"))
}

func TestEncodingErrorPersistsNothing(t *testing.T) {
	t.Parallel()
	s, ims := newTestStore(t, Config{})
	for _, v := range []Value{
		nil,
		Map{"x": nil},
		Seq{NewInt(1), nil},
		Map{"ok": pad(1000), "bad": Seq{Link{}}},
	} {
		_, err := s.Apply(ctx, Tip{}, "a/b/c", v)
		require.ErrorIs(t, err, ErrUnsupportedValue)
	}
	require.Equal(t, 0, ims.len())
}

func TestExternalizationBySize(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{MaxInlineBytes: 128})
	tip := mustApply(t, s, Tip{}, "k", Map{
		"small": Map{"v": NewInt(1)},
		"large": Map{"v": pad(200)},
		"list":  Seq{Map{"v": pad(200)}, Map{"v": NewInt(2)}},
	})
	// k itself stays small once its large children are links
	k, ok := mustResolve(t, s, tip, "/").(Map)["k"].(Map)
	require.True(t, ok)
	requireEqual(t, Map{"v": NewInt(1)}, k["small"])
	require.IsType(t, Link{}, k["large"])
	list := k["list"].(Seq)
	require.IsType(t, Link{}, list[0])
	requireEqual(t, Map{"v": NewInt(2)}, list[1])

	requireEqual(t, pad(200), mustResolve(t, s, tip, "k/large/v"))
	requireEqual(t, NewInt(1), mustResolve(t, s, tip, "k/small/v"))
}

func TestExternalizationByDepth(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{MaxInlineDepth: 1})
	tip := mustApply(t, s, Tip{}, "k", Map{"a": Map{"b": Map{"c": NewInt(1)}}})
	root := mustResolve(t, s, tip, "/").(Map)
	k, ok := root["k"].(Map)
	require.True(t, ok, "%#v", root["k"])
	a, ok := k["a"].(Link)
	require.True(t, ok, "%#v", k["a"])
	loaded, err := s.Load(ctx, a)
	require.NoError(t, err)
	require.IsType(t, Map{}, loaded["b"])
	requireEqual(t, NewInt(1), mustResolve(t, s, tip, "k/a/b/c"))

	// writing through an inline map keeps applying the policy
	tip = mustApply(t, s, tip, "k/x/y", Map{"z": Map{}})
	requireEqual(t, Map{}, mustResolve(t, s, tip, "k/x/y/z"))
	requireEqual(t, NewInt(1), mustResolve(t, s, tip, "k/a/b/c"))
}

func TestWriteThroughInlineMap(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{MaxInlineBytes: 40})
	t1 := mustApply(t, s, Tip{}, "m", Map{"a": NewInt(1)})
	require.IsType(t, Map{}, mustResolve(t, s, t1, "/").(Map)["m"])

	t2 := mustApply(t, s, t1, "m/b", NewInt(2))
	require.IsType(t, Map{}, mustResolve(t, s, t2, "/").(Map)["m"])
	requireEqual(t, Map{"a": NewInt(1), "b": NewInt(2)}, mustResolve(t, s, t2, "m"))

	// grows past the threshold, and moves to its own node
	t3 := mustApply(t, s, t2, "m/c", pad(50))
	require.IsType(t, Link{}, mustResolve(t, s, t3, "/").(Map)["m"])
	requireEqual(t, NewInt(1), mustResolve(t, s, t3, "m/a"))
	requireEqual(t, pad(50), mustResolve(t, s, t3, "m/c"))
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	other, _ := newTestStore(t, Config{})
	foreign := mustApply(t, other, Tip{}, "a", NewInt(1))

	s, ims := newTestStore(t, Config{})
	_, _, err := s.Resolve(ctx, foreign, "a")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, IsNotFound(err))
	_, err = s.Apply(ctx, foreign, "b", NewInt(2))
	require.ErrorIs(t, err, ErrNotFound)

	tip := mustApply(t, s, Tip{}, "a/b", NewInt(1))
	child := mustResolve(t, s, tip, "/").(Map)["a"].(Link)
	ims.l.Lock()
	delete(ims.entries, child.String())
	ims.l.Unlock()

	// a store without a cache has to go to the persist
	fresh, _ := newTestStore(t, Config{StoreImmutablePartsWith: ims})
	_, _, err = fresh.Resolve(ctx, tip, "a/b")
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "/a")
	// the root is still fine
	_ = mustResolve(t, fresh, tip, "/")
}

func TestHashVerification(t *testing.T) {
	t.Parallel()
	s, ims := newTestStore(t, Config{})
	tip := mustApply(t, s, Tip{}, "a", NewInt(1))
	impostor, err := Encode(Map{"a": NewInt(2)})
	require.NoError(t, err)
	ims.l.Lock()
	ims.entries[tip.String()] = impostor
	ims.l.Unlock()

	fresh, _ := newTestStore(t, Config{StoreImmutablePartsWith: ims})
	_, _, err = fresh.Resolve(ctx, tip, "a")
	require.ErrorIs(t, err, ErrCodec)
}

func TestNotANode(t *testing.T) {
	t.Parallel()
	s, ims := newTestStore(t, Config{})
	b, err := Encode(String("just a string"))
	require.NoError(t, err)
	l, err := linkFor(b)
	require.NoError(t, err)
	require.NoError(t, ims.Store(ctx, l.String(), b))
	_, _, err = s.Resolve(ctx, Tip{l.Cid}, "x")
	require.ErrorIs(t, err, ErrCodec)
	_, err = s.Load(ctx, l)
	require.ErrorIs(t, err, ErrCodec)
}

// flakyPersist fails every store after the first n.
type flakyPersist struct {
	Persist
	n      int32
	stores int32
}

var errFlaky = errors.New("flaky")

func (f *flakyPersist) Store(ctx context.Context, name string, b []byte) error {
	if atomic.AddInt32(&f.stores, 1) > f.n {
		return errFlaky
	}
	return f.Persist.Store(ctx, name, b)
}

func TestStoreFailureYieldsNoTip(t *testing.T) {
	t.Parallel()
	flaky := &flakyPersist{Persist: NewInMemoryStore(), n: 2}
	s, _ := newTestStore(t, Config{StoreImmutablePartsWith: flaky, StoreConcurrency: 1})
	tip, err := s.Apply(ctx, Tip{}, "a/b/c/d", NewInt(1))
	require.ErrorIs(t, err, errFlaky)
	require.False(t, tip.Defined())
}

// stallingPersist fails its first store, and holds every other store
// until its context is done.
type stallingPersist struct {
	Persist
	stores int32
}

func (p *stallingPersist) Store(ctx context.Context, name string, b []byte) error {
	if atomic.AddInt32(&p.stores, 1) == 1 {
		return errFlaky
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return p.Persist.Store(ctx, name, b)
	}
}

func TestStoreFailureCancelsOutstandingStores(t *testing.T) {
	t.Parallel()
	stalling := &stallingPersist{Persist: NewInMemoryStore()}
	s, _ := newTestStore(t, Config{StoreImmutablePartsWith: stalling, StoreConcurrency: 4})
	start := time.Now()
	tip, err := s.Apply(ctx, Tip{}, "a/b/c/d", NewInt(1))
	require.ErrorIs(t, err, errFlaky)
	require.False(t, tip.Defined())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestCanceled(t *testing.T) {
	t.Parallel()
	s, ims := newTestStore(t, Config{})
	tip := mustApply(t, s, Tip{}, "a/b", NewInt(1))
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := s.Apply(canceled, Tip{}, "x", NewInt(1))
	require.ErrorIs(t, err, context.Canceled)

	fresh, _ := newTestStore(t, Config{StoreImmutablePartsWith: ims})
	_, _, err = fresh.Resolve(canceled, tip, "a/b")
	require.ErrorIs(t, err, context.Canceled)
}

// countingPersist counts stores.
type countingPersist struct {
	Persist
	stores int32
}

func (c *countingPersist) Store(ctx context.Context, name string, b []byte) error {
	atomic.AddInt32(&c.stores, 1)
	return c.Persist.Store(ctx, name, b)
}

func TestCacheSkipsKnownBlocks(t *testing.T) {
	t.Parallel()
	counting := &countingPersist{Persist: NewInMemoryStore()}
	s, _ := newTestStore(t, Config{StoreImmutablePartsWith: counting, NodeCache: NewNodeCache(100)})
	t1 := mustApply(t, s, Tip{}, "a/b/c", NewInt(1))
	stored := atomic.LoadInt32(&counting.stores)
	require.Equal(t, int32(3), stored)

	t2 := mustApply(t, s, t1, "a/b/c", NewInt(1))
	require.Equal(t, t1, t2)
	require.Equal(t, stored, atomic.LoadInt32(&counting.stores))

	// only the path from the root to x is new
	mustApply(t, s, t1, "a/x", NewInt(1))
	require.Equal(t, stored+2, atomic.LoadInt32(&counting.stores))
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{NodeCache: NewNodeCache(100)})
	tips := []Tip{{}}
	for i := 0; i < 20; i++ {
		tips = append(tips, mustApply(t, s, tips[len(tips)-1], "counter/value", NewInt(int64(i))))
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(tips))
	for i, tip := range tips[1:] {
		wg.Add(1)
		go func(i int, tip Tip) {
			defer wg.Done()
			v, found, err := s.Resolve(ctx, tip, "counter/value")
			if err != nil {
				errs <- err
			} else if !found || !Equal(NewInt(int64(i)), v) {
				errs <- errors.New("wrong value at " + tip.String())
			}
		}(i, tip)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestResolvedValuesAreCopies(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, Config{NodeCache: NewNodeCache(100)})
	tip := mustApply(t, s, Tip{}, "a", Map{"b": Seq{NewInt(1)}})
	v := mustResolve(t, s, tip, "a").(Map)
	v["b"].(Seq)[0] = NewInt(99)
	v["c"] = Null{}
	requireEqual(t, Map{"b": Seq{NewInt(1)}}, mustResolve(t, s, tip, "a"))
}
