package tiptree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/stretchr/testify/require"
)

func benchmarkStdMapInsert(factor int, b *testing.B) {
	m := map[string]int{}
	for n := 0; n < factor*b.N; n++ {
		m[fmt.Sprintf("k%d/v", n)] = n
	}
}

func BenchmarkStdMapInsert1(b *testing.B)   { benchmarkStdMapInsert(1, b) }
func BenchmarkStdMapInsert10(b *testing.B)  { benchmarkStdMapInsert(10, b) }
func BenchmarkStdMapInsert100(b *testing.B) { benchmarkStdMapInsert(100, b) }

func benchmarkStore(b *testing.B) *Store {
	s, err := NewStore(Config{
		StoreImmutablePartsWith: NewInMemoryStore(),
		NodeCache:               NewNodeCache(1024),
	})
	require.NoError(b, err)
	return s
}

// benchmarkApply writes factor*b.N leaves spread over 16 subtrees.
func benchmarkApply(factor int, b *testing.B) Tip {
	s := benchmarkStore(b)
	var tip Tip
	var err error
	for n := 0; n < factor*b.N; n++ {
		tip, err = s.Apply(ctx, tip, fmt.Sprintf("s%d/k%d", n%16, n), NewInt(int64(n)))
		require.NoError(b, err)
	}
	return tip
}

func BenchmarkApply1(b *testing.B)   { benchmarkApply(1, b) }
func BenchmarkApply10(b *testing.B)  { benchmarkApply(10, b) }
func BenchmarkApply100(b *testing.B) { benchmarkApply(100, b) }

func benchmarkResolve(factor int, b *testing.B) {
	s := benchmarkStore(b)
	b.StopTimer()
	var tip Tip
	var err error
	for n := 0; n < factor*b.N; n++ {
		tip, err = s.Apply(ctx, tip, fmt.Sprintf("s%d/k%d", n%16, n), NewInt(int64(n)))
		require.NoError(b, err)
	}
	b.StartTimer()
	for n := 0; n < factor*b.N; n++ {
		_, found, err := s.Resolve(ctx, tip, fmt.Sprintf("s%d/k%d", n%16, n))
		if err != nil || !found {
			b.Fatalf("resolve %d: %v %v", n, found, err)
		}
	}
}

func BenchmarkResolve1(b *testing.B)   { benchmarkResolve(1, b) }
func BenchmarkResolve10(b *testing.B)  { benchmarkResolve(10, b) }
func BenchmarkResolve100(b *testing.B) { benchmarkResolve(100, b) }

func BenchmarkEncode(b *testing.B) {
	m := Map{}
	for n := 0; n < 100; n++ {
		m[fmt.Sprintf("k%d", n)] = Seq{NewInt(int64(n)), String("v"), Float(0.5)}
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := Encode(m); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExerciser(b *testing.B) {
	parameters := gopter.DefaultTestParametersWithSeed(1593228262585360000)
	parameters.MaxSize = 2048
	parameters.MinSuccessfulTests = b.N
	properties := gopter.NewProperties(parameters)
	properties.Property("tree exerciser", commands.Prop(treeCommands))
	out := bytes.NewBuffer(nil)
	reporter := gopter.NewFormatedReporter(false, 98, out)
	require.True(b, properties.Run(reporter))
}
