package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	A, B int
}

func TestLatest_Empty(t *testing.T) {
	t.Parallel()
	var l Latest[pair]
	v, ok := l.Load()
	assert.False(t, ok)
	assert.Equal(t, pair{}, v)
	assert.Zero(t, l.Seq())
}

func TestLatest_StoreLoad(t *testing.T) {
	t.Parallel()
	var l Latest[pair]
	l.Store(pair{1, 1})
	l.Store(pair{2, 2})

	v, seq, ok := l.LoadSeq()
	require.True(t, ok)
	assert.Equal(t, pair{2, 2}, v)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, uint64(2), l.Seq())
}

func TestLatest_NoTornReads(t *testing.T) {
	t.Parallel()
	var l Latest[pair]
	l.Store(pair{0, 0})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 10000; i++ {
			l.Store(pair{i, -i})
		}
	}()

	var last uint64
	for i := 0; i < 10000; i++ {
		v, seq, ok := l.LoadSeq()
		require.True(t, ok)
		require.Equal(t, v.A, -v.B)
		require.GreaterOrEqual(t, seq, last)
		last = seq
	}
	wg.Wait()
	assert.Equal(t, uint64(10001), l.Seq())
}
