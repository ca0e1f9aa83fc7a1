package parallel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunks(t *testing.T) {
	cfg := Config{Workers: 4, MinChunk: 10}

	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{5, 1},
		{19, 1},
		{20, 2},
		{35, 3},
		{1000, 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Chunks(tt.n), "n=%d", tt.n)
	}

	assert.Equal(t, 1, Config{Workers: 1, MinChunk: 1}.Chunks(1000))
}

func TestRange_CoversEveryIndexOnce(t *testing.T) {
	for _, cfg := range []Config{
		{Workers: 1, MinChunk: 1},
		{Workers: 3, MinChunk: 7},
		{Workers: 8, MinChunk: 1},
		DefaultConfig(),
	} {
		n := 1001
		hits := make([]int, n)
		var mu sync.Mutex
		var ranges int

		Range(n, cfg, func(lo, hi int) {
			mu.Lock()
			ranges++
			mu.Unlock()
			for i := lo; i < hi; i++ {
				hits[i]++
			}
		})

		for i, h := range hits {
			assert.Equal(t, 1, h, "index %d with %+v", i, cfg)
		}
		assert.LessOrEqual(t, ranges, max(cfg.Chunks(n), 1))
	}
}

func TestRange_Empty(t *testing.T) {
	called := false
	Range(0, DefaultConfig(), func(_, _ int) { called = true })
	assert.False(t, called)
}

func BenchmarkRange(b *testing.B) {
	cfg := DefaultConfig()
	data := make([]float64, 1<<16)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Range(len(data), cfg, func(lo, hi int) {
			for j := lo; j < hi; j++ {
				data[j] = data[j]*0.5 + 1
			}
		})
	}
}
