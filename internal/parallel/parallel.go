// Package parallel splits flat index ranges across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is split.
type Config struct {
	Workers  int // Upper bound on goroutines; <= 1 runs everything inline.
	MinChunk int // Smallest range handed to one goroutine.
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:  runtime.NumCPU(),
		MinChunk: 4096,
	}
}

// Chunks returns the number of ranges Range would split n items into.
func (c Config) Chunks(n int) int {
	if n <= 0 {
		return 0
	}
	if c.Workers <= 1 || n < 2*c.MinChunk {
		return 1
	}
	return min(c.Workers, n/max(c.MinChunk, 1))
}

// Range calls f on disjoint [lo, hi) ranges covering [0, n) and returns
// once all calls have finished. A single range runs on the caller's
// goroutine.
func Range(n int, cfg Config, f func(lo, hi int)) {
	chunks := cfg.Chunks(n)
	switch chunks {
	case 0:
		return
	case 1:
		f(0, n)
		return
	}

	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(lo, hi)
		}()
	}
	wg.Wait()
}
