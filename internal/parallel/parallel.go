// Package parallel chunks loop iterations across worker goroutines. The
// host engine uses it to spread matrix rows over cores.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how loops are split.
type Config struct {
	Enabled  bool // run chunks on goroutines at all
	Workers  int  // goroutines to spread iterations over
	MinChunk int  // below this many iterations the loop stays sequential
}

// DefaultConfig sizes the pool to the machine.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:  n > 1,
		Workers:  n,
		MinChunk: 64,
	}
}

// For executes f(i) for i in [0, n). Ranges too small to pay for the
// goroutine overhead run sequentially; f must be safe for concurrent calls
// on distinct indices.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunk {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := max((n+cfg.Workers-1)/cfg.Workers, cfg.MinChunk)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}
