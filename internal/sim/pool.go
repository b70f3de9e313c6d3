package sim

import "sync"

// minChunk keeps tiny lattices from paying goroutine overhead per unit.
const minChunk = 64

// parallel splits the unit range into chunks and runs fn over them on the
// configured number of workers. It returns once every chunk is done, which
// is the barrier between the two passes of a step.
func (s *Sim) parallel(fn func(lo, hi int)) {
	n := s.layout.N()
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers == 1 || n <= minChunk {
		fn(0, n)
		return
	}

	type job struct {
		lo, hi int
	}
	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}
	jobs := make(chan job)

	workerCount := (n + chunk - 1) / chunk
	if workerCount > workers {
		workerCount = workers
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				fn(j.lo, j.hi)
			}
		}()
	}

	for lo := 0; lo < n; lo += chunk {
		jobs <- job{lo: lo, hi: min(lo+chunk, n)}
	}
	close(jobs)
	wg.Wait()
}
