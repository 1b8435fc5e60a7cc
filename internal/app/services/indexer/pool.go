package indexer

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
)

const minPoolWorkers = 1

// poolSize picks the extraction worker count. A configured value always
// wins; otherwise it scales NumCPU down by the live CPU load sample, the
// same instant, non-blocking gopsutil read the arbiter health check uses,
// so a busy host leaves headroom instead of saturating on top of whatever
// else is running.
func poolSize(configured int) int {
	if configured > 0 {
		return configured
	}
	base := runtime.NumCPU()
	load := sampleCPULoad()
	workers := int(float64(base) * (1 - load))
	if workers < minPoolWorkers {
		workers = minPoolWorkers
	}
	return workers
}

func sampleCPULoad() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0] / 100
}

// runPool fans work out over n goroutines reading from a closed-by-caller
// items slice, running fn for each and waiting for every item to finish.
func runPool(n int, items []string, fn func(item string)) {
	if n < 1 {
		n = 1
	}
	if len(items) == 0 {
		return
	}
	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				fn(item)
			}
		}()
	}
	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()
}
