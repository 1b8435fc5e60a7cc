package indexer

import (
	"sync"
	"testing"
)

func TestRunPool_ProcessesEveryItemExactlyOnce(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g"}
	var mu sync.Mutex
	seen := make(map[string]int)

	runPool(3, items, func(item string) {
		mu.Lock()
		seen[item]++
		mu.Unlock()
	})

	if len(seen) != len(items) {
		t.Fatalf("expected %d distinct items processed, got %d", len(items), len(seen))
	}
	for _, item := range items {
		if seen[item] != 1 {
			t.Fatalf("expected item %s to be processed once, got %d", item, seen[item])
		}
	}
}

func TestRunPool_EmptyItemsIsNoop(t *testing.T) {
	called := false
	runPool(4, nil, func(item string) { called = true })
	if called {
		t.Fatalf("expected fn to never be called on an empty item set")
	}
}

func TestPoolSize_HonorsConfiguredValue(t *testing.T) {
	if got := poolSize(7); got != 7 {
		t.Fatalf("expected configured value 7, got %d", got)
	}
}

func TestPoolSize_AutoSizeIsAtLeastOne(t *testing.T) {
	if got := poolSize(0); got < minPoolWorkers {
		t.Fatalf("expected auto-sized pool to be at least %d, got %d", minPoolWorkers, got)
	}
}
