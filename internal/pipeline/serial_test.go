package pipeline

import (
	"fmt"
	"sync"
	"testing"
)

func TestSerialQueueFIFOPerKey(t *testing.T) {
	q := newSerialQueue()

	var mu sync.Mutex
	var order []int
	for i := range 50 {
		q.enqueue("k", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	q.wait()

	if len(order) != 50 {
		t.Fatalf("ran %d jobs, want 50", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, jobs ran out of order", i, v)
		}
	}
}

func TestSerialQueueKeysRunIndependently(t *testing.T) {
	q := newSerialQueue()

	release := make(chan struct{})
	q.enqueue("slow", func() { <-release })

	done := make(chan struct{})
	q.enqueue("fast", func() { close(done) })

	// The fast key must not wait behind the blocked slow key.
	<-done
	close(release)
	q.wait()
}

func TestSerialQueueConcurrentProducers(t *testing.T) {
	q := newSerialQueue()

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for p := range 8 {
		key := fmt.Sprintf("key-%d", p)
		for range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q.enqueue(key, func() {
					mu.Lock()
					counts[key]++
					mu.Unlock()
				})
			}()
		}
	}
	wg.Wait()
	q.wait()

	for key, n := range counts {
		if n != 25 {
			t.Errorf("%s ran %d jobs, want 25", key, n)
		}
	}
	if len(counts) != 8 {
		t.Errorf("saw %d keys, want 8", len(counts))
	}
}
