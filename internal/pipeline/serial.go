package pipeline

import "sync"

// serialQueue runs jobs strictly in FIFO order per key while letting
// different keys proceed concurrently. A key's drain goroutine exists
// only while that key has pending work.
type serialQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	active  map[string]bool
	wg      sync.WaitGroup
}

func newSerialQueue() *serialQueue {
	return &serialQueue{
		pending: make(map[string][]func()),
		active:  make(map[string]bool),
	}
}

// enqueue appends fn to the key's queue and starts a drain goroutine
// if one is not already running for that key.
func (q *serialQueue) enqueue(key string, fn func()) {
	q.mu.Lock()
	q.pending[key] = append(q.pending[key], fn)
	q.wg.Add(1)
	if q.active[key] {
		q.mu.Unlock()
		return
	}
	q.active[key] = true
	q.mu.Unlock()

	go q.drain(key)
}

func (q *serialQueue) drain(key string) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			delete(q.active, key)
			q.mu.Unlock()
			return
		}
		fn := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		fn()
		q.wg.Done()
	}
}

// wait blocks until every enqueued job has finished.
func (q *serialQueue) wait() {
	q.wg.Wait()
}
