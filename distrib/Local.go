package distrib

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
)

// LocalGroup coordinates a group of workers running as goroutines in
// one process. All workers share the group's barrier, reducer and
// store handles. A timeout of 0 blocks forever.
type LocalGroup struct {
	size    int
	timeout time.Duration

	barrier *localBarrier
	reducer *localAllReducer
	store   *LocalKVStore
}

// NewLocalGroup returns a coordination group for size workers.
func NewLocalGroup(size int, timeout time.Duration) (*LocalGroup, error) {
	if size < 1 {
		return nil, fmt.Errorf("newLocalGroup: size must be >= 1")
	}
	return &LocalGroup{
		size:    size,
		timeout: timeout,
		barrier: &localBarrier{
			size:    size,
			timeout: timeout,
			release: make(chan struct{}),
		},
		reducer: &localAllReducer{size: size, timeout: timeout},
		store:   NewLocalKVStore(timeout),
	}, nil
}

// Size returns the number of workers in the group.
func (g *LocalGroup) Size() int { return g.size }

// Barrier returns the group's shared barrier.
func (g *LocalGroup) Barrier() Barrier { return g.barrier }

// AllReducer returns the group's shared reducer.
func (g *LocalGroup) AllReducer() AllReducer { return g.reducer }

// KVStore returns the group's shared rendezvous store.
func (g *LocalGroup) KVStore() KVStore { return g.store }

type localBarrier struct {
	size    int
	timeout time.Duration

	mu      sync.Mutex
	count   int
	release chan struct{}
}

// Wait blocks until all workers in the group have called Wait. The
// last arrival releases the rest and resets the barrier for reuse.
func (b *localBarrier) Wait() error {
	b.mu.Lock()
	b.count++
	if b.count == b.size {
		b.count = 0
		close(b.release)
		b.release = make(chan struct{})
		b.mu.Unlock()
		return nil
	}
	release := b.release
	b.mu.Unlock()

	if b.timeout <= 0 {
		<-release
		return nil
	}
	select {
	case <-release:
		return nil
	case <-time.After(b.timeout):
		return ErrTimeout
	}
}

// round accumulates one all-reduce exchange. It is replaced once every
// worker has contributed, so late readers keep a stable reference.
type round struct {
	sum   []float64
	count int
	ready chan struct{}
}

type localAllReducer struct {
	size    int
	timeout time.Duration

	mu  sync.Mutex
	cur *round
}

// AllReduce sums x elementwise across all workers and writes the
// result back into x on every worker.
func (r *localAllReducer) AllReduce(x []float64) error {
	r.mu.Lock()
	if r.cur == nil {
		r.cur = &round{
			sum:   append([]float64(nil), x...),
			count: 1,
			ready: make(chan struct{}),
		}
	} else {
		if len(x) != len(r.cur.sum) {
			r.mu.Unlock()
			return fmt.Errorf("allReduce: vector length mismatch "+
				"\n\twant(%v)\n\thave(%v)", len(r.cur.sum), len(x))
		}
		floats.Add(r.cur.sum, x)
		r.cur.count++
	}
	cur := r.cur
	if cur.count == r.size {
		close(cur.ready)
		r.cur = nil
	}
	r.mu.Unlock()

	if r.timeout <= 0 {
		<-cur.ready
	} else {
		select {
		case <-cur.ready:
		case <-time.After(r.timeout):
			return ErrTimeout
		}
	}

	copy(x, cur.sum)
	return nil
}

// LocalKVStore is an in-process rendezvous store.
type LocalKVStore struct {
	timeout time.Duration

	mu      sync.Mutex
	data    map[string]string
	waiters map[string][]chan struct{}
}

// NewLocalKVStore returns an empty rendezvous store.
func NewLocalKVStore(timeout time.Duration) *LocalKVStore {
	return &LocalKVStore{
		timeout: timeout,
		data:    make(map[string]string),
		waiters: make(map[string][]chan struct{}),
	}
}

// Set publishes a value and releases any workers blocked in Wait.
func (s *LocalKVStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	for _, ch := range s.waiters[key] {
		close(ch)
	}
	delete(s.waiters, key)
	return nil
}

// Get returns the value for a key.
func (s *LocalKVStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return "", fmt.Errorf("get: no such key %q", key)
	}
	return value, nil
}

// Wait blocks until the key has been published.
func (s *LocalKVStore) Wait(key string) error {
	s.mu.Lock()
	if _, ok := s.data[key]; ok {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters[key] = append(s.waiters[key], ch)
	s.mu.Unlock()

	if s.timeout <= 0 {
		<-ch
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-time.After(s.timeout):
		return ErrTimeout
	}
}
