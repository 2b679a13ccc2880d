package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines, spacing job
// starts with a token-bucket limiter.
type WorkerPool struct {
	semaphore chan struct{}
	limiter   *rate.Limiter
	wg        sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency and minimum
// interval between job starts. rateLimitMs <= 0 disables the limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	limit := rate.Inf
	if rateLimitMs > 0 {
		limit = rate.Every(time.Duration(rateLimitMs) * time.Millisecond)
	}
	return &WorkerPool{
		semaphore: make(chan struct{}, maxWorkers),
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Submit enqueues job, blocking while all workers are busy. It returns
// false without running job if ctx is done before a worker slot and a
// limiter token are available.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) bool {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	if err := wp.limiter.Wait(ctx); err != nil {
		<-wp.semaphore
		return false
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()
		job(ctx)
	}()
	return true
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// CIDSet is a thread-safe set of listing ids seen during one run.
type CIDSet struct {
	mu   sync.RWMutex
	seen map[int64]struct{}
}

// NewCIDSet creates an empty CIDSet.
func NewCIDSet() *CIDSet {
	return &CIDSet{seen: make(map[int64]struct{})}
}

// Add returns true if cid was newly added, false if already present.
func (s *CIDSet) Add(cid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[cid]; exists {
		return false
	}
	s.seen[cid] = struct{}{}
	return true
}

// Contains reports whether cid has been seen.
func (s *CIDSet) Contains(cid int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[cid]
	return exists
}

// Size returns the number of distinct ids tracked.
func (s *CIDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
