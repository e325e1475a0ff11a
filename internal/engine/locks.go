package engine

import (
	"sync"
	"time"
)

// lockTable is an arena of per-job mutexes enforcing single-writer-per-job:
// no two concurrent advances may run against the same job, while unrelated
// jobs proceed in parallel. Entries are refcounted and dropped when the last
// holder releases, so the table stays bounded by in-flight jobs.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for the given job id, creating it on first use,
// and returns the unlock function.
func (t *lockTable) lock(id string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*jobLock)
	}
	l, ok := t.locks[id]
	if !ok {
		l = &jobLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

// escalationTable tracks pending webhook-wait timers keyed by job id.
type escalationTable struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func (t *escalationTable) set(id string, timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timers == nil {
		t.timers = make(map[string]*time.Timer)
	}
	if old, ok := t.timers[id]; ok {
		old.Stop()
	}
	t.timers[id] = timer
}

func (t *escalationTable) cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}
