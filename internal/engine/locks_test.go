package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable_EvictsReleasedLocks(t *testing.T) {
	var table lockTable

	unlockA := table.lock("job-a")
	unlockB := table.lock("job-b")

	table.mu.Lock()
	assert.Len(t, table.locks, 2)
	table.mu.Unlock()

	unlockA()
	unlockB()

	table.mu.Lock()
	assert.Empty(t, table.locks)
	table.mu.Unlock()
}

func TestLockTable_SerializesSameJob(t *testing.T) {
	var table lockTable

	const workers = 8
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.lock("job-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	table.mu.Lock()
	assert.Empty(t, table.locks)
	table.mu.Unlock()
}

func TestLockTable_ContendedEntrySurvivesUntilLastRelease(t *testing.T) {
	var table lockTable

	unlock := table.lock("job-a")

	acquired := make(chan func())
	go func() {
		acquired <- table.lock("job-a")
	}()

	// Wait for the second holder to be queued on the same entry.
	require.Eventually(t, func() bool {
		table.mu.Lock()
		defer table.mu.Unlock()
		l, ok := table.locks["job-a"]
		return ok && l.refs == 2
	}, time.Second, time.Millisecond)

	// A waiter is queued, so releasing the first holder must not evict.
	unlock()
	second := <-acquired

	table.mu.Lock()
	assert.Len(t, table.locks, 1)
	table.mu.Unlock()

	second()
	table.mu.Lock()
	assert.Empty(t, table.locks)
	table.mu.Unlock()
}
