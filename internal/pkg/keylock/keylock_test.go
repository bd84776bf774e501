package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()

	var (
		wg      sync.WaitGroup
		counter int
	)
	const workers = 100
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := l.Lock("account:a")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	assert.Equal(t, 0, l.Held(), "entries must be released once nobody holds them")
}

func TestLockOppositeOrderDoesNotDeadlock(t *testing.T) {
	l := New()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		const n = 200
		wg.Add(2 * n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				unlock := l.Lock("account:a", "account:b")
				unlock()
			}()
			go func() {
				defer wg.Done()
				unlock := l.Lock("account:b", "account:a")
				unlock()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite-order acquisitions deadlocked")
	}
}

func TestLockContextCancelReleasesPartialSet(t *testing.T) {
	l := New()

	unlockB := l.Lock("b")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.LockContext(ctx, "a", "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" must have been released by the failed attempt
	unlockA, err := l.LockContext(context.Background(), "a")
	require.NoError(t, err)
	unlockA()
	unlockB()

	assert.Equal(t, 0, l.Held())
}

func TestUnlockIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock("x", "x", "")
	unlock()
	unlock()
	assert.Equal(t, 0, l.Held())
}
