// Package keylock serializes work per key. Multi-key acquisitions always take keys in sorted
// order so two callers locking overlapping sets cannot deadlock.
package keylock

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out one exclusive slot per key. The zero value is not usable; call New.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until every key is held. The returned func releases them.
func (l *Locker) Lock(keys ...string) func() {
	unlock, _ := l.LockContext(context.Background(), keys...)
	return unlock
}

// LockContext is Lock bounded by ctx. On cancellation nothing stays held.
func (l *Locker) LockContext(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalize(keys)

	held := make([]string, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
		held = held[:0]
	}

	for _, k := range ordered {
		e := l.ref(k)
		select {
		case e.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			return func() {}, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Held reports how many keys currently have holders or waiters.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Locker) unlock(key string) {
	l.mu.Lock()
	e := l.locks[key]
	l.mu.Unlock()
	<-e.ch
	l.unref(key)
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
