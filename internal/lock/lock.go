// Package lock provides keyed mutual exclusion for circulation
// resources.  Keys look like "book:42" or "user:7".  Callers that need
// more than one key must always take them in the same order (user before
// book) to stay deadlock free.
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on a key.  The returned function
// releases it and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Locker.  Entries are reference counted so the
// map does not grow with the number of distinct keys ever locked.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLocal returns a ready Local locker.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *Local) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
