package locker

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker for a single replica. The ttl is ignored.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	Wait time.Duration
}

var _ Locker = &Local{}

func NewLocal(wait time.Duration) *Local {
	return &Local{
		held: make(map[string]chan struct{}),
		Wait: wait,
	}
}

func (l *Local) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	timer := time.NewTimer(l.Wait)
	defer timer.Stop()
	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return &localLock{parent: l, key: key}, nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return nil, ErrNotObtained
		case <-ctx.Done():
			return nil, ErrNotObtained
		}
	}
}

type localLock struct {
	parent *Local
	key    string
	once   sync.Once
}

func (l *localLock) Key() string {
	return l.key
}

func (l *localLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.parent.mu.Lock()
		defer l.parent.mu.Unlock()
		if ch, ok := l.parent.held[l.key]; ok {
			close(ch)
			delete(l.parent.held, l.key)
		}
	})
	return nil
}
