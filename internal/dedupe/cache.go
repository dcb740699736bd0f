// ABOUTME: Bounded TTL window of recently seen keys for duplicate suppression.
// ABOUTME: Used for redelivered inbound events and acknowledged idempotency keys.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// sweepInterval is how often expired keys are pruned in the background.
const sweepInterval = time.Minute

// entry stores when a key was last seen and its position in the age list.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Window remembers keys for a fixed TTL, holding at most maxKeys of them.
// When full, the least recently remembered key is evicted first.
type Window struct {
	mu      sync.Mutex
	keys    map[string]*entry
	age     *list.List // oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
	stop    chan struct{}
	stopped bool
}

// NewWindow creates a window and starts its background sweeper.
// Call Close to stop the sweeper.
func NewWindow(ttl time.Duration, maxKeys int) *Window {
	return newWindow(ttl, maxKeys, time.Now)
}

func newWindow(ttl time.Duration, maxKeys int, now func() time.Time) *Window {
	w := &Window{
		keys:    make(map[string]*entry),
		age:     list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     now,
		stop:    make(chan struct{}),
	}
	go w.sweepLoop()
	return w
}

// Seen reports whether key was remembered within the TTL.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.liveLocked(key)
}

// Remember records key as seen now, refreshing it if already present.
func (w *Window) Remember(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rememberLocked(key)
}

// SeenOrRemember reports whether key is a duplicate and, if it is not,
// remembers it in the same critical section.
func (w *Window) SeenOrRemember(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.liveLocked(key) {
		return true
	}
	w.rememberLocked(key)
	return false
}

// Len returns the number of keys currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}

func (w *Window) liveLocked(key string) bool {
	e, ok := w.keys[key]
	if !ok {
		return false
	}
	return w.now().Sub(e.seenAt) < w.ttl
}

func (w *Window) rememberLocked(key string) {
	now := w.now()

	if e, ok := w.keys[key]; ok {
		e.seenAt = now
		w.age.MoveToBack(e.element)
		return
	}

	if w.maxKeys > 0 && len(w.keys) >= w.maxKeys {
		w.evictOldestLocked()
	}

	w.keys[key] = &entry{
		seenAt:  now,
		element: w.age.PushBack(key),
	}
}

func (w *Window) evictOldestLocked() {
	front := w.age.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.age.Remove(front)
	delete(w.keys, key)
}

func (w *Window) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stop:
			return
		}
	}
}

// sweep drops expired keys. The age list is ordered by last remember time,
// so it can stop at the first live key.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.age.Front(); front != nil; front = w.age.Front() {
		key, _ := front.Value.(string)
		e := w.keys[key]
		if e != nil && now.Sub(e.seenAt) < w.ttl {
			return
		}
		w.age.Remove(front)
		delete(w.keys, key)
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		close(w.stop)
		w.stopped = true
	}
}
