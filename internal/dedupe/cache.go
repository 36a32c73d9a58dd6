// ABOUTME: TTL and size bounded cache of client message IDs already applied.
// ABOUTME: Lets a reconnecting client resend its outbox without producing duplicate messages.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry is one remembered key
type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for a fixed window. When full, the oldest key is
// forgotten first. Keys are kept in a list ordered by last mark so both
// eviction and expiry sweeps start from the front.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache that forgets keys after ttl and holds at most maxSize.
// A background goroutine sweeps expired keys at least once a minute.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// ClientKey scopes a client-chosen message ID to its sender so two users
// picking the same ID never collide.
func ClientKey(senderID, clientMessageID string) string {
	return senderID + "\x00" + clientMessageID
}

// seen reports whether key was marked within the TTL
func (c *Cache) seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	return ok && c.fresh(el.Value.(*entry))
}

// CheckAndMark marks key and reports whether it was already present.
// true means the caller is looking at a duplicate and should drop it.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok && c.fresh(el.Value.(*entry)) {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget removes key so a later retry is accepted. Used when applying the
// marked event failed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

// Len returns the number of remembered keys, including any not yet swept
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) fresh(e *entry) bool {
	return c.now().Sub(e.seenAt) < c.ttl
}

// markLocked records key as seen now. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := c.now()

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seenAt = now
		c.order.MoveToBack(el)
		return
	}

	for len(c.index) >= c.maxSize {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.index, front.Value.(*entry).key)
	}

	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
}

// sweep drops expired keys from the front of the list
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if c.fresh(e) {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, e.key)
		el = next
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
