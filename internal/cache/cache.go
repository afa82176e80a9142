// Package cache is a bounded, time-limited read-through/write-through cache
// in front of the user store, keyed by Telegram id.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"referral-bot/internal/models"
)

// UserSource is the durable store behind the cache.
type UserSource interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, fields map[string]interface{}) error
}

type entry struct {
	user       *models.User
	insertedAt time.Time
}

// UserCache expires entries a fixed TTL after insertion regardless of access,
// and evicts the oldest insertion once the maximum size is reached. Absence is
// never cached. All mutation happens under mu.
type UserCache struct {
	source  UserSource
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[int64]entry
	order   []int64

	group singleflight.Group
}

func New(source UserSource, ttl time.Duration, maxSize int) *UserCache {
	return &UserCache{
		source:  source,
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[int64]entry),
	}
}

// Get returns the cached user, or loads it from the store on a miss.
// A nil user without error means the user does not exist.
func (c *UserCache) Get(ctx context.Context, id int64) (*models.User, error) {
	if user, ok := c.lookup(id); ok {
		return user, nil
	}

	// Collapse concurrent misses for the same id into one store query.
	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		user, err := c.source.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			c.insert(id, user)
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.User), nil
}

// Update writes the fields through to the store, then refreshes the entry only
// if the user is currently cached. Uncached users repopulate on the next Get.
func (c *UserCache) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	if err := c.source.UpdateUser(ctx, id, fields); err != nil {
		return err
	}

	if _, cached := c.lookup(id); !cached {
		return nil
	}
	user, err := c.source.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user != nil {
		c.insert(id, user)
	}
	return nil
}

// Invalidate drops the entry, if any.
func (c *UserCache) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(id)
}

// Flush drops every entry. Bulk mutations that write the store directly call
// this so reads do not serve pre-settlement state for a TTL.
func (c *UserCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]entry)
	c.order = c.order[:0]
}

func (c *UserCache) lookup(id int64) (*models.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) >= c.ttl {
		c.remove(id)
		return nil, false
	}
	return e.user, true
}

func (c *UserCache) insert(id int64, user *models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(id)
	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		c.remove(c.order[0])
	}
	c.entries[id] = entry{user: user, insertedAt: time.Now()}
	c.order = append(c.order, id)
}

// remove must be called with mu held.
func (c *UserCache) remove(id int64) {
	if _, ok := c.entries[id]; !ok {
		return
	}
	delete(c.entries, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
