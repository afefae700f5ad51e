package transaction

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
)

// Completed remembers the IDs of recently finished transactions so late
// duplicates can be dropped. Eviction is strictly by insertion age: only
// non-promoting cache operations are used, so a lookup never refreshes an
// entry. All methods are atomic.
type Completed struct {
	cache *lru.Cache
}

// NewCompleted creates a cache holding at most size IDs
func NewCompleted(size int) (*Completed, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Completed{cache: c}, nil
}

// Add inserts id, evicting the oldest entry when full. Re-adding an
// existing id does not change its age.
func (c *Completed) Add(id protocol.MessageID) {
	c.cache.ContainsOrAdd(id, struct{}{})
}

// Contains reports whether id finished recently
func (c *Completed) Contains(id protocol.MessageID) bool {
	return c.cache.Contains(id)
}

// ContainsOrAdd checks for id and inserts it if absent in one step.
// It reports whether id was already present.
func (c *Completed) ContainsOrAdd(id protocol.MessageID) bool {
	ok, _ := c.cache.ContainsOrAdd(id, struct{}{})
	return ok
}

// Len returns the number of remembered IDs
func (c *Completed) Len() int {
	return c.cache.Len()
}
