package notify

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Board keeps the notifications currently on display. Keyed notifications
// are updated in place; unkeyed ones are appended and the oldest are
// evicted past the limit.
type Board struct {
	mu     sync.Mutex
	limit  int
	seq    int
	active map[string]entry
}

type entry struct {
	seq int
	n   Notification
}

// NewBoard creates a Board holding at most limit notifications
// (default 50).
func NewBoard(limit int) *Board {
	if limit <= 0 {
		limit = 50
	}
	return &Board{limit: limit, active: make(map[string]entry)}
}

func (b *Board) Notify(_ context.Context, n Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	key := n.ID
	if key == "" {
		key = "\x00" + strconv.Itoa(b.seq)
	}
	if old, ok := b.active[key]; ok {
		b.active[key] = entry{seq: old.seq, n: n}
		return nil
	}
	b.active[key] = entry{seq: b.seq, n: n}
	for len(b.active) > b.limit {
		b.evictOldest()
	}
	return nil
}

func (b *Board) Clear(_ context.Context, id string) error {
	b.mu.Lock()
	delete(b.active, id)
	b.mu.Unlock()
	return nil
}

// List returns the current notifications, oldest first.
func (b *Board) List() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	es := make([]entry, 0, len(b.active))
	for _, e := range b.active {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]Notification, len(es))
	for i, e := range es {
		out[i] = e.n
	}
	return out
}

// Get returns the notification stored under id.
func (b *Board) Get(id string) (Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.active[id]
	return e.n, ok
}

func (b *Board) evictOldest() {
	var oldestKey string
	oldest := -1
	for k, e := range b.active {
		if oldest < 0 || e.seq < oldest {
			oldest, oldestKey = e.seq, k
		}
	}
	delete(b.active, oldestKey)
}
