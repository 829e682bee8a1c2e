package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"geoforge/internal/models"
)

const DefaultTypingTTL = 3 * time.Second

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type typingEntry struct {
	data  models.TypingData
	gen   uint64
	timer stopper
}

// TypingTracker keeps the set of users currently typing on a project. A user
// drops out TTL after their last typing event.
type TypingTracker struct {
	selfID   string
	ttl      time.Duration
	onChange func()
	after    afterFunc

	mu     sync.Mutex
	seq    uint64
	typing map[string]*typingEntry
}

// NewTypingTracker ignores events from selfID. onChange, if set, runs when a
// user starts or stops typing, outside the tracker's lock.
func NewTypingTracker(selfID string, ttl time.Duration, onChange func()) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		selfID:   selfID,
		ttl:      ttl,
		onChange: onChange,
		after:    realAfterFunc,
		typing:   make(map[string]*typingEntry),
	}
}

// Handle records a typing event and restarts that user's expiry.
func (t *TypingTracker) Handle(d models.TypingData) {
	if d.UserID == "" || d.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	prev, exists := t.typing[d.UserID]
	if exists {
		prev.timer.Stop()
	}
	t.seq++
	gen := t.seq
	userID := d.UserID
	t.typing[userID] = &typingEntry{
		data:  d,
		gen:   gen,
		timer: t.after(t.ttl, func() { t.expire(userID, gen) }),
	}
	t.mu.Unlock()

	if !exists {
		t.changed()
	}
}

func (t *TypingTracker) expire(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.typing[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.typing, userID)
	t.mu.Unlock()

	t.changed()
}

// Typing returns the users currently typing ordered by name.
func (t *TypingTracker) Typing() []models.TypingData {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.TypingData, 0, len(t.typing))
	for _, e := range t.typing {
		out = append(out, e.data)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Attach subscribes the tracker to projectID's typing events. The returned
// function unsubscribes and cancels every pending expiry.
func (t *TypingTracker) Attach(ctx context.Context, svc *Service, projectID string) (func(), error) {
	unsubscribe, err := svc.SubscribeToTyping(ctx, projectID, t.Handle)
	if err != nil {
		return nil, err
	}

	return func() {
		unsubscribe()

		t.mu.Lock()
		for userID, e := range t.typing {
			e.timer.Stop()
			delete(t.typing, userID)
		}
		t.mu.Unlock()
	}, nil
}

func (t *TypingTracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
