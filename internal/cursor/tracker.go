package cursor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"geoforge/internal/models"
	"geoforge/internal/realtime"
)

const (
	DefaultCursorTTL = 3 * time.Second
	DefaultClickTTL  = 5 * time.Second
)

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type TrackerConfig struct {
	// SelfID is the observing user; their own events are ignored.
	SelfID    string
	CursorTTL time.Duration
	ClickTTL  time.Duration
	Palette   *Palette
	// OnChange, if set, is called after every change to the cursor map or
	// annotation list, outside the tracker's lock.
	OnChange func()
}

// Annotation is a received click kept until ClickTTL elapses.
type Annotation struct {
	ID    uint64 `json:"id"`
	Color string `json:"color"`
	models.CursorClick
}

type cursorEntry struct {
	pos   models.CursorPosition
	gen   uint64
	timer stopper
}

type annotationEntry struct {
	Annotation
	timer stopper
}

// Tracker is one observer's view of remote cursors and click annotations.
// Expiry is local to the observer.
type Tracker struct {
	cfg   TrackerConfig
	after afterFunc

	mu          sync.Mutex
	seq         uint64
	cursors     map[string]*cursorEntry
	annotations []*annotationEntry
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.CursorTTL <= 0 {
		cfg.CursorTTL = DefaultCursorTTL
	}
	if cfg.ClickTTL <= 0 {
		cfg.ClickTTL = DefaultClickTTL
	}
	if cfg.Palette == nil {
		cfg.Palette = NewPalette()
	}
	return &Tracker{
		cfg:     cfg,
		after:   realAfterFunc,
		cursors: make(map[string]*cursorEntry),
	}
}

// HandlePosition applies a received position. Inactive positions remove the
// user's cursor; active ones upsert it and restart its expiry timer.
func (t *Tracker) HandlePosition(pos models.CursorPosition) {
	if pos.UserID == t.cfg.SelfID {
		return
	}

	t.mu.Lock()
	prev, exists := t.cursors[pos.UserID]
	if exists {
		prev.timer.Stop()
	}

	if !pos.IsActive {
		delete(t.cursors, pos.UserID)
		t.mu.Unlock()
		if exists {
			t.changed()
		}
		return
	}

	t.seq++
	gen := t.seq
	userID := pos.UserID
	pos.UserColor = t.cfg.Palette.Color(userID)
	t.cursors[userID] = &cursorEntry{
		pos:   pos,
		gen:   gen,
		timer: t.after(t.cfg.CursorTTL, func() { t.expireCursor(userID, gen) }),
	}
	t.mu.Unlock()
	t.changed()
}

func (t *Tracker) expireCursor(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.cursors[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.cursors, userID)
	t.mu.Unlock()

	slog.Debug("[CURSOR] Cursor expired", "user", userID)
	t.changed()
}

// HandleClick appends a click annotation and schedules its removal.
func (t *Tracker) HandleClick(click models.CursorClick) {
	if click.UserID == t.cfg.SelfID {
		return
	}

	t.mu.Lock()
	t.seq++
	id := t.seq
	entry := &annotationEntry{
		Annotation: Annotation{ID: id, Color: t.cfg.Palette.Color(click.UserID), CursorClick: click},
	}
	entry.timer = t.after(t.cfg.ClickTTL, func() { t.expireClick(id) })
	t.annotations = append(t.annotations, entry)
	t.mu.Unlock()
	t.changed()
}

func (t *Tracker) expireClick(id uint64) {
	t.mu.Lock()
	removed := false
	for i, a := range t.annotations {
		if a.ID == id {
			t.annotations = append(t.annotations[:i], t.annotations[i+1:]...)
			removed = true
			break
		}
	}
	t.mu.Unlock()

	if removed {
		t.changed()
	}
}

// Cursors returns the live cursors ordered by user id.
func (t *Tracker) Cursors() []models.CursorPosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.CursorPosition, 0, len(t.cursors))
	for _, e := range t.cursors {
		out = append(out, e.pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Annotations returns the live annotations in arrival order.
func (t *Tracker) Annotations() []Annotation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Annotation, 0, len(t.annotations))
	for _, a := range t.annotations {
		out = append(out, a.Annotation)
	}
	return out
}

// Attach subscribes the tracker to a cursor session. The returned function
// unsubscribes and cancels every pending expiry.
func (t *Tracker) Attach(ctx context.Context, rt *realtime.Client, sessionID string) (func(), error) {
	channel := models.CursorChannel(sessionID)

	unsubMove, err := rt.Subscribe(ctx, channel, models.EventCursorMove, func(env realtime.Envelope) {
		var pos models.CursorPosition
		if err := env.Decode(&pos); err != nil {
			slog.Error("[CURSOR] Error unmarshaling position", "channel", channel, "error", err)
			return
		}
		t.HandlePosition(pos)
	})
	if err != nil {
		return nil, err
	}

	unsubClick, err := rt.Subscribe(ctx, channel, models.EventCursorClick, func(env realtime.Envelope) {
		var click models.CursorClick
		if err := env.Decode(&click); err != nil {
			slog.Error("[CURSOR] Error unmarshaling click", "channel", channel, "error", err)
			return
		}
		t.HandleClick(click)
	})
	if err != nil {
		unsubMove()
		return nil, err
	}

	return func() {
		unsubMove()
		unsubClick()
		t.stop()
	}, nil
}

func (t *Tracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, e := range t.cursors {
		e.timer.Stop()
		delete(t.cursors, userID)
	}
	for _, a := range t.annotations {
		a.timer.Stop()
	}
	t.annotations = nil
}

func (t *Tracker) changed() {
	if t.cfg.OnChange != nil {
		t.cfg.OnChange()
	}
}
