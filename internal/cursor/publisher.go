package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoforge/internal/models"
	"geoforge/internal/realtime"

	"golang.org/x/time/rate"
)

var ErrOutOfBounds = errors.New("cursor: position outside [0,1]")

// Point is a pointer location in client coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is the bounding box of the shared surface in client coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalize maps p into the unit square of r. A degenerate rect yields a
// point outside [0,1].
func (r Rect) Normalize(p Point) (x, y float64) {
	if r.Width <= 0 || r.Height <= 0 {
		return -1, -1
	}
	return (p.X - r.Left) / r.Width, (p.Y - r.Top) / r.Height
}

func inBounds(x, y float64) bool {
	return x >= 0 && x <= 1 && y >= 0 && y <= 1
}

// Publisher emits one user's cursor on one session channel.
type Publisher struct {
	rt       *realtime.Client
	channel  string
	userID   string
	userName string
	color    string
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewPublisher creates a publisher that sends at most one position per
// throttle interval. A zero throttle disables throttling.
func NewPublisher(rt *realtime.Client, sessionID, userID, userName string, throttle time.Duration, palette *Palette) *Publisher {
	limit := rate.Inf
	if throttle > 0 {
		limit = rate.Every(throttle)
	}
	if palette == nil {
		palette = NewPalette()
	}
	return &Publisher{
		rt:       rt,
		channel:  models.CursorChannel(sessionID),
		userID:   userID,
		userName: userName,
		color:    palette.Color(userID),
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

func (p *Publisher) Channel() string {
	return p.channel
}

// Move publishes a normalized position. Positions outside the unit square
// are dropped without using the throttle budget. It reports whether a
// publish was attempted.
func (p *Publisher) Move(ctx context.Context, x, y float64) (bool, error) {
	if !inBounds(x, y) {
		return false, nil
	}

	now := p.now()
	if !p.limiter.AllowN(now, 1) {
		return false, nil
	}

	return true, p.publishPosition(ctx, now, x, y, true)
}

// MoveWithin normalizes a client-space pointer to bounds and calls Move.
func (p *Publisher) MoveWithin(ctx context.Context, pointer Point, bounds Rect) (bool, error) {
	x, y := bounds.Normalize(pointer)
	return p.Move(ctx, x, y)
}

// Leave publishes an inactive position so observers hide the cursor. It is
// never throttled.
func (p *Publisher) Leave(ctx context.Context) error {
	return p.publishPosition(ctx, p.now(), 0, 0, false)
}

// Click publishes a click annotation at a normalized position.
func (p *Publisher) Click(ctx context.Context, x, y float64, annotation string) error {
	if !inBounds(x, y) {
		return ErrOutOfBounds
	}

	click := models.CursorClick{
		UserID:     p.userID,
		UserName:   p.userName,
		X:          x,
		Y:          y,
		Timestamp:  p.now().UnixMilli(),
		Annotation: annotation,
	}
	if err := p.rt.Publish(ctx, p.channel, models.EventCursorClick, click); err != nil {
		return fmt.Errorf("cursor click: %w", err)
	}
	return nil
}

func (p *Publisher) publishPosition(ctx context.Context, now time.Time, x, y float64, active bool) error {
	pos := models.CursorPosition{
		UserID:    p.userID,
		UserName:  p.userName,
		UserColor: p.color,
		X:         x,
		Y:         y,
		Timestamp: now.UnixMilli(),
		IsActive:  active,
	}
	if err := p.rt.Publish(ctx, p.channel, models.EventCursorMove, pos); err != nil {
		return fmt.Errorf("cursor move: %w", err)
	}
	return nil
}
