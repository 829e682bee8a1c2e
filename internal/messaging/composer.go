package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"geoforge/internal/models"
)

// Composer is one participant's chat state: the pending input, the messages
// received so far and the last send error. Messages only enter the list when
// the subscription delivers them.
type Composer struct {
	svc       *Service
	projectID string
	userID    string
	userName  string

	mu       sync.Mutex
	input    string
	messages []models.Message
	err      error
	onChange func()
}

func NewComposer(svc *Service, projectID, userID, userName string) *Composer {
	return &Composer{
		svc:       svc,
		projectID: projectID,
		userID:    userID,
		userName:  userName,
	}
}

// OnChange registers f to run after the message list or error state changes.
func (c *Composer) OnChange(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = f
}

func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

func (c *Composer) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

func (c *Composer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send publishes the pending input. The input is cleared before publishing;
// if the publish fails it is restored and the error is recorded. Blank input
// is ignored.
func (c *Composer) Send(ctx context.Context) error {
	c.mu.Lock()
	original := c.input
	content := strings.TrimSpace(original)
	if content == "" {
		c.mu.Unlock()
		return nil
	}
	c.input = ""
	c.err = nil
	c.mu.Unlock()

	err := c.svc.PublishMessage(ctx, c.projectID, models.MessageData{
		UserID:   c.userID,
		UserName: c.userName,
		Content:  content,
	})
	if err != nil {
		slog.Error("[MESSAGING] Failed to send message", "project", c.projectID, "user", c.userID, "error", err)
		c.mu.Lock()
		c.input = original
		c.err = err
		c.mu.Unlock()
		c.changed()
		return err
	}
	return nil
}

// Typing announces that this participant is typing.
func (c *Composer) Typing(ctx context.Context) error {
	return c.svc.PublishTyping(ctx, c.projectID, c.userID, c.userName)
}

// Attach subscribes the composer to the project's messages.
func (c *Composer) Attach(ctx context.Context) (func(), error) {
	return c.svc.SubscribeToMessages(ctx, c.projectID, func(m models.Message) {
		c.mu.Lock()
		c.messages = append(c.messages, m)
		c.mu.Unlock()
		c.changed()
	})
}

func (c *Composer) changed() {
	c.mu.Lock()
	f := c.onChange
	c.mu.Unlock()
	if f != nil {
		f()
	}
}
