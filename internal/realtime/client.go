package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	ErrNotInitialized = errors.New("realtime client not initialized")
	ErrClosed         = errors.New("realtime client closed")
)

// Envelope wraps every payload published through the client.
type Envelope struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Name      string          `json:"name"`
	ClientID  string          `json:"clientId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler is invoked once per delivered envelope.
type Handler func(Envelope)

type handlerEntry struct {
	id      uint64
	name    string
	handler Handler
}

type channelSub struct {
	sub Subscription

	mu       sync.RWMutex
	handlers []handlerEntry
}

func (cs *channelSub) matching(name string) []Handler {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var out []Handler
	for _, e := range cs.handlers {
		if e.name == name {
			out = append(out, e.handler)
		}
	}
	return out
}

func (cs *channelSub) remove(id uint64) (empty bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i, e := range cs.handlers {
		if e.id == id {
			cs.handlers = append(cs.handlers[:i], cs.handlers[i+1:]...)
			break
		}
	}
	return len(cs.handlers) == 0
}

// Client is the single shared connection to the pub/sub provider. It is
// constructed once by the composition root and passed to every component.
type Client struct {
	transport Transport
	members   MemberStore
	clientID  string
	now       func() time.Time

	mu       sync.Mutex
	channels map[string]*channelSub
	nextID   uint64
	closed   bool

	stateMu sync.RWMutex
	state   State
}

// NewClient wraps a transport and member store. A nil transport yields a
// client that is not configured: every operation returns ErrNotInitialized.
func NewClient(transport Transport, members MemberStore, clientID string) *Client {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if transport == nil {
		slog.Warn("[REALTIME] No transport configured, realtime features are disabled")
	}
	return &Client{
		transport: transport,
		members:   members,
		clientID:  clientID,
		now:       time.Now,
		channels:  make(map[string]*channelSub),
		state:     StateInitialized,
	}
}

func (c *Client) IsConfigured() bool {
	return c.transport != nil
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) ready() error {
	if c.transport == nil {
		return ErrNotInitialized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Publish sends data as event name on channel. There is no retry; the
// transport error is returned to the caller.
func (c *Client) Publish(ctx context.Context, channel, name string, data any) error {
	if err := c.ready(); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}

	payload, err := json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Channel:   channel,
		Name:      name,
		ClientID:  c.clientID,
		Timestamp: c.now().UnixMilli(),
		Data:      raw,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := c.transport.Publish(ctx, channel, payload); err != nil {
		slog.Error("[REALTIME] Failed to publish", "channel", channel, "event", name, "error", err)
		return fmt.Errorf("publish %s on %s: %w", name, channel, err)
	}
	return nil
}

// Subscribe registers h for event name on channel. The returned function
// removes the handler and must be called when the subscriber goes away.
// Handlers on one channel run sequentially, in delivery order.
func (c *Client) Subscribe(ctx context.Context, channel, name string, h Handler) (func(), error) {
	if c.transport == nil {
		return nil, ErrNotInitialized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	cs, ok := c.channels[channel]
	if !ok {
		sub, err := c.transport.Subscribe(ctx, channel)
		if err != nil {
			slog.Error("[REALTIME] Failed to subscribe", "channel", channel, "error", err)
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		cs = &channelSub{sub: sub}
		c.channels[channel] = cs
		go c.dispatch(channel, cs)
		slog.Debug("[REALTIME] Channel attached", "channel", channel)
	}

	c.nextID++
	id := c.nextID
	cs.mu.Lock()
	cs.handlers = append(cs.handlers, handlerEntry{id: id, name: name, handler: h})
	cs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(channel, cs, id) })
	}, nil
}

func (c *Client) unsubscribe(channel string, cs *channelSub, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cs.remove(id) {
		return
	}
	if c.channels[channel] == cs {
		delete(c.channels, channel)
	}
	if err := cs.sub.Close(); err != nil {
		slog.Warn("[REALTIME] Failed to close subscription", "channel", channel, "error", err)
	}
	slog.Debug("[REALTIME] Channel detached", "channel", channel)
}

func (c *Client) dispatch(channel string, cs *channelSub) {
	for payload := range cs.sub.Messages() {
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			slog.Error("[REALTIME] Error unmarshaling envelope", "channel", channel, "error", err)
			continue
		}
		for _, h := range cs.matching(env.Name) {
			h(env)
		}
	}
}

func (c *Client) SetMember(ctx context.Context, channel string, m Member) (bool, error) {
	if err := c.memberReady(); err != nil {
		return false, err
	}
	return c.members.SetMember(ctx, channel, m)
}

func (c *Client) RemoveMember(ctx context.Context, channel, clientID string) (bool, error) {
	if err := c.memberReady(); err != nil {
		return false, err
	}
	return c.members.RemoveMember(ctx, channel, clientID)
}

func (c *Client) ListMembers(ctx context.Context, channel string) ([]Member, error) {
	if err := c.memberReady(); err != nil {
		return nil, err
	}
	return c.members.ListMembers(ctx, channel)
}

func (c *Client) MemberChannels(ctx context.Context) ([]string, error) {
	if err := c.memberReady(); err != nil {
		return nil, err
	}
	return c.members.MemberChannels(ctx)
}

func (c *Client) memberReady() error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.members == nil {
		return ErrNotInitialized
	}
	return nil
}

// Close detaches every channel and closes the transport.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for channel, cs := range c.channels {
		if err := cs.sub.Close(); err != nil {
			slog.Warn("[REALTIME] Failed to close subscription", "channel", channel, "error", err)
		}
		delete(c.channels, channel)
	}
	c.mu.Unlock()

	return c.transport.Close()
}
