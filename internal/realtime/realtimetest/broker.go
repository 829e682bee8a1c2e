// Package realtimetest provides an in-memory pub/sub broker implementing
// realtime.Transport and realtime.MemberStore for tests.
package realtimetest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"geoforge/internal/realtime"

	"github.com/goccy/go-json"
)

const bufferSize = 1024

type Broker struct {
	mu         sync.Mutex
	subs       map[string]map[*subscription]struct{}
	members    map[string]map[string]realtime.Member
	published  map[string][]realtime.Envelope
	publishErr error
	pingErr    error
	closed     bool
}

func NewBroker() *Broker {
	return &Broker{
		subs:      make(map[string]map[*subscription]struct{}),
		members:   make(map[string]map[string]realtime.Member),
		published: make(map[string][]realtime.Envelope),
	}
}

// NewClient returns a realtime client wired to a fresh broker.
func NewClient(clientID string) (*realtime.Client, *Broker) {
	b := NewBroker()
	return realtime.NewClient(b, b, clientID), b
}

// FailPublish makes every subsequent Publish return err. Pass nil to recover.
func (b *Broker) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// FailPing makes every subsequent Ping return err. Pass nil to recover.
func (b *Broker) FailPing(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pingErr = err
}

// Published returns the envelopes published on channel, oldest first.
func (b *Broker) Published(channel string) []realtime.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.Envelope(nil), b.published[channel]...)
}

// PublishedNamed returns the envelopes named name published on channel.
func (b *Broker) PublishedNamed(channel, name string) []realtime.Envelope {
	var out []realtime.Envelope
	for _, env := range b.Published(channel) {
		if env.Name == name {
			out = append(out, env)
		}
	}
	return out
}

// Subscribers reports how many live subscriptions channel has.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("broker closed")
	}
	if b.publishErr != nil {
		return b.publishErr
	}

	var env realtime.Envelope
	if err := json.Unmarshal(payload, &env); err == nil {
		b.published[channel] = append(b.published[channel], env)
	}

	for s := range b.subs[channel] {
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, channel string) (realtime.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("broker closed")
	}

	s := &subscription{broker: b, channel: channel, ch: make(chan []byte, bufferSize)}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	return s, nil
}

func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for channel, set := range b.subs {
		for s := range set {
			s.closeLocked()
		}
		delete(b.subs, channel)
	}
	return nil
}

func (b *Broker) SetMember(_ context.Context, channel string, m realtime.Member) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.members[channel] == nil {
		b.members[channel] = make(map[string]realtime.Member)
	}
	_, exists := b.members[channel][m.ClientID]
	b.members[channel][m.ClientID] = m
	return !exists, nil
}

func (b *Broker) RemoveMember(_ context.Context, channel, clientID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.members[channel][clientID]; !ok {
		return false, nil
	}
	delete(b.members[channel], clientID)
	if len(b.members[channel]) == 0 {
		delete(b.members, channel)
	}
	return true, nil
}

func (b *Broker) ListMembers(_ context.Context, channel string) ([]realtime.Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]realtime.Member, 0, len(b.members[channel]))
	for _, m := range b.members[channel] {
		out = append(out, m)
	}
	return out, nil
}

func (b *Broker) MemberChannels(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.members))
	for channel := range b.members {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out, nil
}

type subscription struct {
	broker  *Broker
	channel string
	ch      chan []byte
	closed  bool
}

func (s *subscription) Messages() <-chan []byte {
	return s.ch
}

func (s *subscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.broker.subs[s.channel], s)
	close(s.ch)
}
