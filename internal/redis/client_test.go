package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"geoforge/internal/models"
	"geoforge/internal/realtime"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestClient_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "project-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Publish(ctx, "project-1", []byte(`{"n":1}`)))
	require.NoError(t, c.Publish(ctx, "project-2", []byte(`{"n":2}`)))
	require.NoError(t, c.Publish(ctx, "project-1", []byte(`{"n":3}`)))

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-sub.Messages():
			got = append(got, string(msg))
		case <-timeout:
			t.Fatalf("received %d of 2 messages", len(got))
		}
	}
	assert.Equal(t, []string{`{"n":1}`, `{"n":3}`}, got)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.Eventually(t, func() bool {
		_, open := <-sub.Messages()
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestClient_Members(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	alice := realtime.Member{
		ClientID:  "conn-a",
		Record:    models.PresenceRecord{UserID: "u1", UserName: "Alice", Status: models.StatusOnline},
		EnteredAt: now,
		LastSeen:  now,
	}
	bob := realtime.Member{
		ClientID:  "conn-b",
		Record:    models.PresenceRecord{UserID: "u2", UserName: "Bob", Status: models.StatusAway},
		EnteredAt: now,
		LastSeen:  now,
	}

	added, err := c.SetMember(ctx, "project-1", alice)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = c.SetMember(ctx, "project-1", bob)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, mr.Exists("presence:project-1"))

	t.Run("rewrite is not an add", func(t *testing.T) {
		added, err := c.SetMember(ctx, "project-1", alice)
		require.NoError(t, err)
		assert.False(t, added)
	})

	members, err := c.ListMembers(ctx, "project-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []realtime.Member{alice, bob}, members)

	channels, err := c.MemberChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"project-1"}, channels)

	t.Run("remove", func(t *testing.T) {
		removed, err := c.RemoveMember(ctx, "project-1", "conn-a")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = c.RemoveMember(ctx, "project-1", "conn-a")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("last member clears channel index", func(t *testing.T) {
		_, err := c.RemoveMember(ctx, "project-1", "conn-b")
		require.NoError(t, err)

		channels, err := c.MemberChannels(ctx)
		require.NoError(t, err)
		assert.Empty(t, channels)

		members, err := c.ListMembers(ctx, "project-1")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestClient_RemoveMemberKeepsIndexForConcurrentJoin(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	member := func(id string) realtime.Member {
		return realtime.Member{ClientID: id, Record: models.PresenceRecord{UserID: id}, EnteredAt: now, LastSeen: now}
	}

	for i := 0; i < 50; i++ {
		_, err := c.SetMember(ctx, "project-1", member("conn-a"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.RemoveMember(ctx, "project-1", "conn-a")
		}()
		go func() {
			defer wg.Done()
			_, _ = c.SetMember(ctx, "project-1", member("conn-b"))
		}()
		wg.Wait()

		channels, err := c.MemberChannels(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"project-1"}, channels, "iteration %d", i)

		_, err = c.RemoveMember(ctx, "project-1", "conn-b")
		require.NoError(t, err)
	}

	channels, err := c.MemberChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestClient_Ping(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
