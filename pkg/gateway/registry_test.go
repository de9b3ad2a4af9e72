package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry(t *testing.T) {
	t.Run("add, get and count", func(t *testing.T) {
		registry := NewClientRegistry()
		registry.Add(&Client{ID: "a"})
		registry.Add(&Client{ID: "b"})

		assert.Equal(t, 2, registry.Count())

		client, ok := registry.Get("a")
		require.True(t, ok)
		assert.Equal(t, "a", client.ID)

		_, ok = registry.Get("missing")
		assert.False(t, ok)
	})

	t.Run("remove cancels open subscriptions", func(t *testing.T) {
		registry := NewClientRegistry()
		client := &Client{ID: "a"}

		cancelled := 0
		client.addSubscription("sub-1", func() { cancelled++ })
		client.addSubscription("sub-2", func() { cancelled++ })
		registry.Add(client)

		registry.Remove("a")

		assert.Equal(t, 0, registry.Count())
		assert.Equal(t, 2, cancelled)
		assert.Equal(t, StateDisconnected, client.State)
	})

	t.Run("remove of unknown client is a no-op", func(t *testing.T) {
		registry := NewClientRegistry()
		registry.Remove("missing")
		assert.Equal(t, 0, registry.Count())
	})

	t.Run("snapshot reports subscriptions and idleness", func(t *testing.T) {
		registry := NewClientRegistry()

		active := &Client{
			ID:            "active",
			Authenticated: true,
			LastActivity:  time.Now(),
		}
		active.addSubscription("sub-1", func() {})

		stale := &Client{
			ID:           "stale",
			LastActivity: time.Now().Add(-10 * time.Minute),
		}

		registry.Add(active)
		registry.Add(stale)

		infos := registry.Snapshot()
		require.Len(t, infos, 2)

		byID := make(map[string]ClientInfo, len(infos))
		for _, info := range infos {
			byID[info.ID] = info
		}

		assert.True(t, byID["active"].Authenticated)
		assert.Equal(t, 1, byID["active"].Subscriptions)
		assert.False(t, byID["active"].Idle)
		assert.True(t, byID["stale"].Idle)
	})
}

func TestClient_Subscriptions(t *testing.T) {
	t.Run("remove runs cancel exactly once", func(t *testing.T) {
		client := &Client{ID: "a"}

		cancelled := 0
		client.addSubscription("sub-1", func() { cancelled++ })

		assert.True(t, client.removeSubscription("sub-1"))
		assert.False(t, client.removeSubscription("sub-1"))
		assert.Equal(t, 1, cancelled)
	})

	t.Run("close subscriptions cancels everything", func(t *testing.T) {
		client := &Client{ID: "a"}

		cancelled := 0
		client.addSubscription("sub-1", func() { cancelled++ })
		client.addSubscription("sub-2", func() { cancelled++ })

		client.closeSubscriptions()

		assert.Equal(t, 2, cancelled)
		assert.Equal(t, 0, client.subscriptionCount())
	})
}
