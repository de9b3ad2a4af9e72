package pubsub

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []string
	data   []interface{}
	closed int
}

func (r *recordingSubscriber) Send(event ConversationEvent, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(event))
	r.data = append(r.data, data)
}

func (r *recordingSubscriber) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recordingSubscriber) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingSubscriber) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestRegistry_AddReportsFirst(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())

	_, first := reg.Add("tenant1:conv1", &recordingSubscriber{})
	assert.True(t, first)

	_, second := reg.Add("tenant1:conv1", &recordingSubscriber{})
	assert.False(t, second)

	_, otherKey := reg.Add("tenant1:conv2", &recordingSubscriber{})
	assert.True(t, otherKey)
}

func TestRegistry_RemoveReportsLastAndClosesOnce(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())
	sub := &recordingSubscriber{}

	id, _ := reg.Add("k", sub)

	assert.True(t, reg.Remove("k", id))
	assert.False(t, reg.HasSubscribers("k"))
	assert.Equal(t, 1, sub.closeCount())

	// Second removal of the same id is a no-op.
	assert.False(t, reg.Remove("k", id))
	assert.Equal(t, 1, sub.closeCount())
}

func TestRegistry_BroadcastIsolatedPerKey(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())
	subA := &recordingSubscriber{}
	subB := &recordingSubscriber{}

	reg.Add("a", subA)
	reg.Add("b", subB)

	reg.Broadcast("a", ConversationMessageCreated, "payload")

	assert.Equal(t, 1, subA.eventCount())
	assert.Zero(t, subB.eventCount())
}

func TestRegistry_BroadcastSurvivesPanickingSubscriber(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())
	healthy := &recordingSubscriber{}

	reg.Add("k", &SubscriberFuncs[ConversationEvent]{
		SendFunc: func(ConversationEvent, interface{}) { panic("boom") },
	})
	reg.Add("k", healthy)

	reg.Broadcast("k", ConversationMessageCreated, nil)

	assert.Equal(t, 1, healthy.eventCount())
}

func TestRegistry_ShutdownClosesEveryoneExactlyOnce(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())
	subs := []*recordingSubscriber{{}, {}, {}}

	reg.Add("a", subs[0])
	reg.Add("a", subs[1])
	reg.Add("b", subs[2])

	reg.Shutdown()
	reg.Shutdown()

	for i, s := range subs {
		assert.Equal(t, 1, s.closeCount(), "subscriber %d", i)
	}
	assert.Zero(t, reg.TotalCount())
}

func TestRegistry_RemovedSubscriberNotClosedAgainOnShutdown(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())
	sub := &recordingSubscriber{}

	id, _ := reg.Add("k", sub)
	reg.Remove("k", id)
	reg.Shutdown()

	assert.Equal(t, 1, sub.closeCount())
}

func TestRegistry_Counts(t *testing.T) {
	reg := NewRegistry[ConversationEvent](zerolog.Nop())

	require.Zero(t, reg.Count("k"))
	reg.Add("k", &recordingSubscriber{})
	reg.Add("k", &recordingSubscriber{})
	reg.Add("other", &recordingSubscriber{})

	assert.Equal(t, 2, reg.Count("k"))
	assert.Equal(t, 3, reg.TotalCount())
	assert.ElementsMatch(t, []string{"k", "other"}, reg.Keys())
}
