package interactivity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collector) callback(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) data() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, 0, len(c.updates))
	for _, u := range c.updates {
		out = append(out, u.Data)
	}
	return out
}

func TestSubscribeThenUnsubscribeRemovesEntry(t *testing.T) {
	bus := NewBus(nil)
	c := &collector{}

	sub := bus.Subscribe("selection", c.callback)
	assert.Equal(t, 1, bus.Len())

	bus.Unsubscribe("selection", sub)

	data, ok := bus.GetPublishedData("selection")
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Zero(t, bus.Len())
}

func TestPublishOverwrites(t *testing.T) {
	bus := NewBus(nil)

	bus.Publish("filter", []any{"a"})
	bus.Publish("filter", []any{"b", "c"})

	data, ok := bus.GetPublishedData("filter")
	require.True(t, ok)
	assert.Equal(t, []any{"b", "c"}, data)
}

func TestGetPublishedDataUnknownID(t *testing.T) {
	bus := NewBus(nil)
	data, ok := bus.GetPublishedData("missing")
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestEntryWithDataSurvivesLastUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("selection", func(Update) {})
	bus.Publish("selection", "row-1")

	bus.Unsubscribe("selection", sub)

	data, ok := bus.GetPublishedData("selection")
	require.True(t, ok)
	assert.Equal(t, "row-1", data)
	assert.Equal(t, 1, bus.Len())
}

func TestUnsubscribeRemovesOnlyFirstMatch(t *testing.T) {
	bus := NewBus(nil)
	a, b := &collector{}, &collector{}

	subA := bus.Subscribe("s", a.callback)
	bus.Subscribe("s", b.callback)
	bus.Unsubscribe("s", subA)
	bus.Unsubscribe("s", subA)
	bus.Unsubscribe("unknown", subA)

	bus.Publish("s", 1)
	assert.Empty(t, a.data())
	assert.Equal(t, []any{1}, b.data())
}

func TestNoRetroactiveDelivery(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish("s", "before")

	c := &collector{}
	bus.Subscribe("s", c.callback)
	assert.Empty(t, c.data())

	bus.Publish("s", "after")
	assert.Equal(t, []any{"after"}, c.data())
}

func TestPublishSkipsPublisher(t *testing.T) {
	bus := NewBus(nil)
	self, other := &collector{}, &collector{}

	selfSub := bus.Subscribe("s", self.callback)
	bus.Subscribe("s", other.callback)

	bus.Publish("s", "x", FromSubscriber(selfSub))

	assert.Empty(t, self.data())
	assert.Equal(t, []any{"x"}, other.data())
}

func TestFilteredPublication(t *testing.T) {
	bus := NewBus(nil)
	matching, unfiltered, otherFilter, translator := &collector{}, &collector{}, &collector{}, &collector{}

	bus.Subscribe("s", matching.callback, WithFilterIDs("f1", "f2"))
	bus.Subscribe("s", unfiltered.callback)
	bus.Subscribe("s", otherFilter.callback, WithFilterIDs("f3"))
	tsub := bus.Subscribe("s", translator.callback, WithFilterIDs("f3"), AsTranslator())

	bus.Publish("s", "scoped", WithFilterID("f2"))

	assert.Equal(t, []any{"scoped"}, matching.data())
	assert.Equal(t, []any{"scoped"}, unfiltered.data())
	assert.Empty(t, otherFilter.data())
	assert.Equal(t, []any{"scoped"}, translator.data())
	assert.True(t, tsub.Translator())
	assert.Equal(t, []string{"f3"}, tsub.FilterIDs())

	translator.mu.Lock()
	assert.Equal(t, "f2", translator.updates[0].FilterID)
	assert.Equal(t, "s", translator.updates[0].InteractivityID)
	translator.mu.Unlock()

	bus.Publish("s", "global")
	assert.Equal(t, []any{"global"}, otherFilter.data())
	assert.Equal(t, []any{"scoped", "global"}, matching.data())
}

func TestCallbackMayReenterBus(t *testing.T) {
	bus := NewBus(nil)
	var sub *Subscription
	sub = bus.Subscribe("s", func(u Update) {
		bus.Unsubscribe("s", sub)
		bus.Publish("echo", u.Data)
	})

	bus.Publish("s", "hi")

	data, ok := bus.GetPublishedData("echo")
	require.True(t, ok)
	assert.Equal(t, "hi", data)
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	c := &collector{}
	bus.Subscribe("s", func(Update) { panic("bad subscriber") })
	bus.Subscribe("s", c.callback)

	bus.Publish("s", 42)
	assert.Equal(t, []any{42}, c.data())
}

func TestClearAndTopics(t *testing.T) {
	bus := NewBus(nil)
	var published []string
	bus.OnPublish = func(id string) { published = append(published, id) }

	bus.Subscribe("b", func(Update) {})
	bus.Publish("a", "x")

	topics := bus.Topics()
	require.Len(t, topics, 2)
	assert.Equal(t, "a", topics[0].InteractivityID)
	assert.True(t, topics[0].HasData)
	assert.Equal(t, 1, topics[1].Subscribers)
	assert.False(t, topics[1].HasData)
	assert.Equal(t, []string{"a"}, published)

	bus.Clear()
	assert.Zero(t, bus.Len())
	assert.Empty(t, bus.Topics())
}
