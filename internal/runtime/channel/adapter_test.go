package channel

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/viewbridge/internal/runtime/metadata"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

const (
	hostOrigin = "https://host.example"
	viewOrigin = "https://view.example"
)

type recorder struct {
	mu       sync.Mutex
	messages []*protocol.Message
}

func (r *recorder) handle(_ context.Context, msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) snapshot() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Message(nil), r.messages...)
}

func newPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func newPair(t *testing.T, ps *gochannel.GoChannel) (host, view *Adapter) {
	t.Helper()
	var err error
	host, err = NewAdapter(ps, ps, HostConfig("test", "c1", hostOrigin, viewOrigin), loggingpkg.NewNopLogger())
	require.NoError(t, err)
	view, err = NewAdapter(ps, ps, ViewConfig("test", "c1", hostOrigin, viewOrigin), loggingpkg.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = host.Close()
		_ = view.Close()
	})
	return host, view
}

func publishRaw(t *testing.T, ps *gochannel.GoChannel, topic string, payload []byte, md metadatapkg.Metadata) {
	t.Helper()
	wm := message.NewMessage(watermill.NewUUID(), payload)
	wm.Metadata = metadatapkg.ToWatermill(md)
	require.NoError(t, ps.Publish(topic, wm))
}

func TestAdapterDeliversBetweenHostAndView(t *testing.T) {
	ps := newPubSub(t)
	host, view := newPair(t, ps)

	rec := &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), rec.handle))

	require.NoError(t, host.Send(context.Background(), &protocol.Message{Type: protocol.TypeGetValue, NodeID: "n1", RequestID: "r1"}, ""))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := rec.snapshot()[0]
	assert.Equal(t, protocol.TypeGetValue, got.Type)
	assert.Equal(t, "n1", got.NodeID)
	assert.Equal(t, "r1", got.RequestID)
	assert.Zero(t, view.Dropped())
}

func newBlockingPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestAdapterPreservesSendOrder(t *testing.T) {
	ps := newBlockingPubSub(t)
	host, view := newPair(t, ps)

	rec := &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), rec.handle))

	const count = 300
	for i := 0; i < count; i++ {
		require.NoError(t, host.Send(context.Background(), &protocol.Message{Type: protocol.TypeRequest, RequestID: strconv.Itoa(i)}, ""))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == count }, 5*time.Second, 5*time.Millisecond)
	for i, msg := range rec.snapshot() {
		require.Equal(t, strconv.Itoa(i), msg.RequestID, "position %d", i)
	}
}

func TestAdapterHandlersMaySendBothWays(t *testing.T) {
	ps := newBlockingPubSub(t)
	host, view := newPair(t, ps)

	const rounds = 50
	var hostSeen, updates atomic.Int32
	require.NoError(t, view.OnMessage(context.Background(), func(ctx context.Context, msg *protocol.Message) {
		if msg.Type == protocol.TypeInteractivityUpdate {
			updates.Add(1)
			return
		}
		_ = view.Send(ctx, msg.Reply(), "")
		_ = view.Send(ctx, &protocol.Message{Type: protocol.TypeAlert, Message: msg.RequestID}, "")
	}))
	require.NoError(t, host.OnMessage(context.Background(), func(ctx context.Context, msg *protocol.Message) {
		if hostSeen.Add(1)%2 == 0 {
			_ = host.Send(ctx, &protocol.Message{Type: protocol.TypeInteractivityUpdate, InteractivityID: msg.Message}, "")
		}
	}))

	for i := 0; i < rounds; i++ {
		require.NoError(t, host.Send(context.Background(), &protocol.Message{Type: protocol.TypeValidate, RequestID: strconv.Itoa(i)}, ""))
	}

	require.Eventually(t, func() bool {
		return hostSeen.Load() == 2*rounds && updates.Load() == rounds
	}, 5*time.Second, 5*time.Millisecond)
}

func TestNewWatermillMessageHeaders(t *testing.T) {
	wm, err := NewWatermillMessage(&protocol.Message{Type: protocol.TypeRequest, NodeID: "n1", RequestID: "r1"}, protocol.JSON(), hostOrigin, AnyOrigin)
	require.NoError(t, err)

	assert.Equal(t, hostOrigin, wm.Metadata.Get(metadatapkg.KeyOrigin))
	assert.Equal(t, AnyOrigin, wm.Metadata.Get(metadatapkg.KeyTargetOrigin))
	assert.Equal(t, protocol.ContentTypeJSON, wm.Metadata.Get(metadatapkg.KeyContentType))
	assert.Equal(t, "n1", wm.Metadata.Get(metadatapkg.KeyNodeID))
	assert.Equal(t, "request", wm.Metadata.Get(metadatapkg.KeyMessageType))
	assert.Equal(t, "r1", wm.Metadata.Get(metadatapkg.KeyCorrelationID))

	_, err = NewWatermillMessage(nil, protocol.JSON(), hostOrigin, AnyOrigin)
	assert.ErrorIs(t, err, errspkg.ErrMessagePayloadNeeded)
}

func TestAdapterDropsForeignOrigin(t *testing.T) {
	ps := newPubSub(t)
	_, view := newPair(t, ps)

	var drops []string
	var mu sync.Mutex
	view.cfg.OnDrop = func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		drops = append(drops, reason)
	}

	rec := &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), rec.handle))

	payload, err := protocol.JSON().Marshal(&protocol.Message{Type: protocol.TypeGetValue, NodeID: "n1"})
	require.NoError(t, err)
	publishRaw(t, ps, ViewTopic("test", "c1"), payload, metadatapkg.New(
		metadatapkg.KeyOrigin, "https://evil.example",
		metadatapkg.KeyContentType, protocol.ContentTypeJSON,
	))

	require.Eventually(t, func() bool { return view.Dropped() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.snapshot())
	mu.Lock()
	assert.Equal(t, []string{DropForeignOrigin}, drops)
	mu.Unlock()
}

func TestAdapterOriginExceptions(t *testing.T) {
	ps := newPubSub(t)
	_, view := newPair(t, ps)

	rec := &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), rec.handle))

	payload, err := protocol.JSON().Marshal(&protocol.Message{Type: protocol.TypeValidate, NodeID: "n1"})
	require.NoError(t, err)

	publishRaw(t, ps, ViewTopic("test", "c1"), payload, metadatapkg.New(metadatapkg.KeyOrigin, "file:///tmp/page.html"))
	publishRaw(t, ps, ViewTopic("test", "c1"), payload, metadatapkg.New(metadatapkg.KeyOrigin, AnyOrigin))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, view.Dropped())
}

func TestAdapterDropsMisaddressedAndUndecodable(t *testing.T) {
	ps := newPubSub(t)
	_, view := newPair(t, ps)

	rec := &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), rec.handle))

	payload, err := protocol.JSON().Marshal(&protocol.Message{Type: protocol.TypeValidate, NodeID: "n1"})
	require.NoError(t, err)

	publishRaw(t, ps, ViewTopic("test", "c1"), payload, metadatapkg.New(
		metadatapkg.KeyOrigin, hostOrigin,
		metadatapkg.KeyTargetOrigin, "https://other-view.example",
	))
	publishRaw(t, ps, ViewTopic("test", "c1"), []byte("{not json"), metadatapkg.New(metadatapkg.KeyOrigin, hostOrigin))
	publishRaw(t, ps, ViewTopic("test", "c1"), []byte(`{"nodeId":"n1"}`), metadatapkg.New(metadatapkg.KeyOrigin, hostOrigin))

	require.Eventually(t, func() bool { return view.Dropped() == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestAdapterDecodesByContentType(t *testing.T) {
	ps := newPubSub(t)
	host, view := newPair(t, ps)

	cborCodec, err := protocol.CBOR()
	require.NoError(t, err)
	host.cfg.Codec = cborCodec

	rec := &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), rec.handle))
	require.NoError(t, host.Send(context.Background(), &protocol.Message{
		Type:  protocol.TypeNotification,
		Event: map[string]any{"kind": "refresh"},
	}, ""))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"kind": "refresh"}, rec.snapshot()[0].Event)
}

func TestAdapterOnMessageReplacesHandler(t *testing.T) {
	ps := newPubSub(t)
	host, view := newPair(t, ps)

	first, second := &recorder{}, &recorder{}
	require.NoError(t, view.OnMessage(context.Background(), first.handle))
	require.NoError(t, view.OnMessage(context.Background(), second.handle))

	require.NoError(t, host.Send(context.Background(), &protocol.Message{Type: protocol.TypeValidate}, ""))

	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, first.snapshot())
	assert.Len(t, second.snapshot(), 1)
}

func TestAdapterRecoversHandlerPanic(t *testing.T) {
	ps := newPubSub(t)
	host, view := newPair(t, ps)

	var calls atomic.Int32
	require.NoError(t, view.OnMessage(context.Background(), func(_ context.Context, msg *protocol.Message) {
		calls.Add(1)
		if msg.RequestID == "boom" {
			panic("view exploded")
		}
	}))

	require.NoError(t, host.Send(context.Background(), &protocol.Message{Type: protocol.TypeRequest, RequestID: "boom"}, ""))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, host.Send(context.Background(), &protocol.Message{Type: protocol.TypeRequest, RequestID: "ok"}, ""))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAdapterClose(t *testing.T) {
	ps := newPubSub(t)
	host, _ := newPair(t, ps)

	require.NoError(t, host.Close())
	require.NoError(t, host.Close())
	assert.True(t, host.Closed())

	err := host.Send(context.Background(), &protocol.Message{Type: protocol.TypeInit}, "")
	assert.ErrorIs(t, err, errspkg.ErrAdapterClosed)
	assert.ErrorIs(t, host.OnMessage(context.Background(), func(context.Context, *protocol.Message) {}), errspkg.ErrAdapterClosed)
}

func TestNewAdapterValidation(t *testing.T) {
	ps := newPubSub(t)
	log := loggingpkg.NewNopLogger()
	cfg := HostConfig("test", "c1", hostOrigin, viewOrigin)

	_, err := NewAdapter(nil, ps, cfg, log)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
	_, err = NewAdapter(ps, nil, cfg, log)
	assert.ErrorIs(t, err, errspkg.ErrSubscriberRequired)
	_, err = NewAdapter(ps, ps, AdapterConfig{InboundTopic: "in"}, log)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
	_, err = NewAdapter(ps, ps, cfg, nil)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestOriginRules(t *testing.T) {
	tests := []struct {
		expected, origin string
		want             bool
	}{
		{hostOrigin, hostOrigin, true},
		{hostOrigin, "https://evil.example", false},
		{hostOrigin, "*", true},
		{hostOrigin, "file:///index.html", true},
		{"", "", true},
		{"", hostOrigin, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AcceptOrigin(tt.expected, tt.origin), "%s <- %s", tt.expected, tt.origin)
	}

	assert.Equal(t, "*", TargetOrigin(""))
	assert.Equal(t, "*", TargetOrigin("file:///index.html"))
	assert.Equal(t, hostOrigin, TargetOrigin(hostOrigin))

	assert.True(t, DeliverableTo("", viewOrigin))
	assert.True(t, DeliverableTo("*", viewOrigin))
	assert.True(t, DeliverableTo(viewOrigin, viewOrigin))
	assert.False(t, DeliverableTo(hostOrigin, viewOrigin))
}

func TestTopics(t *testing.T) {
	h := HostConfig("vb", "n1", hostOrigin, viewOrigin)
	v := ViewConfig("vb", "n1", hostOrigin, viewOrigin)

	assert.Equal(t, "vb.n1.host", h.InboundTopic)
	assert.Equal(t, "vb.n1.view", h.OutboundTopic)
	assert.Equal(t, h.InboundTopic, v.OutboundTopic)
	assert.Equal(t, h.OutboundTopic, v.InboundTopic)
	assert.Equal(t, viewOrigin, v.LocalOrigin)
	assert.Equal(t, hostOrigin, v.ExpectedOrigin)
}

func TestChannelID(t *testing.T) {
	id := protocol.Identity{NodeID: "3:1", ProjectID: "proj", WorkflowID: "wf.main", ExtensionType: "view"}
	assert.Equal(t, "proj-wf_2emain-3_3a1-view", ChannelID(id))
	assert.Equal(t, "vb.proj-wf_2emain-3_3a1-view.view", ViewTopic("vb", ChannelID(id)))

	id = protocol.Identity{NodeID: "n-1", ProjectID: "my_proj", WorkflowID: "wf", ExtensionType: "grüne"}
	assert.Equal(t, "my_5fproj-wf-n_2d1-gr_c3_bcne", ChannelID(id))
}

func TestChannelIDDistinguishesIdentities(t *testing.T) {
	identities := []protocol.Identity{
		{ProjectID: "a-b", WorkflowID: "c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a", WorkflowID: "b-c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a_b", WorkflowID: "c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a.b", WorkflowID: "c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a:b", WorkflowID: "c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a_2db", WorkflowID: "c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a", WorkflowID: "b", NodeID: "c-1", ExtensionType: "x"},
		{ProjectID: "", WorkflowID: "a-b-c", NodeID: "1", ExtensionType: "x"},
		{ProjectID: "a-b-c", WorkflowID: "", NodeID: "1", ExtensionType: "x"},
	}

	seen := make(map[string]protocol.Identity, len(identities))
	for _, id := range identities {
		channelID := ChannelID(id)
		if prev, ok := seen[channelID]; ok {
			t.Fatalf("%+v and %+v share channel id %q", prev, id, channelID)
		}
		seen[channelID] = id
		assert.Equal(t, 3, strings.Count(channelID, "-"), channelID)
		assert.Regexp(t, `^[A-Za-z0-9_-]*$`, channelID)
	}
}
