package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

type stubService struct {
	id     protocol.Identity
	calls  atomic.Int32
	result any
	err    error
	panics bool
	delay  time.Duration
}

func (s *stubService) Identity() protocol.Identity { return s.id }

func (s *stubService) PushNotification(_ context.Context, event any) (any, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panics {
		panic("handler blew up")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return event, nil
}

func node(id string) protocol.Identity {
	return protocol.Identity{NodeID: id, ProjectID: "p", WorkflowID: "w", ExtensionType: "view"}
}

func TestRegisterDeregister(t *testing.T) {
	collector := metricspkg.New(prometheus.NewRegistry())
	r := New(collector, nil)

	n1 := &stubService{id: node("n1")}
	n2 := &stubService{id: node("n2")}
	require.NoError(t, r.Register(n1))
	require.NoError(t, r.Register(n2))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, collector.GetSnapshot().RegisteredServices)

	got, ok := r.Get(node("n1"))
	require.True(t, ok)
	assert.Same(t, n1, got)

	r.Deregister(n1)
	r.Deregister(n1)
	r.Deregister(nil)
	_, ok = r.Get(node("n1"))
	assert.False(t, ok)
	assert.Equal(t, 1, collector.GetSnapshot().RegisteredServices)

	assert.ErrorIs(t, r.Register(nil), errspkg.ErrServiceRequired)
}

func TestReRegisterLastWriterWins(t *testing.T) {
	r := New(nil, nil)
	first := &stubService{id: node("n1")}
	second := &stubService{id: node("n1")}

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	assert.Equal(t, 1, r.Len())
	got, _ := r.Get(node("n1"))
	assert.Same(t, second, got)
}

func TestPushNotificationReachesOnlyRegistered(t *testing.T) {
	r := New(nil, nil)
	n1 := &stubService{id: node("n1")}
	n2 := &stubService{id: node("n2")}
	require.NoError(t, r.Register(n1))
	require.NoError(t, r.Register(n2))

	r.Deregister(n1)
	outcomes := r.PushNotification(context.Background(), "refresh")

	require.Len(t, outcomes, 1)
	assert.Equal(t, node("n2"), outcomes[0].Identity)
	assert.Equal(t, "refresh", outcomes[0].Result)
	assert.Zero(t, n1.calls.Load())
	assert.Equal(t, int32(1), n2.calls.Load())
}

func TestPushNotificationIsolatesFailures(t *testing.T) {
	r := New(nil, nil)
	services := []*stubService{
		{id: node("a"), result: "a-ok"},
		{id: node("b"), err: errors.New("view gone")},
		{id: node("c"), panics: true},
		{id: node("d"), result: "d-ok"},
	}
	for _, s := range services {
		require.NoError(t, r.Register(s))
	}

	outcomes := r.PushNotification(context.Background(), "evt")

	require.Len(t, outcomes, 4)
	byNode := map[string]Outcome{}
	for _, o := range outcomes {
		byNode[o.Identity.NodeID] = o
	}
	assert.Equal(t, "a-ok", byNode["a"].Result)
	assert.NoError(t, byNode["a"].Err)
	assert.EqualError(t, byNode["b"].Err, "view gone")
	assert.ErrorContains(t, byNode["c"].Err, "panicked")
	assert.Equal(t, "d-ok", byNode["d"].Result)
	for _, s := range services {
		assert.Equal(t, int32(1), s.calls.Load())
	}
}

func TestPushNotificationRunsConcurrently(t *testing.T) {
	r := New(nil, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Register(&stubService{id: node(id), delay: 100 * time.Millisecond}))
	}

	start := time.Now()
	outcomes := r.PushNotification(context.Background(), nil)
	elapsed := time.Since(start)

	assert.Len(t, outcomes, 4)
	assert.Less(t, elapsed, 350*time.Millisecond)
}

func TestPushNotificationEmptyRegistry(t *testing.T) {
	assert.Empty(t, New(nil, nil).PushNotification(context.Background(), "x"))
}

func TestListIsOrdered(t *testing.T) {
	r := New(nil, nil)
	require.NoError(t, r.Register(&stubService{id: node("z")}))
	require.NoError(t, r.Register(&stubService{id: node("a")}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Identity().NodeID)
	assert.Equal(t, "z", list[1].Identity().NodeID)
}
