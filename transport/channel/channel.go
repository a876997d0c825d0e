// Package channel provides the in-memory transport. Host and views in one
// process share a single gochannel pub/sub, so every Build call returns a
// handle onto the same instance. The instance is closed when the last
// handle is closed. Publish waits for every subscriber to take the message,
// which keeps the messages of one publisher in order.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/viewbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscription buffer of the shared pub/sub.
const OutputBuffer = 64

// PubSub is a publisher and subscriber in one value, as gochannel provides.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

// Factory creates the shared pub/sub. Tests may override it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) PubSub {
	return gochannel.NewGoChannel(cfg, logger)
}

var (
	mu     sync.Mutex
	shared PubSub
	refs   int
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns a handle onto the process-wide pub/sub.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	h := acquire(logger)
	return transport.Transport{
		Publisher:  h,
		Subscriber: h,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Handles returns the number of open handles.
func Handles() int {
	mu.Lock()
	defer mu.Unlock()
	return refs
}

func acquire(logger watermill.LoggerAdapter) *handle {
	mu.Lock()
	defer mu.Unlock()
	if shared == nil {
		shared = Factory(gochannel.Config{
			OutputChannelBuffer:            OutputBuffer,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
	}
	refs++
	return &handle{ps: shared}
}

func release() error {
	mu.Lock()
	defer mu.Unlock()
	refs--
	if refs > 0 {
		return nil
	}
	ps := shared
	shared = nil
	refs = 0
	if ps == nil {
		return nil
	}
	return ps.Close()
}

type handle struct {
	ps   PubSub
	once sync.Once
}

func (h *handle) Publish(topic string, messages ...*message.Message) error {
	return h.ps.Publish(topic, messages...)
}

func (h *handle) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return h.ps.Subscribe(ctx, topic)
}

// Close releases this handle. Further calls are no-ops.
func (h *handle) Close() error {
	var err error
	h.once.Do(func() { err = release() })
	return err
}
