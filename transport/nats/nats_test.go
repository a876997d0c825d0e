package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/viewbridge/transport"
	"github.com/drblury/viewbridge/transport/transporttest"
)

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) (*nats.PublisherConfig, *nats.SubscriberConfig) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})

	var pubCfg nats.PublisherConfig
	var subCfg nats.SubscriberConfig
	PublisherFactory = func(cfg nats.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		pubCfg = cfg
		return pub, pubErr
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		subCfg = cfg
		return sub, subErr
	}
	return &pubCfg, &subCfg
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, Capabilities(), transport.DefaultRegistry.GetCapabilities(TransportName))
}

func TestBuild(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	pubCfg, subCfg := stubFactories(t, pub, nil, sub, nil)

	tr, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})

	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)

	assert.Equal(t, "nats://localhost:4222", pubCfg.URL)
	assert.Equal(t, "nats://localhost:4222", subCfg.URL)
	assert.True(t, pubCfg.JetStream.Disabled)
	assert.True(t, subCfg.JetStream.Disabled)
	assert.Len(t, pubCfg.NatsOptions, len(connectOptions()))
	assert.NotNil(t, subCfg.Unmarshaler)
}

func TestBuildRequiresURL(t *testing.T) {
	stubFactories(t, &transporttest.Publisher{}, nil, &transporttest.Subscriber{}, nil)

	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, ErrURLRequired)
}

func TestBuildPublisherError(t *testing.T) {
	stubFactories(t, nil, errors.New("publisher error"), &transporttest.Subscriber{}, nil)

	_, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://x"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "publisher error")
}

func TestBuildSubscriberErrorClosesPublisher(t *testing.T) {
	pub := &transporttest.Publisher{}
	stubFactories(t, pub, nil, nil, errors.New("subscriber error"))

	_, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://x"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.True(t, pub.Closed)
}
