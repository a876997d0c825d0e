package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

type closingPublisher struct {
	closed int
	err    error
}

func (p *closingPublisher) Publish(string, ...*message.Message) error { return nil }
func (p *closingPublisher) Close() error {
	p.closed++
	return p.err
}

type closingSubscriber struct {
	closed int
	err    error
}

func (s *closingSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}

func (s *closingSubscriber) Close() error {
	s.closed++
	return s.err
}

// pubSub mimics gochannel, where one value is both halves.
type pubSub struct {
	closingPublisher
}

func (p *pubSub) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}

func TestTransportCloseClosesBothHalves(t *testing.T) {
	pub := &closingPublisher{}
	sub := &closingSubscriber{err: errors.New("sub close failed")}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()

	assert.ErrorContains(t, err, "sub close failed")
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	ps := &pubSub{}

	assert.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
	assert.Equal(t, 1, ps.closed)
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, Transport{}.Close())
}

func TestCapabilities(t *testing.T) {
	assert.True(t, KafkaCapabilities.SupportsReliableDelivery())
	assert.False(t, NATSCapabilities.SupportsReliableDelivery())

	assert.False(t, ChannelCapabilities.CrossProcess)
	for _, caps := range []Capabilities{KafkaCapabilities, RabbitMQCapabilities, NATSCapabilities, HTTPCapabilities, AWSCapabilities} {
		assert.True(t, caps.CrossProcess, caps.Name)
		assert.True(t, caps.PreservesMetadata, caps.Name)
	}

	assert.True(t, ChannelCapabilities.Fits(10<<20))
	assert.True(t, AWSCapabilities.Fits(256*1024))
	assert.False(t, AWSCapabilities.Fits(256*1024+1))
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities { return Capabilities{Name: "test"} }

func TestCapabilitiesProvider(t *testing.T) {
	var p CapabilitiesProvider = testProvider{}
	assert.Equal(t, "test", p.Capabilities().Name)
}
