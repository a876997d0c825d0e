// Package http provides an HTTP transport. Every topic becomes a POST
// route on the subscriber's server; the publisher posts to the peer's
// publisher URL with the topic as path.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/viewbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// ErrAddressRequired is returned when the server address or publisher URL is empty.
var ErrAddressRequired = errors.New("http: server address and publisher URL are required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates an HTTP transport. The subscriber's server starts with the
// first subscription.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" || publisherURL == "" {
		return transport.Transport{}, ErrAddressRequired
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &pathSubscriber{Subscriber: subscriber, logger: logger},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// TopicPath is the route a topic is served on.
func TopicPath(topic string) string {
	return "/" + strings.TrimPrefix(topic, "/")
}

// TopicURL is the URL a topic is published to.
func TopicURL(publisherURL, topic string) string {
	return strings.TrimSuffix(publisherURL, "/") + TopicPath(topic)
}

type serverStarter interface {
	StartHTTPServer() error
}

// pathSubscriber maps topics to routes and starts the server once.
type pathSubscriber struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *pathSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := s.Subscriber.Subscribe(ctx, TopicPath(topic))
	if err != nil {
		return nil, err
	}
	s.once.Do(s.start)
	return msgs, nil
}

func (s *pathSubscriber) start() {
	starter, ok := s.Subscriber.(serverStarter)
	if !ok {
		return
	}
	go func() {
		if err := starter.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			s.logger.Error("Failed to start HTTP subscriber server", err, nil)
		}
	}()
}
