// Package registry keeps the live service instances of a page, keyed by
// identity, and fans notifications out to them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

// Service is what the registry needs from a mounted view.
// *service.Instance satisfies it.
type Service interface {
	Identity() protocol.Identity
	PushNotification(ctx context.Context, event any) (any, error)
}

// Outcome is the result of delivering a notification to one service.
type Outcome struct {
	Identity protocol.Identity
	Result   any
	Err      error
}

// Registry maps identity keys to services. Re-registering an identity
// replaces the previous service.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	metrics  *metricspkg.Collector
	logger   loggingpkg.ServiceLogger
}

// New returns an empty registry. Both arguments may be nil.
func New(metrics *metricspkg.Collector, logger loggingpkg.ServiceLogger) *Registry {
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &Registry{
		services: make(map[string]Service),
		metrics:  metrics,
		logger:   logger,
	}
}

// Register inserts svc under its identity key.
func (r *Registry) Register(svc Service) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	key := svc.Identity().Key()

	r.mu.Lock()
	_, replaced := r.services[key]
	r.services[key] = svc
	n := len(r.services)
	r.mu.Unlock()

	r.metrics.SetRegisteredServices(n)
	r.logger.Debug("Service registered", loggingpkg.LogFields{"service": key, "replaced": replaced})
	return nil
}

// Deregister removes svc by identity key. Unknown services are ignored.
func (r *Registry) Deregister(svc Service) {
	if svc == nil {
		return
	}
	key := svc.Identity().Key()

	r.mu.Lock()
	_, ok := r.services[key]
	delete(r.services, key)
	n := len(r.services)
	r.mu.Unlock()

	if ok {
		r.metrics.SetRegisteredServices(n)
		r.logger.Debug("Service deregistered", loggingpkg.LogFields{"service": key})
	}
}

// Get returns the service registered for identity.
func (r *Registry) Get(identity protocol.Identity) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[identity.Key()]
	return svc, ok
}

// List returns the registered services ordered by identity key.
func (r *Registry) List() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.services))
	for key := range r.services {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	services := make([]Service, 0, len(keys))
	for _, key := range keys {
		services = append(services, r.services[key])
	}
	return services
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// PushNotification delivers event to every registered service concurrently
// and waits for all of them. A failing or panicking recipient only affects
// its own Outcome. Outcomes follow the order of List.
func (r *Registry) PushNotification(ctx context.Context, event any) []Outcome {
	services := r.List()
	outcomes := make([]Outcome, len(services))

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc Service) {
			defer wg.Done()
			outcomes[i] = deliver(ctx, svc, event)
		}(i, svc)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			r.logger.Debug("Notification failed", loggingpkg.LogFields{"service": o.Identity.Key(), "error": o.Err.Error()})
		}
	}
	return outcomes
}

func deliver(ctx context.Context, svc Service, event any) (out Outcome) {
	out.Identity = svc.Identity()
	defer func() {
		if rec := recover(); rec != nil {
			out.Result = nil
			out.Err = fmt.Errorf("notification handler panicked: %v", rec)
		}
	}()
	out.Result, out.Err = svc.PushNotification(ctx, event)
	return out
}
