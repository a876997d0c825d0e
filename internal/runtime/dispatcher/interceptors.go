package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

// LoadTimeoutMessage is reported to the host when a view's resources time out.
const LoadTimeoutMessage = "Required web resources timed out and could not be loaded."

var (
	loadTimeoutPattern = regexp.MustCompile(`(?i)load timeout`)
	errorTextPattern   = regexp.MustCompile(`(?i)error`)
)

// ReportError forwards load timeouts to the host as an error message. Any
// other error is logged at debug level and suppressed.
func (d *Dispatcher) ReportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if !loadTimeoutPattern.MatchString(err.Error()) {
		d.logger.Debug("Suppressing view error", loggingpkg.LogFields{"error": err.Error()})
		return nil
	}
	return d.send(ctx, &protocol.Message{Type: protocol.TypeError, Error: LoadTimeoutMessage})
}

// AlertLevel classifies alert text.
func AlertLevel(text string) string {
	if errorTextPattern.MatchString(text) {
		return protocol.LevelError
	}
	return protocol.LevelInfo
}

// Alert forwards text to the host's alert surface.
func (d *Dispatcher) Alert(ctx context.Context, text string) error {
	return d.send(ctx, &protocol.Message{Type: protocol.TypeAlert, Message: text, Level: AlertLevel(text)})
}

// LoadCounter tracks the resources a view loads before it can serve calls
// and reports the outcome to the host once.
type LoadCounter struct {
	d         *Dispatcher
	namespace string

	mu        sync.Mutex
	remaining int
	reported  bool
}

// NewLoadCounter expects the given number of resources, after which
// namespace must be registered.
func (d *Dispatcher) NewLoadCounter(expected int, namespace string) *LoadCounter {
	if namespace == "" {
		namespace = d.cfg.Namespace
	}
	return &LoadCounter{d: d, namespace: namespace, remaining: expected}
}

// Start reports success right away when nothing has to be loaded.
func (l *LoadCounter) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.reported || l.remaining > 0 {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.finish(ctx)
}

// Loaded marks one resource as loaded.
func (l *LoadCounter) Loaded(ctx context.Context, resource string) error {
	l.mu.Lock()
	if l.reported {
		l.mu.Unlock()
		return nil
	}
	l.remaining--
	done := l.remaining <= 0
	l.mu.Unlock()

	l.d.logger.Trace("Resource loaded", loggingpkg.LogFields{"resource": resource})
	if !done {
		return nil
	}
	return l.finish(ctx)
}

// Failed reports the failure of resource immediately.
func (l *LoadCounter) Failed(ctx context.Context, resource string, cause error) error {
	return l.report(ctx, fmt.Errorf("Resource %s could not be loaded: %v", resource, cause))
}

func (l *LoadCounter) finish(ctx context.Context) error {
	if !l.d.namespaces.Has(l.namespace) {
		return l.report(ctx, fmt.Errorf("Namespace %s was not found after all resources loaded.", l.namespace))
	}
	return l.report(ctx, nil)
}

func (l *LoadCounter) report(ctx context.Context, cause error) error {
	l.mu.Lock()
	if l.reported {
		l.mu.Unlock()
		return nil
	}
	l.reported = true
	l.mu.Unlock()
	return l.d.sendLoad(ctx, cause)
}

// Reported reports whether the outcome was sent.
func (l *LoadCounter) Reported() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reported
}
