package service

import (
	"context"
	"errors"
	"time"

	errspkg "github.com/drblury/viewbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/protocol"
)

// CallContext describes one host to view call to hooks.
type CallContext struct {
	// Identity of the instance making the call.
	Identity protocol.Identity
	// Method is the called method, or the message type for legacy calls.
	Method    string
	RequestID string
	Context   context.Context
	StartedAt time.Time
	// Duration is only set in OnCallDone and OnCallError.
	Duration time.Duration
}

// CallHooks defines callbacks for the call lifecycle. Nil hooks are skipped.
type CallHooks struct {
	// OnCallStart runs after the request was registered, before it is sent.
	OnCallStart func(ctx CallContext)

	// OnCallDone runs when a successful reply arrived.
	OnCallDone func(ctx CallContext)

	// OnCallError runs when the call failed, timed out or was cancelled.
	OnCallError func(ctx CallContext, err error)
}

// Merge combines two CallHooks. The hooks from other run after those of h.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart: chain(h.OnCallStart, other.OnCallStart),
		OnCallDone:  chain(h.OnCallDone, other.OnCallDone),
		OnCallError: chainError(h.OnCallError, other.OnCallError),
	}
}

func chain(a, b func(CallContext)) func(CallContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext) {
		a(ctx)
		b(ctx)
	}
}

func chainError(a, b func(CallContext, error)) func(CallContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h CallHooks) start(ctx CallContext) {
	if h.OnCallStart != nil {
		h.OnCallStart(ctx)
	}
}

func (h CallHooks) done(ctx CallContext, err error) {
	if err != nil {
		if h.OnCallError != nil {
			h.OnCallError(ctx, err)
		}
		return
	}
	if h.OnCallDone != nil {
		h.OnCallDone(ctx)
	}
}

// LoggingHooks returns hooks that log the call lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) CallHooks {
	fields := func(ctx CallContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"service":    ctx.Identity.Key(),
			"method":     ctx.Method,
			"request_id": ctx.RequestID,
		}
	}
	return CallHooks{
		OnCallStart: func(ctx CallContext) {
			logger.Debug("Call started", fields(ctx))
		},
		OnCallDone: func(ctx CallContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Call completed", f)
		},
		OnCallError: func(ctx CallContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Call failed", err, f)
		},
	}
}

// MetricsHooks returns hooks that record call outcomes in c.
func MetricsHooks(c *metricspkg.Collector) CallHooks {
	return CallHooks{
		OnCallDone: func(ctx CallContext) {
			c.RecordCall(ctx.Method, metricspkg.OutcomeOK, ctx.Duration)
		},
		OnCallError: func(ctx CallContext, err error) {
			c.RecordCall(ctx.Method, Outcome(err), ctx.Duration)
		},
	}
}

// Outcome classifies a call error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metricspkg.OutcomeOK
	case errors.Is(err, errspkg.ErrCallTimeout):
		return metricspkg.OutcomeTimeout
	case errors.Is(err, errspkg.ErrCallCancelled), errors.Is(err, errspkg.ErrInstanceDestroyed):
		return metricspkg.OutcomeCancelled
	default:
		return metricspkg.OutcomeError
	}
}
