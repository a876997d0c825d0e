/*
Package runtime wires the viewbridge building blocks into the two ends of a
page: the Host, which mounts views, and the View, which answers the host.

# Architecture Overview

Host and views talk through message channels. A channel is a pair of topics
on a Watermill transport, one per direction, guarded by origin checks. The
in-memory channel transport plays the part of window.postMessage inside one
process; the broker transports carry the same protocol between processes.

# Package Structure

## Host (host.go)

The Host owns the page side:
  - one service.Instance per mounted view, with its channel adapter
  - the service registry used for notification fan-out
  - the interactivity bus shared by all views of the page
  - the Prometheus collector and the optional metrics endpoint

## View (view.go)

The View binds a dispatcher to the view end of one channel. Methods are
exposed per namespace; the dispatcher resolves init, validate, getValue,
setValidationError and generic requests against them.

## Inspector (inspector.go)

A read-only JSON API served next to the metrics endpoint:
  - /api/services: mounted views, pending calls and subscriptions
  - /api/interactivity: bus entries with their published data
  - /api/stats: transport capabilities and metric counters

# Lifecycle

	host, _ := runtime.NewHost(ctx, hostConf, logger, runtime.HostDependencies{})
	view, _ := runtime.NewView(ctx, viewConf, identity, logger, runtime.ViewDependencies{})
	view.Register("checkout", dispatcher.View{...})
	_ = view.Start(ctx)
	instance, _ := host.Mount(ctx, identity)
	_ = instance.Init(ctx, representation, value)
	ok, _ := instance.Validate(ctx)

Unmount destroys the instance and cancels its pending calls. ResetPage clears
the interactivity bus when the page is left.
*/
package runtime
