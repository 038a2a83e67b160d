// Package controller is the public registration surface: For(kind).
// WithReconciler(...).WithFinalizer(...).Complete(host) builds one
// watcher+dispatcher pair per kind and registers it with an Operator
// Host, per the "dynamic dispatch over resource kinds" design note —
// a type-erased per-kind registry entry built at registration time,
// since the core has no compile-time knowledge of user object types.
//
// Grounded on the shape of datum-cloud-milo's own per-controller
// registration (ControllerDescriptor{name, aliases, initFunc} in
// cmd/milo/controller-manager/core.go), adapted from a name+initFunc
// pair to a fluent builder since this package's controllers are
// generic over kind rather than individually hand-written.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/dynamic"

	"go.datum.net/operatorcore/internal/dispatch"
	"go.datum.net/operatorcore/internal/finalizer"
	"go.datum.net/operatorcore/internal/host"
	"go.datum.net/operatorcore/internal/k8sclient"
	"go.datum.net/operatorcore/internal/queue"
	"go.datum.net/operatorcore/internal/selector"
	"go.datum.net/operatorcore/internal/telemetry"
	"go.datum.net/operatorcore/internal/watcher"
	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/reconcile"
)

// Builder configures one controller registration. Build it with For,
// chain With* calls, and finish with Complete.
type Builder struct {
	descriptor    kind.Descriptor
	client        dynamic.Interface
	namespace     string
	labelSelector selector.Provider

	workers                  int
	watchReconnectMaxBackoff time.Duration
	reconcileTimeout         time.Duration
	allowBookmarks           bool

	reconcileFn reconcile.Func
	finalizers  *finalizer.Chain

	logger   logr.Logger
	registry prometheus.Registerer

	err error
}

// For begins a registration for the given resource kind.
func For(descriptor kind.Descriptor) *Builder {
	return &Builder{descriptor: descriptor}
}

// WithClient supplies the dynamic client the controller watches and
// acts through. Required.
func (b *Builder) WithClient(client dynamic.Interface) *Builder {
	b.client = client
	return b
}

// WithNamespace scopes the watch; empty watches cluster-wide.
func (b *Builder) WithNamespace(ns string) *Builder {
	b.namespace = ns
	return b
}

// WithLabelSelector supplies the C2 selector provider.
func (b *Builder) WithLabelSelector(sel selector.Provider) *Builder {
	b.labelSelector = sel
	return b
}

// WithWorkers sets the dispatcher's worker-pool size. Default 1.
func (b *Builder) WithWorkers(n int) *Builder {
	b.workers = n
	return b
}

// WithWatchReconnectMaxBackoff caps the watcher's reconnect delay.
// Default 32s.
func (b *Builder) WithWatchReconnectMaxBackoff(d time.Duration) *Builder {
	b.watchReconnectMaxBackoff = d
	return b
}

// WithReconcileTimeout bounds a single Reconcile invocation. Default 30s.
func (b *Builder) WithReconcileTimeout(d time.Duration) *Builder {
	b.reconcileTimeout = d
	return b
}

// WithAllowBookmarks requests bookmark frames on the watch stream.
func (b *Builder) WithAllowBookmarks(allow bool) *Builder {
	b.allowBookmarks = allow
	return b
}

// WithReconciler supplies the user reconciliation logic. Required.
func (b *Builder) WithReconciler(fn reconcile.Func) *Builder {
	b.reconcileFn = fn
	return b
}

// WithFinalizer registers one finalizer in the chain invoked on
// deletion (spec §4.6). Call multiple times to build an ordered chain;
// registration errors (an invalid id) surface from Complete.
func (b *Builder) WithFinalizer(id string, fn finalizer.Func) *Builder {
	if b.finalizers == nil {
		b.finalizers = &finalizer.Chain{}
	}
	if err := b.finalizers.Register(id, fn); err != nil && b.err == nil {
		b.err = err
	}
	return b
}

// WithLogger supplies the logger this controller's watcher and
// dispatcher log through. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger logr.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegistry registers this controller's Prometheus metrics
// under reg. Without it the metrics are still recorded but are not
// registered with any registerer.
func (b *Builder) WithMetricsRegistry(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// Complete validates the registration, wires C1-C6 together into one
// Runnable, and registers it with h.
func (b *Builder) Complete(h *host.Host) error {
	if b.err != nil {
		return fmt.Errorf("controller for %s: %w", b.descriptor, b.err)
	}
	if b.client == nil {
		return fmt.Errorf("controller for %s: WithClient is required", b.descriptor)
	}
	if b.reconcileFn == nil {
		return fmt.Errorf("controller for %s: WithReconciler is required", b.descriptor)
	}

	sel := b.labelSelector
	if sel == nil {
		sel = selector.Static("")
	}

	facade := k8sclient.New(b.client, b.descriptor)
	kindName := b.descriptor.Kind

	q := queue.New(telemetry.NewQueueMetrics(b.registry, kindName))
	w := watcher.New(facade, sel, q, b.logger, telemetry.NewWatchMetrics(b.registry, kindName), watcher.Config{
		Namespace:      b.namespace,
		AllowBookmarks: b.allowBookmarks,
		MaxBackoff:     b.watchReconnectMaxBackoff,
	})
	d := dispatch.New(dispatch.Config{
		Kind:             kindName,
		Workers:          b.workers,
		ReconcileTimeout: b.reconcileTimeout,
	}, q, facade, b.finalizers, b.reconcileFn, b.logger, telemetry.NewDispatchMetrics(b.registry, kindName))

	h.Register(host.Registration{
		Name:     b.descriptor.String(),
		Runnable: &controllerRunnable{watcher: w, dispatcher: d},
	})
	return nil
}

// controllerRunnable pairs one kind's watcher and dispatcher into a
// single host.Runnable, per the design note on the streaming client's
// lifetime: the reader (watcher) and its consumer (dispatcher) are
// owned by the same cancellation scope and stopped together.
type controllerRunnable struct {
	watcher    *watcher.Watcher
	dispatcher *dispatch.Dispatcher
}

func (c *controllerRunnable) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.watcher.Run(ctx) }()
	go func() { errCh <- c.dispatcher.Run(ctx) }()

	var errs []error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return kerrors.NewAggregate(errs)
}
