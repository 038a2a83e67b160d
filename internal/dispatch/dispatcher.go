// Package dispatch implements C5, the pool of worker goroutines that
// pulls items off the Event Queue and drives them through the
// deletion-gate / finalizer-registration / Reconcile pipeline from spec
// §4.5.
//
// Grounded on rexagod-resource-state-metrics/internal/controller.go's
// worker-pool shape (wait.UntilWithContext driving processNextWorkItem
// in a tight loop per worker) and on datum-cloud-milo's
// project_controller.go for the deletion-gate / finalizer control flow.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"go.datum.net/operatorcore/internal/finalizer"
	"go.datum.net/operatorcore/internal/queue"
	"go.datum.net/operatorcore/internal/telemetry"
	"go.datum.net/operatorcore/pkg/event"
	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/object"
	"go.datum.net/operatorcore/pkg/reconcile"
)

// Client is the subset of the C1 facade the dispatcher needs: an
// authoritative re-fetch and a merge-patch for finalizer bookkeeping.
type Client interface {
	Get(ctx context.Context, key kind.ObjectKey) (object.Object, error)
	Patch(ctx context.Context, key kind.ObjectKey, patch map[string]interface{}) (object.Object, error)
}

// Config tunes one Dispatcher.
type Config struct {
	// Kind names the watched resource kind, used as a metric/trace label.
	Kind string
	// Workers is the number of worker goroutines pulling from the queue.
	// Defaults to 1.
	Workers int
	// ReconcileTimeout bounds a single Reconcile invocation. Defaults to 30s.
	ReconcileTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher is the C5 worker pool for one controller registration.
type Dispatcher struct {
	cfg        Config
	queue      *queue.Queue
	client     Client
	finalizers *finalizer.Chain
	reconcile  reconcile.Func
	logger     logr.Logger
	metrics    *telemetry.DispatchMetrics
}

// New builds a Dispatcher. finalizers and metrics may be nil/empty.
func New(cfg Config, q *queue.Queue, client Client, finalizers *finalizer.Chain, fn reconcile.Func, logger logr.Logger, metrics *telemetry.DispatchMetrics) *Dispatcher {
	if finalizers == nil {
		finalizers = &finalizer.Chain{}
	}
	return &Dispatcher{
		cfg:        cfg.withDefaults(),
		queue:      q,
		client:     client,
		finalizers: finalizers,
		reconcile:  fn,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts cfg.Workers worker goroutines and blocks until ctx is
// cancelled, at which point it shuts the queue down and waits for
// in-flight reconciliations to return.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d.processNextWorkItem(ctx) {
			}
		}()
	}

	<-ctx.Done()
	d.queue.ShutDown()
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) processNextWorkItem(ctx context.Context) bool {
	item, ok := d.queue.Get()
	if !ok {
		return false
	}
	d.process(ctx, item)
	return true
}

func (d *Dispatcher) process(ctx context.Context, item queue.Item) {
	defer d.queue.Done(item.Key)

	obj := item.Object
	if item.EventType == event.Modified && obj != nil {
		fresh, err := d.client.Get(ctx, item.Key)
		switch {
		case err == nil:
			obj = fresh
		case apierrors.IsNotFound(err):
			d.queue.Forget(item.Key)
			return
		default:
			d.logger.Error(err, "refreshing object before reconcile", "key", item.Key.String())
			d.queue.AddRateLimited(item.Key, item.Object, item.EventType)
			return
		}
	}
	if obj == nil {
		d.logger.Info("dropping queue item with no object", "key", item.Key.String())
		d.queue.Forget(item.Key)
		return
	}

	spanCtx, endSpan := telemetry.StartDispatchSpan(ctx, d.cfg.Kind, item.Key.String(), item.EventType.String(), obj.GetResourceVersion())
	start := time.Now()
	outcome := "ok"
	defer func() {
		endSpan(outcome)
		d.recordOutcome(outcome, time.Since(start))
	}()

	if object.IsDeleting(obj) {
		d.processDeleting(spanCtx, item.Key, obj, &outcome)
		return
	}

	if missing := d.finalizers.MissingOwned(obj); len(missing) > 0 {
		if err := d.registerFinalizers(spanCtx, item.Key, obj, missing); err != nil {
			outcome = "fail"
			d.logger.Error(err, "registering finalizers", "key", item.Key.String())
			d.queue.AddRateLimited(item.Key, obj, item.EventType)
			return
		}
		outcome = "finalizer-registered"
		d.queue.Forget(item.Key)
		return
	}

	result := d.invokeReconcile(spanCtx, obj, item.EventType)
	if result.IsOK() {
		d.queue.Forget(item.Key)
		return
	}
	if after, isRequeue := result.IsRequeue(); isRequeue {
		outcome = "requeue"
		d.queue.AddAfter(item.Key, obj, item.EventType, after)
		return
	}
	err, _ := result.IsFail()
	outcome = "fail"
	d.logger.Error(err, "reconcile failed", "key", item.Key.String())
	d.queue.AddRateLimited(item.Key, obj, item.EventType)
}

// processDeleting implements spec §4.5 step 2, the deletion gate.
func (d *Dispatcher) processDeleting(ctx context.Context, key kind.ObjectKey, obj object.Object, outcome *string) {
	if !d.finalizers.AnyOwned(obj) {
		*outcome = "deleting-unowned"
		d.queue.Forget(key)
		return
	}

	if err := d.finalizers.Finalize(ctx, obj); err != nil {
		*outcome = "fail"
		d.logger.Error(err, "finalizer chain failed", "key", key.String())
		d.queue.AddRateLimited(key, obj, event.Deleted)
		return
	}

	if err := d.removeOwnedFinalizers(ctx, key, obj); err != nil {
		*outcome = "fail"
		d.logger.Error(err, "removing finalizers after successful chain", "key", key.String())
		d.queue.AddRateLimited(key, obj, event.Deleted)
		return
	}

	*outcome = "finalized"
	d.queue.Forget(key)
}

func (d *Dispatcher) registerFinalizers(ctx context.Context, key kind.ObjectKey, obj object.Object, missing []string) error {
	finalizers := append([]string{}, obj.GetFinalizers()...)
	finalizers = append(finalizers, missing...)
	_, err := d.client.Patch(ctx, key, map[string]interface{}{
		"metadata": map[string]interface{}{"finalizers": finalizers},
	})
	if err != nil {
		return fmt.Errorf("patching finalizers onto %s: %w", key, err)
	}
	return nil
}

func (d *Dispatcher) removeOwnedFinalizers(ctx context.Context, key kind.ObjectKey, obj object.Object) error {
	remaining := make([]string, 0, len(obj.GetFinalizers()))
	for _, f := range obj.GetFinalizers() {
		if !containsString(d.finalizers.IDs(), f) {
			remaining = append(remaining, f)
		}
	}
	_, err := d.client.Patch(ctx, key, map[string]interface{}{
		"metadata": map[string]interface{}{"finalizers": remaining},
	})
	if err != nil {
		return fmt.Errorf("removing finalizers from %s: %w", key, err)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// invokeReconcile runs the user Reconcile function under a
// reconcileTimeout deadline, recovering any panic into a Fail result
// per spec §5 ("panics in user code... are caught and converted to
// Fail results").
func (d *Dispatcher) invokeReconcile(ctx context.Context, obj object.Object, eventType event.Type) (result reconcile.Result) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.ReconcileTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = reconcile.Fail(fmt.Errorf("reconcile panicked: %v", r))
		}
	}()

	return d.reconcile(reconcile.Context{
		Ctx:       rctx,
		Object:    obj,
		EventType: eventType,
		Now:       object.Now(),
	})
}

func (d *Dispatcher) recordOutcome(outcome string, dur time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.Reconciles.WithLabelValues(outcome).Inc()
	d.metrics.Duration.WithLabelValues(outcome).Observe(dur.Seconds())
}
