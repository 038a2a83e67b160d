// Package watcher implements C3, the long-lived per-kind watch loop:
// reconnect with backoff, resource-version bookkeeping, and the 410/504
// protocol nuances described in spec §4.3.
//
// Grounded on datum-cloud-milo's internal/quota/admission/watch_manager.go
// (watchLoop / processWatchStream / handleWatchEvent), generalized from a
// claim-waiter notifier into a generic event producer for the dispatch
// queue.
package watcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	"go.datum.net/operatorcore/internal/k8sclient"
	"go.datum.net/operatorcore/internal/selector"
	"go.datum.net/operatorcore/internal/telemetry"
	"go.datum.net/operatorcore/pkg/event"
	"go.datum.net/operatorcore/pkg/object"
)

// Sink receives decoded Added/Modified/Deleted events. It is the
// watcher's only coupling to the rest of the pipeline; the Event Queue
// (C4) implements this. Bookmark and Error events never reach Sink.
type Sink interface {
	Handle(ctx context.Context, evt event.Event) error
}

// Config tunes the reconnect/backoff behavior. Zero-value Config is
// valid and uses the spec-mandated defaults.
type Config struct {
	// Namespace scopes the watch; empty watches cluster-wide.
	Namespace string
	// AllowBookmarks requests bookmark frames from the server. The
	// design tolerates their absence, but enabling them avoids forced
	// relists on idle-timeout disconnects.
	AllowBookmarks bool
	// MaxBackoff caps the exponential reconnect delay. Default 32s.
	MaxBackoff time.Duration
	// Jitter bounds the uniform random jitter added atop the
	// exponential delay. Default 1s.
	Jitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 32 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = time.Second
	}
	return c
}

// Watcher runs the state machine from spec §4.3 for one resource kind.
type Watcher struct {
	facade   *k8sclient.Facade
	selector selector.Provider
	sink     Sink
	logger   logr.Logger
	metrics  *telemetry.WatchMetrics
	cfg      Config

	// currentResourceVersion is private to the watcher loop per the
	// spec's concurrency model; never touched from outside Run.
	currentResourceVersion string
}

// New constructs a Watcher. metrics may be nil to disable instrumentation.
func New(facade *k8sclient.Facade, sel selector.Provider, sink Sink, logger logr.Logger, metrics *telemetry.WatchMetrics, cfg Config) *Watcher {
	return &Watcher{
		facade:   facade,
		selector: sel,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
	}
}

// Run executes the Idle -> Connecting -> Streaming -> Backoff -> Idle
// loop until ctx is cancelled. It never returns an error except when
// cancellation itself is the cause, matching the "never surface
// transient errors to the process" propagation policy from spec §7.
func (w *Watcher) Run(ctx context.Context) error {
	retries := 0
	w.currentResourceVersion = ""

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result := w.connectAndStream(ctx)

		switch result.class {
		case classClean, classGone, classGatewayTimeout:
			retries = 0
			if result.class == classGone {
				w.currentResourceVersion = ""
				w.recordReconnect("410")
			} else if result.class == classGatewayTimeout {
				w.recordReconnect("504")
			} else {
				w.recordReconnect("clean")
			}
			continue
		case classEmptyResponse:
			retries = 0
			w.logger.V(1).Info("watch returned an empty response, likely no instances of this kind exist yet", "namespace", w.cfg.Namespace)
			w.recordReconnect("empty")
			continue
		case classCancelled:
			return result.err
		case classTransportError:
			w.recordReconnect("transport")
			delay := w.backoff(retries)
			w.logger.Error(result.err, "watch stream failed, reconnecting with backoff", "delay", delay, "retries", retries)
			if !w.sleep(ctx, delay) {
				return ctx.Err()
			}
			if retries < 5 {
				retries++
			}
			continue
		}
	}
}

type resultClass int

const (
	classClean resultClass = iota
	classGone
	classGatewayTimeout
	classEmptyResponse
	classCancelled
	classTransportError
)

type streamResult struct {
	class resultClass
	err   error
}

// connectAndStream performs steps 2-5 of the algorithm: one (re)connect
// attempt and the subsequent event-processing loop.
func (w *Watcher) connectAndStream(ctx context.Context) streamResult {
	sel, err := w.selector.Selector(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return streamResult{class: classCancelled, err: ctx.Err()}
		}
		return streamResult{class: classTransportError, err: fmt.Errorf("resolving label selector: %w", err)}
	}

	stream, err := w.facade.Watch(ctx, k8sclient.WatchOptions{
		Namespace:           w.cfg.Namespace,
		ResourceVersion:     w.currentResourceVersion,
		LabelSelector:       sel,
		AllowWatchBookmarks: w.cfg.AllowBookmarks,
	})
	if err != nil {
		if ctx.Err() != nil {
			return streamResult{class: classCancelled, err: ctx.Err()}
		}
		if code, ok := k8sclient.StatusCode(err); ok {
			switch code {
			case 410:
				return streamResult{class: classGone, err: err}
			case 504:
				return streamResult{class: classGatewayTimeout, err: err}
			}
		}
		return streamResult{class: classTransportError, err: err}
	}
	defer stream.Stop()

	if w.metrics != nil {
		w.metrics.StreamConnected.Set(1)
		defer w.metrics.StreamConnected.Set(0)
	}

	received := false
	for {
		select {
		case evt, ok := <-stream.ResultChan():
			if !ok {
				if !received {
					// The stream closed with zero frames: structurally this is
					// "no instances of this kind exist yet", detected by
					// inspecting the channel close rather than string-matching
					// any error message (see DESIGN.md open question).
					return streamResult{class: classEmptyResponse}
				}
				return streamResult{class: classClean}
			}
			class, err := w.handle(ctx, evt)
			received = true
			if err != nil {
				return streamResult{class: class, err: err}
			}
		case <-ctx.Done():
			return streamResult{class: classCancelled, err: ctx.Err()}
		}
	}
}

// handle processes one decoded frame, updating currentResourceVersion
// and forwarding non-bookmark events to the sink. A non-zero resultClass
// signals the caller should break the stream (410/504/error); zero value
// (classClean) with a nil error means "keep streaming".
func (w *Watcher) handle(ctx context.Context, raw watch.Event) (resultClass, error) {
	switch raw.Type {
	case watch.Bookmark:
		if u, ok := toUnstructured(raw.Object); ok {
			w.currentResourceVersion = u.GetResourceVersion()
		}
		w.recordEvent("bookmark")
		return classClean, nil

	case watch.Added, watch.Modified, watch.Deleted:
		u, ok := toUnstructured(raw.Object)
		if !ok {
			w.logger.Error(nil, "watch event object was not unstructured, skipping", "type", raw.Type)
			return classClean, nil
		}
		w.currentResourceVersion = u.GetResourceVersion()

		evt := event.Event{Type: toEventType(raw.Type), Object: u, ResourceVersion: u.GetResourceVersion()}
		w.recordEvent(evt.Type.String())
		if err := w.sink.Handle(ctx, evt); err != nil {
			// Per spec §4.3 step 3: dispatcher failures are logged and the
			// stream continues; they never break the watch.
			w.logger.Error(err, "event sink rejected event, continuing stream", "key", object.Key(u))
		}
		return classClean, nil

	case watch.Error:
		w.recordEvent("error")
		err := errorFromEvent(raw)
		if code, ok := k8sclient.StatusCode(err); ok {
			switch code {
			case 410:
				return classGone, err
			case 504:
				return classGatewayTimeout, err
			}
		}
		return classTransportError, err

	default:
		return classClean, nil
	}
}

func toEventType(t watch.EventType) event.Type {
	switch t {
	case watch.Added:
		return event.Added
	case watch.Modified:
		return event.Modified
	case watch.Deleted:
		return event.Deleted
	default:
		return event.Error
	}
}

// toUnstructured converts a decoded watch.Event's Object to our
// accessor type. The dynamic client always yields
// *unstructured.Unstructured for Added/Modified/Deleted/Bookmark
// frames.
func toUnstructured(raw runtime.Object) (object.Unstructured, bool) {
	u, ok := raw.(*unstructured.Unstructured)
	if !ok {
		return object.Unstructured{}, false
	}
	return object.NewUnstructured(u), true
}

// errorFromEvent extracts the *apierrors.StatusError carried by a
// watch.Error frame, whose Object is always a *metav1.Status.
func errorFromEvent(evt watch.Event) error {
	if status, ok := evt.Object.(*metav1.Status); ok {
		return &apierrors.StatusError{ErrStatus: *status}
	}
	return fmt.Errorf("watch error event: %v", evt.Object)
}

func (w *Watcher) backoff(retries int) time.Duration {
	capped := retries
	if capped > 5 {
		capped = 5
	}
	base := time.Duration(1<<uint(capped)) * time.Second
	if base > w.cfg.MaxBackoff {
		base = w.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(w.cfg.Jitter) + 1))
	return base + jitter
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) recordReconnect(reason string) {
	if w.metrics != nil {
		w.metrics.Reconnects.WithLabelValues(reason).Inc()
	}
}

func (w *Watcher) recordEvent(eventType string) {
	if w.metrics != nil {
		w.metrics.EventsReceived.WithLabelValues(eventType).Inc()
	}
	if eventType == "bookmark" && w.metrics != nil {
		w.metrics.BookmarkAge.Set(0)
	}
}
