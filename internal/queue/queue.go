// Package queue implements C4, the coalescing event queue between the
// Resource Watcher and the Reconciler Dispatcher.
//
// Grounded on rexagod-resource-state-metrics/internal/controller.go's
// workqueue.TypedRateLimitingInterface[[2]string] usage (rate limiter
// construction, Get/Done/Forget cycle), generalized with a mutex-guarded
// payload map so the queue can hand the dispatcher the latest observed
// object for a key rather than just the key itself, per spec §4.4.
package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"

	"go.datum.net/operatorcore/internal/telemetry"
	"go.datum.net/operatorcore/pkg/event"
	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/object"
)

// Item is one unit of dispatcher work: a key paired with the latest
// object observed for it and the event type that produced that object.
type Item struct {
	Key       kind.ObjectKey
	Object    object.Object
	EventType event.Type
}

type itemState struct {
	key       kind.ObjectKey
	object    object.Object
	eventType event.Type
	queued    bool
	inflight  bool
	// queuedAt marks the most recent Add, AddAfter or AddRateLimited call
	// for the key, for the QueueMetrics.Latency dwell-time histogram; for
	// a delayed add the observed dwell time includes the delay.
	queuedAt time.Time
}

// Queue gives coalesced, at-most-one-in-flight, latest-state-wins
// semantics over a set of ObjectKeys, per spec §4.4.
type Queue struct {
	mu      sync.Mutex
	items   map[string]*itemState
	wq      workqueue.TypedRateLimitingInterface[string]
	metrics *telemetry.QueueMetrics
}

// New builds an empty Queue. metrics may be nil to disable instrumentation.
func New(metrics *telemetry.QueueMetrics) *Queue {
	limiter := workqueue.NewTypedMaxOfRateLimiter(
		workqueue.NewTypedItemExponentialFailureRateLimiter[string](5*time.Millisecond, 5*time.Minute),
		&workqueue.TypedBucketRateLimiter[string]{Limiter: rate.NewLimiter(rate.Limit(50), 300)},
	)
	return &Queue{
		items:   make(map[string]*itemState),
		wq:      workqueue.NewTypedRateLimitingQueue[string](limiter),
		metrics: metrics,
	}
}

// Add enqueues key with obj. If key already has a pending item, obj
// replaces the stored object only if it is resource-version-newer; the
// key's position in the ready FIFO (or its in-flight status) is
// untouched either way.
func (q *Queue) Add(key kind.ObjectKey, obj object.Object, eventType event.Type) {
	k := key.String()

	q.mu.Lock()
	st, existed := q.items[k]
	if !existed {
		st = &itemState{key: key}
		q.items[k] = st
	}
	if !existed || st.object == nil || obj == nil || object.ResourceVersionNewer(st.object, obj) {
		st.object = obj
		st.eventType = eventType
	}
	wasPending := existed && (st.queued || st.inflight)
	st.queued = true
	st.queuedAt = time.Now()
	q.mu.Unlock()

	q.wq.Add(k)
	if q.metrics != nil {
		q.metrics.Adds.Inc()
		if !wasPending {
			q.metrics.Depth.Inc()
		}
	}
}

// AddAfter schedules key for retrieval after delay with obj as its
// payload. Per spec §4.4, it is a no-op if key is already queued (ready
// now, or already scheduled to be re-added once its current in-flight
// run finishes) — the existing occurrence wins. A key that is merely in
// flight with no pending re-add is not "pending" in that sense: Get
// already removed it from the pending map, so AddAfter must be free to
// schedule its delayed re-add (this is exactly how the dispatcher
// re-enqueues a Requeue(after) result for the key it is still
// processing).
func (q *Queue) AddAfter(key kind.ObjectKey, obj object.Object, eventType event.Type, delay time.Duration) {
	k := key.String()

	q.mu.Lock()
	st, existed := q.items[k]
	if existed && st.queued {
		q.mu.Unlock()
		return
	}
	if !existed {
		st = &itemState{key: key}
		q.items[k] = st
	}
	st.object = obj
	st.eventType = eventType
	st.queued = true
	st.queuedAt = time.Now()
	q.mu.Unlock()

	q.wq.AddAfter(k, delay)
	if q.metrics != nil && !existed {
		q.metrics.Depth.Inc()
	}
}

// AddRateLimited re-schedules key after the rate limiter's computed
// backoff, for the dispatcher's Fail(err) handling (spec §4.5 step 4).
func (q *Queue) AddRateLimited(key kind.ObjectKey, obj object.Object, eventType event.Type) {
	k := key.String()

	q.mu.Lock()
	st, existed := q.items[k]
	if !existed {
		st = &itemState{key: key}
		q.items[k] = st
	}
	st.object = obj
	st.eventType = eventType
	st.queued = true
	st.queuedAt = time.Now()
	q.mu.Unlock()

	q.wq.AddRateLimited(k)
	if q.metrics != nil && !existed {
		q.metrics.Depth.Inc()
	}
}

// Get blocks until a key is ready, marks it in flight, and returns its
// latest payload. The second return value is false once the queue has
// been shut down and drained.
func (q *Queue) Get() (Item, bool) {
	k, shutdown := q.wq.Get()
	if shutdown {
		return Item{}, false
	}

	q.mu.Lock()
	st := q.items[k]
	st.queued = false
	st.inflight = true
	queuedAt := st.queuedAt
	item := Item{Key: st.key, Object: st.object, EventType: st.eventType}
	q.mu.Unlock()

	if q.metrics != nil && !queuedAt.IsZero() {
		q.metrics.Latency.Observe(time.Since(queuedAt).Seconds())
	}

	return item, true
}

// Done clears key's in-flight state. If Add arrived for key while it was
// in flight, the underlying workqueue has already re-queued it by the
// time this returns, and the stored payload reflects the latest Add. A
// key scheduled by AddAfter or AddRateLimited while in flight stays
// pending and becomes ready once its delay elapses.
func (q *Queue) Done(key kind.ObjectKey) {
	k := key.String()
	q.wq.Done(k)

	q.mu.Lock()
	if st, ok := q.items[k]; ok {
		st.inflight = false
		if !st.queued {
			delete(q.items, k)
			if q.metrics != nil {
				q.metrics.Depth.Dec()
			}
		}
	}
	q.mu.Unlock()
}

// Forget clears key's failure-counter history in the rate limiter.
func (q *Queue) Forget(key kind.ObjectKey) {
	q.wq.Forget(key.String())
}

// ShutDown stops accepting new work and unblocks every pending Get.
func (q *Queue) ShutDown() {
	q.wq.ShutDown()
}

// Handle implements watcher.Sink, coalescing Added/Modified/Deleted
// events into the queue keyed by the object's namespace/name.
func (q *Queue) Handle(_ context.Context, evt event.Event) error {
	if evt.Object == nil {
		return nil
	}
	q.Add(object.Key(evt.Object), evt.Object, evt.Type)
	return nil
}
