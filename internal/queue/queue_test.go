package queue

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"go.datum.net/operatorcore/internal/telemetry"
	"go.datum.net/operatorcore/pkg/event"
	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/object"
)

func newObj(name, rv string) object.Object {
	u := &unstructured.Unstructured{Object: map[string]interface{}{}}
	u.SetName(name)
	u.SetNamespace("default")
	u.SetResourceVersion(rv)
	return object.NewUnstructured(u)
}

func TestAddAndGet(t *testing.T) {
	q := New(nil)
	key := kind.ObjectKey{Namespace: "default", Name: "a"}
	q.Add(key, newObj("a", "1"), event.Added)

	item, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	if item.Key != key {
		t.Errorf("Get().Key = %v, want %v", item.Key, key)
	}
	if item.Object.GetResourceVersion() != "1" {
		t.Errorf("Get().Object resourceVersion = %q, want %q", item.Object.GetResourceVersion(), "1")
	}
	q.Done(key)
}

func TestAddCoalescesToNewestResourceVersion(t *testing.T) {
	q := New(nil)
	key := kind.ObjectKey{Namespace: "default", Name: "a"}

	q.Add(key, newObj("a", "1"), event.Added)
	q.Add(key, newObj("a", "2"), event.Modified)

	item, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	if item.Object.GetResourceVersion() != "2" {
		t.Errorf("coalesced item resourceVersion = %q, want %q", item.Object.GetResourceVersion(), "2")
	}
	q.Done(key)

	// The second Add must not have produced a second ready item; the
	// queue should now block until something new arrives.
	select {
	case <-drainAsync(q):
		t.Error("Get() returned a second item after a single coalesced Add pair")
	case <-time.After(20 * time.Millisecond):
	}
	q.ShutDown()
}

func TestAddDuringInflightRequeues(t *testing.T) {
	q := New(nil)
	key := kind.ObjectKey{Namespace: "default", Name: "a"}

	q.Add(key, newObj("a", "1"), event.Added)
	item, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	if item.Object.GetResourceVersion() != "1" {
		t.Fatalf("unexpected resourceVersion %q", item.Object.GetResourceVersion())
	}

	// A new event arrives while the first is still being processed.
	q.Add(key, newObj("a", "2"), event.Modified)
	q.Done(key)

	next, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	if next.Object.GetResourceVersion() != "2" {
		t.Errorf("requeued item resourceVersion = %q, want %q", next.Object.GetResourceVersion(), "2")
	}
	q.Done(key)
	q.ShutDown()
}

func TestAddAfterNoOpWhenPending(t *testing.T) {
	q := New(nil)
	key := kind.ObjectKey{Namespace: "default", Name: "a"}

	q.Add(key, newObj("a", "1"), event.Added)
	q.AddAfter(key, newObj("a", "2"), event.Modified, time.Millisecond)

	item, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	// AddAfter must not have displaced the already-pending item's payload.
	if item.Object.GetResourceVersion() != "1" {
		t.Errorf("item resourceVersion = %q, want %q (AddAfter should have been a no-op)", item.Object.GetResourceVersion(), "1")
	}
	q.Done(key)
	q.ShutDown()
}

func TestAddAfterSchedulesInFlightKey(t *testing.T) {
	q := New(nil)
	key := kind.ObjectKey{Namespace: "default", Name: "a"}

	q.Add(key, newObj("a", "1"), event.Added)
	item, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	if item.Object.GetResourceVersion() != "1" {
		t.Fatalf("unexpected resourceVersion %q", item.Object.GetResourceVersion())
	}

	// The key is now in flight (Get removed it from the pending map) but
	// nothing has re-added it. AddAfter must still be able to schedule
	// it, the same way the dispatcher does for a Requeue(after) result
	// on the key it is currently processing.
	q.AddAfter(key, newObj("a", "2"), event.Modified, time.Millisecond)
	q.Done(key)

	next, ok := q.Get()
	if !ok {
		t.Fatal("Get() reported shutdown")
	}
	if next.Object.GetResourceVersion() != "2" {
		t.Errorf("AddAfter on an in-flight key was dropped: resourceVersion = %q, want %q", next.Object.GetResourceVersion(), "2")
	}
	q.Done(key)
	q.ShutDown()
}

func TestGetObservesQueueLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewQueueMetrics(reg, "widgets")
	q := New(metrics)
	key := kind.ObjectKey{Namespace: "default", Name: "a"}

	q.Add(key, newObj("a", "1"), event.Added)
	if _, ok := q.Get(); !ok {
		t.Fatal("Get() reported shutdown")
	}
	q.Done(key)

	var m dto.Metric
	if err := metrics.Latency.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("Latency histogram recorded %d observations, want 1", got)
	}
}

func TestShutDownUnblocksGet(t *testing.T) {
	q := New(nil)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()

	q.ShutDown()

	select {
	case ok := <-done:
		if ok {
			t.Error("Get() reported a valid item after ShutDown")
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not unblock after ShutDown")
	}
}

func drainAsync(q *Queue) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		q.Get()
		close(ch)
	}()
	return ch
}
