package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"go.datum.net/operatorcore/internal/k8sclient"
	"go.datum.net/operatorcore/internal/selector"
	"go.datum.net/operatorcore/pkg/event"
	"go.datum.net/operatorcore/pkg/kind"
)

var testLogger = zap.New(zap.UseDevMode(true))

var widgetKind = kind.Descriptor{
	Group:      "example.com",
	Version:    "v1",
	Kind:       "Widget",
	Plural:     "widgets",
	Namespaced: true,
}

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
	seen   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(chan struct{}, 16)}
}

func (s *recordingSink) Handle(_ context.Context, evt event.Event) error {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	s.seen <- struct{}{}
	return nil
}

func (s *recordingSink) snapshot() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func TestWatcherForwardsAddedEvents(t *testing.T) {
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		widgetKind.GroupVersionResource(): "WidgetList",
	}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind)
	facade := k8sclient.New(client, widgetKind)

	sink := newRecordingSink()
	w := New(facade, selector.Static(""), sink, testLogger, nil, Config{Namespace: "default"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	widget := &unstructured.Unstructured{}
	widget.SetAPIVersion("example.com/v1")
	widget.SetKind("Widget")
	widget.SetNamespace("default")
	widget.SetName("a")

	if _, err := client.Resource(widgetKind.GroupVersionResource()).Namespace("default").Create(ctx, widget, metav1.CreateOptions{}); err != nil {
		t.Fatalf("creating widget: %v", err)
	}

	select {
	case <-sink.seen:
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not observe an event within the timeout")
	}

	cancel()
	<-runDone

	events := sink.snapshot()
	if len(events) == 0 {
		t.Fatal("no events observed")
	}
	if events[0].Type != event.Added {
		t.Errorf("first event type = %v, want Added", events[0].Type)
	}
	if events[0].Object.GetName() != "a" {
		t.Errorf("first event object name = %q, want %q", events[0].Object.GetName(), "a")
	}
}
