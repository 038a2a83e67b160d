package controller

import (
	"context"
	"strings"
	"testing"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"go.datum.net/operatorcore/internal/host"
	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/object"
	"go.datum.net/operatorcore/pkg/reconcile"
)

var testLogger = zap.New(zap.UseDevMode(true))

var widgetKind = kind.Descriptor{
	Group:      "example.com",
	Version:    "v1",
	Kind:       "Widget",
	Plural:     "widgets",
	Namespaced: true,
}

func TestCompleteRequiresClient(t *testing.T) {
	h := host.New(host.Config{}, nil, testLogger)
	err := For(widgetKind).
		WithReconciler(func(reconcile.Context) reconcile.Result { return reconcile.Ok() }).
		Complete(h)
	if err == nil || !strings.Contains(err.Error(), "WithClient") {
		t.Errorf("Complete() error = %v, want a WithClient complaint", err)
	}
}

func TestCompleteRequiresReconciler(t *testing.T) {
	scheme := runtime.NewScheme()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, map[schema.GroupVersionResource]string{
		widgetKind.GroupVersionResource(): "WidgetList",
	})
	h := host.New(host.Config{}, nil, testLogger)
	err := For(widgetKind).WithClient(client).Complete(h)
	if err == nil || !strings.Contains(err.Error(), "WithReconciler") {
		t.Errorf("Complete() error = %v, want a WithReconciler complaint", err)
	}
}

func TestCompleteSurfacesInvalidFinalizerRegistration(t *testing.T) {
	scheme := runtime.NewScheme()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, map[schema.GroupVersionResource]string{
		widgetKind.GroupVersionResource(): "WidgetList",
	})
	h := host.New(host.Config{}, nil, testLogger)
	err := For(widgetKind).
		WithClient(client).
		WithReconciler(func(reconcile.Context) reconcile.Result { return reconcile.Ok() }).
		WithFinalizer("not a valid id!!", func(context.Context, object.Object) error { return nil }).
		Complete(h)
	if err == nil {
		t.Error("Complete() accepted an invalid finalizer id")
	}
}

func TestCompleteRegistersOneControllerWithHost(t *testing.T) {
	scheme := runtime.NewScheme()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, map[schema.GroupVersionResource]string{
		widgetKind.GroupVersionResource(): "WidgetList",
	})
	h := host.New(host.Config{}, nil, testLogger)
	err := For(widgetKind).
		WithClient(client).
		WithReconciler(func(reconcile.Context) reconcile.Result { return reconcile.Ok() }).
		Complete(h)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(h.Registrations()) != 1 {
		t.Fatalf("host has %d registrations, want 1", len(h.Registrations()))
	}
	if h.Registrations()[0].Name != widgetKind.String() {
		t.Errorf("registration name = %q, want %q", h.Registrations()[0].Name, widgetKind.String())
	}
}
