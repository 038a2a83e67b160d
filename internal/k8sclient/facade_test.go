package k8sclient

import (
	"context"
	"testing"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"go.datum.net/operatorcore/pkg/kind"
)

var widgetKind = kind.Descriptor{
	Group:      "example.com",
	Version:    "v1",
	Kind:       "Widget",
	Plural:     "widgets",
	Namespaced: true,
}

func newWidget(ns, name, rv string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("example.com/v1")
	u.SetKind("Widget")
	u.SetNamespace(ns)
	u.SetName(name)
	u.SetResourceVersion(rv)
	return u
}

func newFakeClient(objects ...runtime.Object) *Facade {
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		widgetKind.GroupVersionResource(): "WidgetList",
	}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind, objects...)
	return New(client, widgetKind)
}

func TestGet(t *testing.T) {
	f := newFakeClient(newWidget("default", "a", "1"))

	obj, err := f.Get(context.Background(), kind.ObjectKey{Namespace: "default", Name: "a"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if obj.GetName() != "a" || obj.GetResourceVersion() != "1" {
		t.Errorf("Get() returned %+v", obj)
	}
}

func TestGetNotFound(t *testing.T) {
	f := newFakeClient()

	_, err := f.Get(context.Background(), kind.ObjectKey{Namespace: "default", Name: "missing"})
	if !apierrors.IsNotFound(err) {
		t.Errorf("Get() error = %v, want IsNotFound", err)
	}
}

func TestList(t *testing.T) {
	f := newFakeClient(
		newWidget("default", "a", "1"),
		newWidget("default", "b", "1"),
		newWidget("other", "c", "1"),
	)

	objs, err := f.List(context.Background(), "default", "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("List() returned %d objects, want 2", len(objs))
	}
}

func TestPatch(t *testing.T) {
	f := newFakeClient(newWidget("default", "a", "1"))

	updated, err := f.Patch(context.Background(), kind.ObjectKey{Namespace: "default", Name: "a"}, map[string]interface{}{
		"metadata": map[string]interface{}{"finalizers": []string{"example.com/cleanup"}},
	})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if len(updated.GetFinalizers()) != 1 || updated.GetFinalizers()[0] != "example.com/cleanup" {
		t.Errorf("Patch() finalizers = %v", updated.GetFinalizers())
	}
}

func TestDelete(t *testing.T) {
	f := newFakeClient(newWidget("default", "a", "1"))
	key := kind.ObjectKey{Namespace: "default", Name: "a"}

	if err := f.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.Get(context.Background(), key); !apierrors.IsNotFound(err) {
		t.Errorf("Get() after Delete() error = %v, want IsNotFound", err)
	}
}

func TestStatusCode(t *testing.T) {
	f := newFakeClient()
	_, err := f.Get(context.Background(), kind.ObjectKey{Namespace: "default", Name: "missing"})

	code, ok := StatusCode(err)
	if !ok {
		t.Fatal("StatusCode() did not recognize a NotFound APIStatus error")
	}
	if code != 404 {
		t.Errorf("StatusCode() = %d, want 404", code)
	}
}

func TestStatusCodeNonAPIStatusError(t *testing.T) {
	_, ok := StatusCode(context.Canceled)
	if ok {
		t.Error("StatusCode() recognized a non-APIStatus error")
	}
}

func TestWatch(t *testing.T) {
	f := newFakeClient()

	w, err := f.Watch(context.Background(), WatchOptions{Namespace: "default"})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Stop()
}
