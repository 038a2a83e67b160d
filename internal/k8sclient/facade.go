// Package k8sclient implements C1, the typed CRUD + streaming-watch
// facade over one Kubernetes resource kind.
package k8sclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"go.datum.net/operatorcore/pkg/kind"
	"go.datum.net/operatorcore/pkg/object"
)

// Facade is the per-kind client surface the rest of the core depends on.
// It is the only place that talks directly to the API server.
type Facade struct {
	dynamic    dynamic.Interface
	gvr        schema.GroupVersionResource
	namespaced bool
}

// New builds a Facade scoped to descriptor, backed by client.
func New(client dynamic.Interface, descriptor kind.Descriptor) *Facade {
	return &Facade{
		dynamic:    client,
		gvr:        descriptor.GroupVersionResource(),
		namespaced: descriptor.Namespaced,
	}
}

func (f *Facade) resource(namespace string) dynamic.ResourceInterface {
	if f.namespaced {
		return f.dynamic.Resource(f.gvr).Namespace(namespace)
	}
	return f.dynamic.Resource(f.gvr)
}

// Get fetches one object by key, returning an error satisfying
// apierrors.IsNotFound when absent.
func (f *Facade) Get(ctx context.Context, key kind.ObjectKey) (object.Object, error) {
	u, err := f.resource(key.Namespace).Get(ctx, key.Name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return object.NewUnstructured(u), nil
}

// List returns every object in namespace ("" for all/cluster-scoped)
// matching selector.
func (f *Facade) List(ctx context.Context, namespace, selector string) ([]object.Object, error) {
	list, err := f.resource(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", f.gvr, err)
	}
	out := make([]object.Object, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, object.NewUnstructured(&list.Items[i]))
	}
	return out, nil
}

// WatchOptions configures a single (re)connect attempt.
type WatchOptions struct {
	Namespace           string
	ResourceVersion     string
	LabelSelector       string
	AllowWatchBookmarks bool
}

// Watch opens a cold stream of raw watch.Event frames; it begins
// emitting once iterated and ends on server close, ctx cancellation, or
// error. The two status codes with special meaning to C3 are 410 Gone
// and 504 Gateway Timeout; callers classify via apierrors on the Error
// frame's object.
func (f *Facade) Watch(ctx context.Context, opts WatchOptions) (watch.Interface, error) {
	listOpts := metav1.ListOptions{
		Watch:               true,
		ResourceVersion:     opts.ResourceVersion,
		LabelSelector:       opts.LabelSelector,
		AllowWatchBookmarks: opts.AllowWatchBookmarks,
	}
	w, err := f.resource(opts.Namespace).Watch(ctx, listOpts)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", f.gvr, err)
	}
	return w, nil
}

// Patch applies a JSON merge patch to the object identified by key,
// returning the patched object.
func (f *Facade) Patch(ctx context.Context, key kind.ObjectKey, patch map[string]interface{}) (object.Object, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshaling patch for %s: %w", key, err)
	}
	u, err := f.resource(key.Namespace).Patch(ctx, key.Name, types.MergePatchType, raw, metav1.PatchOptions{})
	if err != nil {
		return nil, err
	}
	return object.NewUnstructured(u), nil
}

// Delete removes the object identified by key.
func (f *Facade) Delete(ctx context.Context, key kind.ObjectKey) error {
	return f.resource(key.Namespace).Delete(ctx, key.Name, metav1.DeleteOptions{})
}

// UpdateStatus persists obj's status subresource.
func (f *Facade) UpdateStatus(ctx context.Context, obj object.Object) (object.Object, error) {
	u, ok := obj.(object.Unstructured)
	if !ok {
		return nil, fmt.Errorf("UpdateStatus requires an unstructured object, got %T", obj)
	}
	updated, err := f.resource(u.GetNamespace()).UpdateStatus(ctx, u.Unstructured, metav1.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	return object.NewUnstructured(updated), nil
}

// StatusCode extracts the HTTP status code from err if it originated as
// a Kubernetes API status error, the same pattern watch reconnect
// classification and dispatcher re-fetch handling both rely on.
func StatusCode(err error) (int32, bool) {
	var statusErr apierrors.APIStatus
	if errors.As(err, &statusErr) {
		return statusErr.Status().Code, true
	}
	return 0, false
}
