// Package kind describes the Kubernetes resource kinds a controller watches.
package kind

import "k8s.io/apimachinery/pkg/runtime/schema"

// Descriptor identifies one Kubernetes resource kind. It is immutable
// for the lifetime of a controller registration.
type Descriptor struct {
	Group      string
	Version    string
	Kind       string
	Plural     string
	Namespaced bool
}

// GroupVersionResource derives the GVR used to address the dynamic client.
func (d Descriptor) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    d.Group,
		Version:  d.Version,
		Resource: d.Plural,
	}
}

// GroupVersionKind derives the GVK for scheme/event-recorder registration.
func (d Descriptor) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{
		Group:   d.Group,
		Version: d.Version,
		Kind:    d.Kind,
	}
}

// String renders a human-readable identifier, e.g. "widgets.example.com/v1, Kind=Widget".
func (d Descriptor) String() string {
	return d.Plural + "." + d.Group + "/" + d.Version + ", Kind=" + d.Kind
}

// ObjectKey uniquely identifies a work item: (namespace, name). Namespace
// is empty for cluster-scoped kinds.
type ObjectKey struct {
	Namespace string
	Name      string
}

// String renders the key in the conventional "namespace/name" form, or
// bare "name" for cluster-scoped objects.
func (k ObjectKey) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "/" + k.Name
}
