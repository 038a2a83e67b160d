// Package object defines the minimal accessor surface the operator core
// requires from a Kubernetes object, and an adapter over
// *unstructured.Unstructured that satisfies it.
package object

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"go.datum.net/operatorcore/pkg/kind"
)

// Object is the capability set the core needs from a watched object. It
// is intentionally narrow: the core never interprets spec/status.
type Object interface {
	GetName() string
	GetNamespace() string
	GetResourceVersion() string
	GetUID() types.UID
	GetFinalizers() []string
	SetFinalizers([]string)
	GetDeletionTimestamp() *metav1.Time
	DeepCopyObject() Object
}

// Key returns the ObjectKey for an Object.
func Key(o Object) kind.ObjectKey {
	return kind.ObjectKey{Namespace: o.GetNamespace(), Name: o.GetName()}
}

// IsDeleting reports whether metadata.deletionTimestamp is set.
func IsDeleting(o Object) bool {
	ts := o.GetDeletionTimestamp()
	return ts != nil && !ts.IsZero()
}

// HasFinalizer reports whether id is present in metadata.finalizers.
func HasFinalizer(o Object, id string) bool {
	for _, f := range o.GetFinalizers() {
		if f == id {
			return true
		}
	}
	return false
}

// AddFinalizer appends id to metadata.finalizers if not already present,
// returning whether a mutation occurred.
func AddFinalizer(o Object, id string) bool {
	if HasFinalizer(o, id) {
		return false
	}
	o.SetFinalizers(append(o.GetFinalizers(), id))
	return true
}

// RemoveFinalizer removes id from metadata.finalizers, returning whether a
// mutation occurred.
func RemoveFinalizer(o Object, id string) bool {
	existing := o.GetFinalizers()
	out := make([]string, 0, len(existing))
	removed := false
	for _, f := range existing {
		if f == id {
			removed = true
			continue
		}
		out = append(out, f)
	}
	if removed {
		o.SetFinalizers(out)
	}
	return removed
}

// Unstructured adapts *unstructured.Unstructured to Object. It is the
// representation C1 and C3 produce, since the core is generic over kind.
type Unstructured struct {
	*unstructured.Unstructured
}

var _ Object = Unstructured{}

// NewUnstructured wraps u as an Object.
func NewUnstructured(u *unstructured.Unstructured) Unstructured {
	return Unstructured{Unstructured: u}
}

// GetDeletionTimestamp returns metadata.deletionTimestamp, or nil if unset.
func (u Unstructured) GetDeletionTimestamp() *metav1.Time {
	ts := u.Unstructured.GetDeletionTimestamp()
	if ts.IsZero() {
		return nil
	}
	return ts
}

// DeepCopyObject returns an independent copy of the underlying object.
func (u Unstructured) DeepCopyObject() Object {
	return Unstructured{Unstructured: u.Unstructured.DeepCopy()}
}

// ResourceVersionNewer reports whether candidate's resourceVersion is
// strictly newer than current's, using Kubernetes' opaque-but-numeric
// resourceVersion convention. If either version is non-numeric or empty
// the pair can't be compared and candidate is always reported newer,
// matching "latest wins" when the server's RV format can't be compared.
func ResourceVersionNewer(current, candidate Object) bool {
	cur, curOK := parseRV(current.GetResourceVersion())
	cand, candOK := parseRV(candidate.GetResourceVersion())
	if !curOK || !candOK {
		return true
	}
	return cand > cur
}

func parseRV(rv string) (n uint64, ok bool) {
	if rv == "" {
		return 0, false
	}
	var v uint64
	for _, r := range rv {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
	}
	return v, true
}

// Now is the clock the dispatcher stamps into ReconcileContext; a var so
// tests can override it.
var Now = time.Now
