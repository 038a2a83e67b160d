// Package finalizer implements C6, the ordered finalizer chain a
// controller registers against one kind.
//
// Grounded on the usage pattern of sigs.k8s.io/controller-runtime's
// pkg/finalizer.Finalizers (see datum-cloud-milo's project_controller.go:
// NewFinalizers / Register(id, handler) / Finalize(ctx, obj)) but built
// from scratch rather than imported, because this chain's contract is
// short-circuiting — the first failing finalizer aborts the remaining
// ones and the finalizer-removal patch — where controller-runtime's
// always runs every registered finalizer present on the object.
package finalizer

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/util/validation"

	"go.datum.net/operatorcore/pkg/object"
)

// Func performs one finalizer's cleanup action against obj.
type Func func(ctx context.Context, obj object.Object) error

type registration struct {
	id string
	fn Func
}

// Chain is the ordered (finalizerID, Func) list for one controller
// registration. The zero value is ready to use.
type Chain struct {
	registrations []registration
}

// Register appends a finalizer to the chain. id must be a valid
// Kubernetes qualified name (optionally prefixed, DNS-subdomain/name
// split by a single '/'), the same format the API server enforces on
// metadata.finalizers entries.
func (c *Chain) Register(id string, fn Func) error {
	if errs := validation.IsQualifiedName(id); len(errs) > 0 {
		return fmt.Errorf("invalid finalizer id %q: %s", id, joinErrs(errs))
	}
	for _, r := range c.registrations {
		if r.id == id {
			return fmt.Errorf("finalizer id %q already registered", id)
		}
	}
	c.registrations = append(c.registrations, registration{id: id, fn: fn})
	return nil
}

// IDs returns the registered finalizer IDs in registration order.
func (c *Chain) IDs() []string {
	ids := make([]string, len(c.registrations))
	for i, r := range c.registrations {
		ids[i] = r.id
	}
	return ids
}

// MissingOwned returns the registered finalizer IDs not yet present on
// obj, in registration order, for the dispatcher's finalizer
// registration step (spec §4.5 step 3).
func (c *Chain) MissingOwned(obj object.Object) []string {
	var missing []string
	for _, r := range c.registrations {
		if !object.HasFinalizer(obj, r.id) {
			missing = append(missing, r.id)
		}
	}
	return missing
}

// AnyOwned reports whether obj carries any finalizer this chain owns.
func (c *Chain) AnyOwned(obj object.Object) bool {
	for _, r := range c.registrations {
		if object.HasFinalizer(obj, r.id) {
			return true
		}
	}
	return false
}

// Finalize runs every registered finalizer present on obj's
// metadata.finalizers, in registration order, stopping at the first
// error. It does not remove finalizers from obj; the caller patches
// metadata.finalizers once Finalize returns nil.
func (c *Chain) Finalize(ctx context.Context, obj object.Object) error {
	for _, r := range c.registrations {
		if !object.HasFinalizer(obj, r.id) {
			continue
		}
		if err := r.fn(ctx, obj); err != nil {
			return fmt.Errorf("finalizer %q: %w", r.id, err)
		}
	}
	return nil
}

func joinErrs(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
