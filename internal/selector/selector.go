// Package selector implements C2, the label-selector provider consulted
// once per (re)connect by the Resource Watcher.
package selector

import "context"

// Provider yields the current label-selector string. It is queried once
// per (re)connect, never mid-stream; implementations must respect ctx
// cancellation.
type Provider interface {
	Selector(ctx context.Context) (string, error)
}

// Static always returns the same selector string.
type Static string

// Selector implements Provider.
func (s Static) Selector(context.Context) (string, error) { return string(s), nil }

// Func adapts a plain function to Provider, for selectors computed
// dynamically (e.g. from a ConfigMap or feature flag).
type Func func(ctx context.Context) (string, error)

// Selector implements Provider.
func (f Func) Selector(ctx context.Context) (string, error) { return f(ctx) }
