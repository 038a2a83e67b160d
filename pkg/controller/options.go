package controller

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"go.datum.net/operatorcore/internal/election"
	"go.datum.net/operatorcore/internal/selector"
)

// Configuration is the YAML-decodable surface from spec §6, read by
// cmd/operator-demo via sigs.k8s.io/yaml and applied to a Builder.
// Durations use metav1.Duration so the file can write "32s" rather
// than a raw nanosecond count.
type Configuration struct {
	// Namespace scopes every registered controller's watch; "*" (or
	// empty) means cluster-wide.
	Namespace string `json:"namespace,omitempty"`
	// LabelSelector is applied to every registered controller's watch.
	LabelSelector string `json:"labelSelector,omitempty"`
	// WorkerCount is the dispatcher pool size per controller. Default 1.
	WorkerCount int `json:"workerCount,omitempty"`
	// LeaderElection is nil to disable leader election.
	LeaderElection *LeaderElectionConfig `json:"leaderElection,omitempty"`
	// WatchReconnectMaxBackoff caps the watcher's reconnect delay.
	WatchReconnectMaxBackoff metav1.Duration `json:"watchReconnectMaxBackoff,omitempty"`
	// ReconcileTimeout bounds a single user Reconcile call.
	ReconcileTimeout metav1.Duration `json:"reconcileTimeout,omitempty"`
	// WatchAllowBookmarks requests bookmark frames on the watch stream.
	// A nil pointer (the field omitted from the YAML file) means
	// "unset," distinct from an explicit false, so Apply can default it
	// to true without clobbering an operator's explicit opt-out.
	WatchAllowBookmarks *bool `json:"watchAllowBookmarks,omitempty"`
}

// LeaderElectionConfig mirrors spec §6's leaderElection sub-struct.
type LeaderElectionConfig struct {
	Enabled        bool            `json:"enabled,omitempty"`
	LeaseName      string          `json:"leaseName,omitempty"`
	LeaseNamespace string          `json:"leaseNamespace,omitempty"`
	LeaseDuration  metav1.Duration `json:"leaseDuration,omitempty"`
	RenewDeadline  metav1.Duration `json:"renewDeadline,omitempty"`
	RetryPeriod    metav1.Duration `json:"retryPeriod,omitempty"`
}

// ToElectionConfig converts the YAML sub-struct to the internal
// election.Config, or nil if leader election is disabled or unset.
func (c *LeaderElectionConfig) ToElectionConfig() *election.Config {
	if c == nil || !c.Enabled {
		return nil
	}
	return &election.Config{
		LeaseName:      c.LeaseName,
		LeaseNamespace: c.LeaseNamespace,
		LeaseDuration:  c.LeaseDuration.Duration,
		RenewDeadline:  c.RenewDeadline.Duration,
		RetryPeriod:    c.RetryPeriod.Duration,
	}
}

// Apply configures b with every field of c that a Builder exposes a
// setter for (namespace, label selector, worker count, timeouts).
// LeaderElection is host-scoped and read separately via
// ToElectionConfig.
func (c Configuration) Apply(b *Builder) *Builder {
	ns := c.Namespace
	if ns == "*" {
		ns = ""
	}
	b = b.WithNamespace(ns)
	if c.LabelSelector != "" {
		b = b.WithLabelSelector(selector.Static(c.LabelSelector))
	}
	if c.WorkerCount > 0 {
		b = b.WithWorkers(c.WorkerCount)
	}
	if c.WatchReconnectMaxBackoff.Duration > 0 {
		b = b.WithWatchReconnectMaxBackoff(c.WatchReconnectMaxBackoff.Duration)
	}
	if c.ReconcileTimeout.Duration > 0 {
		b = b.WithReconcileTimeout(c.ReconcileTimeout.Duration)
	}
	b = b.WithAllowBookmarks(ptr.Deref(c.WatchAllowBookmarks, true))
	return b
}
