// Package election implements C7, lease-based leader election against a
// coordination/v1 Lease.
//
// The teacher repo only ever touches coordination/v1 Leases indirectly
// (pkg/workspaces/factory.go registers the Lease GVK with a scheme for
// other tooling); no repo in the pack hand-rolls the compare-and-swap
// lease-renewal protocol. Rather than reimplement that protocol, this
// package wraps the ecosystem-standard k8s.io/client-go/tools/leaderelection
// package directly, the same way controller-runtime (which the rest of
// the teacher's controllers sit on) does internally.
package election

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Config identifies the Lease an Elector contends for and tunes the
// timing parameters from spec §4.7 (defaults 15s/10s/2s).
type Config struct {
	LeaseName      string
	LeaseNamespace string
	// Identity distinguishes this process among replicas; a
	// hostname-derived identity is generated when empty.
	Identity string

	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 15 * time.Second
	}
	if c.RenewDeadline <= 0 {
		c.RenewDeadline = 10 * time.Second
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = 2 * time.Second
	}
	if c.Identity == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "operator"
		}
		c.Identity = fmt.Sprintf("%s_%s", host, uuid.NewString())
	}
	return c
}

// Callbacks are invoked on the leadership transitions C8 reacts to.
type Callbacks struct {
	OnStartedLeading func(ctx context.Context)
	OnStoppedLeading func()
	OnNewLeader      func(identity string)
}

// Elector contends for a single Lease, reporting IsLeader() == true for
// exactly one replica at a time.
type Elector struct {
	cfg    Config
	client kubernetes.Interface
	logger logr.Logger
	cb     Callbacks

	mu sync.Mutex
	le *leaderelection.LeaderElector
}

// New builds an Elector. client must have permission to get/create/update
// the named Lease in LeaseNamespace.
func New(client kubernetes.Interface, cfg Config, cb Callbacks, logger logr.Logger) *Elector {
	return &Elector{cfg: cfg.withDefaults(), client: client, logger: logger, cb: cb}
}

// Run blocks contending for leadership until ctx is cancelled. Every
// acquisition invokes OnStartedLeading with a context that is cancelled
// the instant leadership is lost, per spec §4.7 ("on leader loss, C8
// cancels every watcher and dispatcher").
func (e *Elector) Run(ctx context.Context) error {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.cfg.LeaseName,
			Namespace: e.cfg.LeaseNamespace,
		},
		Client: e.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: e.cfg.Identity,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:          lock,
		LeaseDuration: e.cfg.LeaseDuration,
		RenewDeadline: e.cfg.RenewDeadline,
		RetryPeriod:   e.cfg.RetryPeriod,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				e.logger.Info("acquired leadership", "lease", e.leaseKey(), "identity", e.cfg.Identity)
				if e.cb.OnStartedLeading != nil {
					e.cb.OnStartedLeading(leadCtx)
				}
			},
			OnStoppedLeading: func() {
				e.logger.Info("lost leadership", "lease", e.leaseKey(), "identity", e.cfg.Identity)
				if e.cb.OnStoppedLeading != nil {
					e.cb.OnStoppedLeading()
				}
			},
			OnNewLeader: func(identity string) {
				if e.cb.OnNewLeader != nil {
					e.cb.OnNewLeader(identity)
				}
			},
		},
		ReleaseOnCancel: true,
	})
	if err != nil {
		return fmt.Errorf("constructing leader elector for %s: %w", e.leaseKey(), err)
	}

	e.mu.Lock()
	e.le = elector
	e.mu.Unlock()

	elector.Run(ctx)
	return ctx.Err()
}

// IsLeader reports whether this process currently holds the Lease.
// Before Run has constructed the underlying elector it always reports
// false.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	le := e.le
	e.mu.Unlock()
	if le == nil {
		return false
	}
	return le.IsLeader()
}

func (e *Elector) leaseKey() string {
	return e.cfg.LeaseNamespace + "/" + e.cfg.LeaseName
}
