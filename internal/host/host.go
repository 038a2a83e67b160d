// Package host implements C8, the Operator Host: the top-level
// lifecycle that owns leader election (if enabled) and every
// registered controller's watcher + dispatcher pair.
//
// Grounded on datum-cloud-milo's cmd/milo/controller-manager/core.go
// (a named registry of controllers started/stopped as a unit) and
// internal/informer/manager.go's Start/Stop lifecycle (mutex-guarded
// started flag, a stop channel closed once, context-done blocking).
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/kubernetes"

	"go.datum.net/operatorcore/internal/election"
)

// ErrLeadershipLost is returned by Start when leader election has
// failed to reacquire the lease across several consecutive attempts,
// corresponding to exit code 2 in spec §6.
var ErrLeadershipLost = errors.New("leader election permanently lost")

// maxReacquireFailures bounds how many consecutive failed-to-acquire
// cycles the host tolerates before giving up on leadership entirely.
const maxReacquireFailures = 5

// Runnable is anything the host starts and stops as a unit; the
// watcher+dispatcher pair built by pkg/controller implements this.
type Runnable interface {
	Run(ctx context.Context) error
}

// Registration names one Runnable for logging purposes.
type Registration struct {
	Name     string
	Runnable Runnable
}

// Config tunes the host. LeaderElection is nil to disable leader
// election entirely (single-replica deployments).
type Config struct {
	LeaderElection *election.Config
}

// Host owns the hierarchical cancellation scope from spec §4.8: one
// root scope per Start() call, narrowed to a leadership-scoped child
// whenever leader election is enabled.
type Host struct {
	cfg    Config
	client kubernetes.Interface
	logger logr.Logger

	mu            sync.Mutex
	registrations []Registration
	started       bool
	cancel        context.CancelFunc
	stopped       chan struct{}
}

// New builds a Host. client is required only when cfg.LeaderElection
// is non-nil.
func New(cfg Config, client kubernetes.Interface, logger logr.Logger) *Host {
	return &Host{cfg: cfg, client: client, logger: logger}
}

// Register adds a controller to the set Start() brings up. Must be
// called before Start().
func (h *Host) Register(r Registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registrations = append(h.registrations, r)
}

// Registrations returns a snapshot of every Runnable registered so far.
func (h *Host) Registrations() []Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Registration(nil), h.registrations...)
}

// Start acquires leadership (if configured) and runs every registered
// controller until ctx is cancelled or leadership is permanently lost.
// It blocks for the host's entire lifetime; call Stop from another
// goroutine to end it early.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("host already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.stopped = make(chan struct{})
	h.started = true
	regs := append([]Registration(nil), h.registrations...)
	h.mu.Unlock()

	defer close(h.stopped)
	defer func() {
		h.mu.Lock()
		h.started = false
		h.mu.Unlock()
	}()

	if h.cfg.LeaderElection == nil {
		return h.runControllers(runCtx, regs)
	}
	return h.runWithLeaderElection(runCtx, regs)
}

// Stop cancels the running host's scope and waits up to deadline for
// every controller to return, per spec §4.8's Stop(deadline).
func (h *Host) Stop(deadline time.Duration) error {
	h.mu.Lock()
	cancel := h.cancel
	stopped := h.stopped
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if stopped == nil {
		return nil
	}

	select {
	case <-stopped:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("host did not stop within %s", deadline)
	}
}

// runControllers starts every registration's Runnable under ctx and
// waits for all of them to return, aggregating non-cancellation errors
// the same way the teacher's Project controller aggregates finalizer
// errors via kerrors.Aggregate.
func (h *Host) runControllers(ctx context.Context, regs []Registration) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(regs))

	for _, r := range regs {
		wg.Add(1)
		go func(r Registration) {
			defer wg.Done()
			err := r.Runnable.Run(ctx)
			if err != nil && ctx.Err() == nil {
				h.logger.Error(err, "controller exited unexpectedly", "controller", r.Name)
			}
			errCh <- err
		}(r)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return kerrors.NewAggregate(errs)
}

// runWithLeaderElection repeatedly contends for leadership, starting
// runControllers under a leadership-scoped child context on each
// acquisition and letting it be cancelled on loss, per spec §4.7
// ("on leader loss, C8 cancels every watcher and dispatcher; on
// re-acquisition, they are rebuilt").
func (h *Host) runWithLeaderElection(ctx context.Context, regs []Registration) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var acquired atomic.Bool
		var wg sync.WaitGroup
		var runErr error

		elector := election.New(h.client, *h.cfg.LeaderElection, election.Callbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				acquired.Store(true)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := h.runControllers(leadCtx, regs); err != nil {
						runErr = err
					}
				}()
			},
			OnStoppedLeading: func() {
				h.logger.Info("leadership lost, controllers stopping")
			},
		}, h.logger)

		if err := elector.Run(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error(err, "leader elector exited")
		}
		wg.Wait()

		if acquired.Load() {
			failures = 0
		} else {
			failures++
			if failures >= maxReacquireFailures {
				return fmt.Errorf("%w: %d consecutive acquisition failures", ErrLeadershipLost, failures)
			}
		}

		if ctx.Err() != nil {
			return runErr
		}
	}
}
