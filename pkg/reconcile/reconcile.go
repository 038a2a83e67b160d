// Package reconcile defines the inputs and outputs of user reconciliation
// logic: the Reconciliation Context and Reconciliation Result from spec §3.
package reconcile

import (
	"context"
	"time"

	"go.datum.net/operatorcore/pkg/event"
	"go.datum.net/operatorcore/pkg/object"
)

// Context is constructed fresh per dispatch and passed to user Reconcile
// functions. Ctx carries the reconcile-timeout deadline the dispatcher
// derives per spec §4.5/§5; blocking calls inside Reconcile must select
// on Ctx.Done() to honor cancellation.
type Context struct {
	Ctx       context.Context
	Object    object.Object
	EventType event.Type
	Now       time.Time
}

// outcome tags which variant of Result is populated.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRequeue
	outcomeFail
)

// Result is the tagged Ok | Requeue(after) | Fail(error) variant a user
// Reconcile function returns.
type Result struct {
	outcome outcome
	after   time.Duration
	err     error
}

// Ok reports successful, complete reconciliation; the item is forgotten.
func Ok() Result { return Result{outcome: outcomeOK} }

// Requeue asks the dispatcher to re-run Reconcile after the given delay,
// without treating this pass as a failure.
func Requeue(after time.Duration) Result {
	return Result{outcome: outcomeRequeue, after: after}
}

// Fail reports a reconciliation failure; the dispatcher re-enqueues with
// exponential backoff and surfaces err to observability.
func Fail(err error) Result {
	return Result{outcome: outcomeFail, err: err}
}

// IsOK reports whether the result is the Ok variant.
func (r Result) IsOK() bool { return r.outcome == outcomeOK }

// IsRequeue reports whether the result is the Requeue variant, returning
// the requested delay.
func (r Result) IsRequeue() (time.Duration, bool) {
	return r.after, r.outcome == outcomeRequeue
}

// IsFail reports whether the result is the Fail variant, returning the
// carried error.
func (r Result) IsFail() (error, bool) {
	return r.err, r.outcome == outcomeFail
}

// Func is the shape of user reconciliation logic: drive observed state
// toward desired state for one object.
type Func func(Context) Result
