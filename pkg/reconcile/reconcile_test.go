package reconcile

import (
	"errors"
	"testing"
	"time"
)

func TestResultVariants(t *testing.T) {
	ok := Ok()
	if !ok.IsOK() {
		t.Error("Ok() is not IsOK()")
	}
	if _, isRequeue := ok.IsRequeue(); isRequeue {
		t.Error("Ok() reported IsRequeue()")
	}
	if _, isFail := ok.IsFail(); isFail {
		t.Error("Ok() reported IsFail()")
	}

	requeue := Requeue(5 * time.Second)
	if requeue.IsOK() {
		t.Error("Requeue() reported IsOK()")
	}
	after, isRequeue := requeue.IsRequeue()
	if !isRequeue || after != 5*time.Second {
		t.Errorf("Requeue().IsRequeue() = (%v, %v), want (5s, true)", after, isRequeue)
	}

	cause := errors.New("boom")
	fail := Fail(cause)
	if fail.IsOK() {
		t.Error("Fail() reported IsOK()")
	}
	err, isFail := fail.IsFail()
	if !isFail || !errors.Is(err, cause) {
		t.Errorf("Fail().IsFail() = (%v, %v), want (%v, true)", err, isFail, cause)
	}
}
