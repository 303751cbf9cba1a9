package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeReconciler struct {
	calls atomic.Int32
	fn    func(n int32) (int, error)
}

func (f *fakeReconciler) ReconcileExpired(context.Context) (int, error) {
	n := f.calls.Add(1)
	return f.fn(n)
}

func TestExpiryWorkerSweepsUntilCancelled(t *testing.T) {
	rec := &fakeReconciler{fn: func(n int32) (int, error) {
		switch n {
		case 1:
			return 0, errors.New("db down")
		case 2:
			panic("bad row")
		default:
			return 1, nil
		}
	}}
	w := NewExpiryWorker(rec, 5*time.Millisecond, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return rec.calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond,
		"errors and panics must not stop the loop")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestExpiryWorkerDisabledByZeroInterval(t *testing.T) {
	rec := &fakeReconciler{fn: func(int32) (int, error) { return 0, nil }}
	w := NewExpiryWorker(rec, 0, zerolog.New(io.Discard))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NotPanics(t, func() { w.Start(context.Background()) })
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return without waiting for cancellation")
	}
	assert.Zero(t, rec.calls.Load())
}
