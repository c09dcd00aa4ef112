package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
)

// retryPolicy bounds how long a batch is retried after transient store
// faults before the fault is surfaced.
var retryPolicy = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

// withRetry runs op until it succeeds, fails permanently, or the retry
// budget is spent.  Only repository.ErrStoreUnavailable is retried.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, repository.ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(retryPolicy(), ctx))
}

func applyWithRetry(ctx context.Context, store repository.Store, b repository.Batch) ([]model.Seat, error) {
	var written []model.Seat
	err := withRetry(ctx, func() error {
		var err error
		written, err = store.Apply(ctx, b)
		return err
	})
	return written, err
}

// maxRereads bounds how often a record is re-read after losing a
// transition race before the caller gives up.
const maxRereads = 3

// reread runs fn again while it fails on a record precondition.  fn is
// expected to re-read the record it transitions on every call.
func reread(fn func() error) error {
	for attempt := 0; attempt < maxRereads; attempt++ {
		err := fn()
		if !errors.Is(err, repository.ErrPreconditionFailed) {
			return err
		}
	}
	return ErrConcurrentUpdate
}
