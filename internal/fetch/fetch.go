// Package fetch runs a fetch function over many items with a bounded pool of
// workers. Items are grouped into batches; every batch gets its own session,
// so no session is ever shared between workers.
//
// A failing item never aborts the others: it is logged, recorded in the
// Report and left out of the results.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "nsocal/internal/log"
)

const (
	DefaultWorkers   = 20
	DefaultBatchSize = 5
)

// ErrAllFailed is returned when there was work to do and none of it
// succeeded.
var ErrAllFailed = errors.New("fetch: every item failed")

// Session fetches items one at a time. A session is used by a single worker
// and closed when its batch is done.
type Session[T, R any] interface {
	Fetch(ctx context.Context, item T) (R, error)
	Close() error
}

// Opener creates a fresh Session. It is called once per batch.
type Opener[T, R any] func(ctx context.Context) (Session[T, R], error)

// Options tunes the pool. Zero values select the defaults; Timeout and
// Retries default to none.
type Options[T any] struct {
	// Workers bounds the number of batches processed concurrently.
	Workers int
	// BatchSize is the number of items handled by one session.
	BatchSize int
	// Timeout bounds a single Fetch call. Zero means no timeout.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed Fetch.
	Retries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// Label renders an item for log lines. Defaults to fmt.Sprint.
	Label func(item T) string
}

func (o Options[T]) normalized() Options[T] {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Label == nil {
		o.Label = func(item T) string { return fmt.Sprint(item) }
	}
	return o
}

// Failure records an item that could not be fetched.
type Failure[T any] struct {
	Item T
	Err  error
}

// Report is the outcome of Run. Results are in no particular order.
type Report[T, R any] struct {
	Results  []R
	Failures []Failure[T]
}

type batchReport[T, R any] struct {
	results  []R
	failures []Failure[T]
}

// Run fetches every item and blocks until all batches have finished.
//
// The returned error is ErrAllFailed when items were given and none
// succeeded, or the context's error when ctx was cancelled. The Report is
// populated in both cases.
func Run[T, R any](ctx context.Context, items []T, open Opener[T, R], opts Options[T]) (Report[T, R], error) {
	var report Report[T, R]
	if len(items) == 0 {
		return report, nil
	}
	opts = opts.normalized()

	batches := Batch(items, opts.BatchSize)
	out := make(chan batchReport[T, R], len(batches))
	sem := make(chan struct{}, opts.Workers)

	appLog.Info("fetch start", "items", len(items), "batches", len(batches), "workers", opts.Workers)

	launched := 0
	for _, b := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			out <- failAll[T, R](b, ctx.Err())
			continue
		}
		launched++
		go func(b []T) {
			defer func() { <-sem }()
			out <- runBatch(ctx, b, open, opts)
		}(b)
	}

	for range batches {
		br := <-out
		report.Results = append(report.Results, br.results...)
		report.Failures = append(report.Failures, br.failures...)
	}

	appLog.Info("fetch completed", "ok", len(report.Results), "failed", len(report.Failures), "sessions", launched)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(report.Results) == 0 {
		return report, ErrAllFailed
	}
	return report, nil
}

func runBatch[T, R any](ctx context.Context, batch []T, open Opener[T, R], opts Options[T]) batchReport[T, R] {
	sess, err := open(ctx)
	if err != nil {
		appLog.Error("fetch session open failed", err, "batch_size", len(batch))
		return failAll[T, R](batch, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			appLog.Error("fetch session close failed", cerr)
		}
	}()

	var br batchReport[T, R]
	for i, item := range batch {
		if err := ctx.Err(); err != nil {
			rest := failAll[T, R](batch[i:], err)
			br.failures = append(br.failures, rest.failures...)
			break
		}
		r, err := fetchOne(ctx, sess, item, opts)
		if err != nil {
			appLog.Error("fetch failed", err, "item", opts.Label(item))
			br.failures = append(br.failures, Failure[T]{Item: item, Err: err})
			continue
		}
		br.results = append(br.results, r)
	}
	return br
}

func fetchOne[T, R any](ctx context.Context, sess Session[T, R], item T, opts Options[T]) (R, error) {
	var zero R
	for attempt := 0; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}
		r, err := sess.Fetch(callCtx, item)
		cancel()
		if err == nil {
			return r, nil
		}
		if attempt >= opts.Retries || ctx.Err() != nil {
			return zero, err
		}

		appLog.Warn("fetch attempt failed, retrying", "item", opts.Label(item), "attempt", attempt+1, "err", err)
		if opts.RetryDelay > 0 {
			t := time.NewTimer(opts.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, err
			case <-t.C:
			}
		}
	}
}

func failAll[T, R any](batch []T, err error) batchReport[T, R] {
	br := batchReport[T, R]{failures: make([]Failure[T], 0, len(batch))}
	for _, item := range batch {
		br.failures = append(br.failures, Failure[T]{Item: item, Err: err})
	}
	return br
}

// Batch splits items into consecutive groups of at most size elements.
func Batch[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
