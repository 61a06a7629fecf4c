// Copyright 2024 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upload

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry"
)

// tracerName names the tracer of every attempt span.
const tracerName = "go.chromium.org/changelog/upload"

// AttemptFn performs one physical attempt.
type AttemptFn func(ctx context.Context) error

// Executor runs attempts with retries, independent of what is being
// uploaded.
//
// At most `concurrency` executions run at the same time; the rest wait for a
// slot in the order they were started.
type Executor struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	m       instruments
	tracer  trace.Tracer

	wg sync.WaitGroup
}

// NewExecutor returns an Executor reporting metrics under `name`.
//
// `limiter` may be nil for no rate limit.
func NewExecutor(name string, concurrency int, limiter *rate.Limiter) *Executor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Executor{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		limiter: limiter,
		m:       instruments{storage: name},
		tracer:  otel.Tracer(tracerName),
	}
}

// Go runs Execute asynchronously once an execution slot is free, then calls
// `done` with its outcome.
//
// If ctx is canceled while waiting for a slot, `done` is called with 0
// attempts and the context error.
func (e *Executor) Go(ctx context.Context, policy RetryPolicy, attempt AttemptFn, retryable func(error) bool, done func(attempts int, err error)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			done(0, errors.Annotate(err, "waiting for an upload slot").Err())
			return
		}
		defer e.sem.Release(1)
		done(e.Execute(ctx, policy, attempt, retryable))
	}()
}

// Wait blocks until all executions started with Go have called `done`.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Execute invokes `attempt` until it succeeds or `policy` gives up.
//
// `retryable`, if not nil, may veto retrying a particular error. Every
// failed attempt is counted in the failures metric; the total number of
// attempts is observed once the outcome is final.
func (e *Executor) Execute(ctx context.Context, policy RetryPolicy, attempt AttemptFn, retryable func(error) bool) (attempts int, err error) {
	defer func() {
		if attempts > 0 {
			e.m.resolved(ctx, attempts)
		}
	}()

	it := policy.iterator(clock.Now(ctx))
	for {
		if e.limiter != nil {
			if werr := e.limiter.Wait(ctx); werr != nil {
				if err == nil {
					err = werr
				}
				return attempts, errors.Annotate(err, "waiting for upload quota").Err()
			}
		}

		attempts++
		if err = e.try(ctx, policy.Timeout, attempts, attempt); err == nil {
			return attempts, nil
		}
		e.m.attemptFailed(ctx)

		if ctx.Err() != nil {
			return attempts, err
		}
		if retryable != nil && !retryable(err) {
			return attempts, err
		}
		delay := it.Next(ctx, err)
		if delay == retry.Stop {
			return attempts, err
		}

		logging.Fields{
			logging.ErrorKey: err,
			"attempt":        attempts,
			"delay":          delay,
		}.Debugf(ctx, "Upload attempt failed, retrying.")
		if delay > 0 {
			if tr := <-clock.After(ctx, delay); tr.Incomplete() {
				return attempts, errors.Annotate(err, "retry canceled after %d attempt(s)", attempts).Err()
			}
		}
	}
}

func (e *Executor) try(ctx context.Context, timeout time.Duration, n int, attempt AttemptFn) (err error) {
	ctx, span := e.tracer.Start(ctx, "changelog.upload.attempt",
		trace.WithAttributes(attribute.Int("attempt", n)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = clock.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return attempt(ctx)
}
