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
	"fmt"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry"
)

// Unbounded disables a limit or a flush trigger wherever it is accepted.
const Unbounded = -1

// RetryPolicy governs how a failed upload of a batch is retried.
//
// RetryPolicy values are immutable and may be shared between schedulers.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	//
	// Unbounded (or any value <= 0) retries until Deadline passes.
	MaxAttempts int

	// Delay is waited between a failed attempt and the next one.
	Delay time.Duration

	// Multiplier, if > 1, multiplies Delay after each failed attempt, up to
	// MaxDelay.
	Multiplier float64

	// MaxDelay caps the exponential delay. Ignored unless Multiplier > 1.
	MaxDelay time.Duration

	// Timeout, if > 0, bounds each individual attempt.
	Timeout time.Duration

	// Deadline, if > 0, bounds the total time spent on a batch since its first
	// attempt started. No new attempt is started past the deadline.
	Deadline time.Duration
}

// NoRetry makes any upload failure terminal.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// defaultPolicyTemplate defines the retry parameters used when Options.Retry
// is not set.
var defaultPolicyTemplate = RetryPolicy{
	MaxAttempts: 3,
	Delay:       500 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    10 * time.Second,
	Timeout:     time.Minute,
}

// DefaultRetryPolicy returns the policy used when Options.Retry is nil.
func DefaultRetryPolicy() RetryPolicy {
	return defaultPolicyTemplate
}

// Fixed returns a policy with a fixed delay between attempts.
func Fixed(maxAttempts int, timeout, delay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: delay, Timeout: timeout}
}

func (p RetryPolicy) String() string {
	if p == NoRetry {
		return "NONE"
	}
	attempts := "unbounded"
	if p.MaxAttempts > 0 {
		attempts = fmt.Sprint(p.MaxAttempts)
	}
	return fmt.Sprintf("RetryPolicy(attempts: %s, delay: %s, multiplier: %g, timeout: %s, deadline: %s)",
		attempts, p.Delay, p.Multiplier, p.Timeout, p.Deadline)
}

func (p RetryPolicy) validate() error {
	switch {
	case p.Delay < 0:
		return errors.Reason("negative Delay: %s", p.Delay).Err()
	case p.Timeout < 0:
		return errors.Reason("negative Timeout: %s", p.Timeout).Err()
	case p.Deadline < 0:
		return errors.Reason("negative Deadline: %s", p.Deadline).Err()
	case p.Multiplier < 0:
		return errors.Reason("negative Multiplier: %g", p.Multiplier).Err()
	case p.MaxAttempts <= 0 && p.Deadline == 0:
		return errors.New("unbounded MaxAttempts requires a Deadline")
	}
	return nil
}

// iterator returns a fresh retry.Iterator for one batch, started at `start`.
//
// The iterator yields retry.Stop once the attempts or the deadline are
// exhausted.
func (p RetryPolicy) iterator(start time.Time) retry.Iterator {
	retries := -1
	if p.MaxAttempts > 0 {
		retries = p.MaxAttempts - 1
	}
	limited := retry.Limited{Delay: p.Delay, Retries: retries}

	var it retry.Iterator = &limited
	if p.Multiplier > 1 {
		it = &retry.ExponentialBackoff{
			Limited:    limited,
			Multiplier: p.Multiplier,
			MaxDelay:   p.MaxDelay,
		}
	}
	if p.Deadline > 0 {
		it = &deadlineIterator{Iterator: it, deadline: start.Add(p.Deadline)}
	}
	return it
}

// deadlineIterator stops retrying when the next attempt would begin past
// deadline.
type deadlineIterator struct {
	retry.Iterator

	deadline time.Time
}

func (i *deadlineIterator) Next(ctx context.Context, err error) time.Duration {
	delay := i.Iterator.Next(ctx, err)
	if delay == retry.Stop {
		return retry.Stop
	}
	if !clock.Now(ctx).Add(delay).Before(i.deadline) {
		return retry.Stop
	}
	return delay
}
