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
	"time"

	"golang.org/x/time/rate"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry/transient"
)

// ErrorFn is called with every failed upload attempt.
//
// It executes on the executor goroutine running the batch, so it should be
// quick. It must not submit to the Scheduler.
//
// Returns true iff the batch may be retried, according to Options.Retry. A
// false return makes the failure terminal regardless of the policy.
type ErrorFn func(failed *Batch, err error) (retry bool)

// Options is the configuration for New.
//
// Zero values are replaced with the values from Defaults. Thresholds accept
// Unbounded to disable the corresponding flush trigger.
type Options struct {
	// [OPTIONAL] Name distinguishes this Scheduler in metrics and logs.
	//
	// Default: "default".
	Name string

	// [OPTIONAL] Flush once the queued payload reaches this many bytes.
	//
	// Default: 10 MiB.
	BatchSizeMax int64

	// [OPTIONAL] Flush once this many tasks are queued.
	//
	// Default: 1000.
	BatchItemsMax int

	// [OPTIONAL] Flush this long after the first task of a batch was queued.
	// With Unbounded the timer never fires on its own, but a Timer
	// implementation may still deliver it (see uploadtest.ManualTimer).
	//
	// Default: 10ms.
	BatchAgeMax time.Duration

	// [OPTIONAL] The retry policy for failed uploads.
	//
	// Default: DefaultRetryPolicy().
	Retry *RetryPolicy

	// [OPTIONAL] The maximum number of batches uploaded concurrently. Batches
	// cut beyond this wait for a free slot; Submit is never blocked by them.
	//
	// Default: 4.
	Concurrency int

	// [OPTIONAL] A rate limiter for physical upload attempts.
	//
	// Default: No limit.
	QPSLimit *rate.Limiter

	// [OPTIONAL] Once this many submitted bytes are unresolved, the channel
	// from Scheduler.Available is open until enough uploads complete. Submit
	// never blocks on it; writers are expected to wait on Available.
	//
	// Default: Unbounded.
	MaxBytesInFlight int64

	// [OPTIONAL] Delivers the BatchAgeMax flush.
	//
	// Default: ClockTimer{}.
	Timer Timer

	// [OPTIONAL] If true, Close uploads the tasks still queued and waits for
	// them. Otherwise Close fails them with ErrClosed and cancels retries of
	// in-flight batches.
	DrainOnClose bool

	// [OPTIONAL] The ErrorFn to use (see ErrorFn docs for details).
	//
	// Default: Logs the error at Warning level and returns true.
	ErrorFn ErrorFn

	// [OPTIONAL] Called with every batch which failed terminally, right before
	// its tasks are failed.
	//
	// Default: Logs the batch at Error level.
	DropFn func(b *Batch, err error)

	// [OPTIONAL] Called exactly once when the Scheduler is closed and all of
	// its tasks are resolved.
	DrainedFn func()
}

// Defaults defines the defaults for Options when it contains 0-valued
// fields.
//
// DO NOT ASSIGN/WRITE TO THIS STRUCT.
var Defaults = Options{
	Name:             "default",
	BatchSizeMax:     10 * 1024 * 1024,
	BatchItemsMax:    1000,
	BatchAgeMax:      10 * time.Millisecond,
	Concurrency:      4,
	MaxBytesInFlight: Unbounded,
}

// shouldFlush evaluates the size and count triggers for a queue holding
// `count` tasks with `size` payload bytes.
func (o *Options) shouldFlush(count int, size int64) bool {
	if count == 0 {
		return false
	}
	if o.BatchItemsMax > 0 && count >= o.BatchItemsMax {
		return true
	}
	return o.BatchSizeMax > 0 && size >= o.BatchSizeMax
}

func defaultDropFnFactory(ctx context.Context) func(*Batch, error) {
	return func(dropped *Batch, err error) {
		logging.Fields{
			logging.ErrorKey: err,
			"batch":          dropped.ID,
			"tasks":          len(dropped.Tasks),
			"bytes":          dropped.Size,
		}.Errorf(ctx, "Dropping batch after a terminal upload failure.")
	}
}

func defaultErrorFnFactory(ctx context.Context) ErrorFn {
	return func(failed *Batch, err error) (retry bool) {
		logging.Fields{
			logging.ErrorKey: err,
			"batch":          failed.ID,
			"tasks":          len(failed.Tasks),
		}.Warningf(ctx, "Upload attempt failed.")
		return true
	}
}

// ErrorFnQuiet is an implementation of Options.ErrorFn which doesn't log the
// batch and retries every error.
func ErrorFnQuiet(*Batch, error) (retry bool) { return true }

// ErrorFnTransientOnly is an implementation of Options.ErrorFn which only
// retries errors tagged with transient.Tag.
func ErrorFnTransientOnly(_ *Batch, err error) (retry bool) {
	return transient.Tag.In(err)
}

// DropFnQuiet is an implementation of Options.DropFn which drops batches
// without logging anything.
func DropFnQuiet(*Batch, error) {}
