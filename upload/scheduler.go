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
	"sync"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// ErrClosed is returned by Submit after Close, and wraps the failures of
// tasks which were still outstanding when the Scheduler was closed.
var ErrClosed = errors.New("upload scheduler is closed")

// Scheduler accumulates tasks from many writers and uploads them in batches.
//
// All methods are goroutine-safe.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts     Options
	uploader Uploader
	exec     *Executor
	m        instruments

	mu sync.Mutex
	// queue is the batch being accumulated. A task is either in queue or in
	// exactly one inflight batch.
	queue pendingQueue
	// stopTimer cancels the armed BatchAgeMax timer, nil if none is armed.
	stopTimer func() bool
	// timerGen invalidates timer callbacks which lost the race with a drain.
	timerGen uint64
	batchID  uint64
	closed   bool
	// inFlightBytes is the payload size of all submitted, unresolved tasks.
	inFlightBytes int64
	// availC is closed while inFlightBytes is below MaxBytesInFlight.
	availC chan struct{}

	// dispatching counts batches cut under mu which are not yet handed to
	// exec. Close waits for it before waiting for exec.
	dispatching sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// inflight is a batch handed to the executor.
type inflight struct {
	batch   *Batch
	futures []*Future
	result  *TasksResult
}

// New creates a Scheduler which uploads through `uploader`.
//
// The Scheduler owns `uploader` and closes it in Close. The context is used
// for logging, metrics and time; canceling it fails outstanding uploads.
func New(ctx context.Context, uploader Uploader, opts *Options) (*Scheduler, error) {
	if uploader == nil {
		return nil, errors.New("uploader is nil")
	}

	var o Options
	if opts != nil {
		o = *opts
	}
	if err := o.normalize(ctx); err != nil {
		return nil, errors.Annotate(err, "normalizing upload.Options").Err()
	}

	s := &Scheduler{
		opts:     o,
		uploader: uploader,
		exec:     NewExecutor(o.Name, o.Concurrency, o.QPSLimit),
		m:        instruments{storage: o.Name},
		availC:   make(chan struct{}),
	}
	close(s.availC)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.m.queueSize(s.ctx, 0)
	s.m.inFlightBytes(s.ctx, 0)
	return s, nil
}

// Submit queues `task` for upload and returns its Future.
//
// Submit never waits for an upload. It fails if the Scheduler is closed or
// the task carries no change sets.
func (s *Scheduler) Submit(task *Task) (*Future, error) {
	if task == nil || len(task.ChangeSets) == 0 {
		return nil, errors.New("task carries no change sets")
	}
	fut := newFuture(task)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.queue.push(pending{task: task, fut: fut})
	s.m.queueSize(s.ctx, s.queue.Len())
	s.acquireLocked(task.Size())

	var b *inflight
	if s.opts.shouldFlush(s.queue.Len(), s.queue.Size()) {
		b = s.cutLocked()
	} else if s.stopTimer == nil {
		gen := s.timerGen
		s.stopTimer = s.opts.Timer.AfterFunc(s.ctx, s.opts.BatchAgeMax, func() {
			s.timerFired(gen)
		})
	}
	s.mu.Unlock()

	s.dispatch(b)
	return fut, nil
}

// Flush immediately cuts a batch from all queued tasks, if any.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	b := s.cutLocked()
	s.mu.Unlock()
	s.dispatch(b)
}

// QueueSize returns the number of tasks waiting to be batched.
func (s *Scheduler) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlightBytes returns the payload size of all submitted tasks which are
// not resolved yet.
func (s *Scheduler) InFlightBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightBytes
}

// Available returns a channel which is closed while the Scheduler accepts
// more data without exceeding Options.MaxBytesInFlight.
//
// Writers which respect backpressure wait on it before submitting.
func (s *Scheduler) Available() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availC
}

// Close stops accepting tasks and resolves every outstanding Future.
//
// With Options.DrainOnClose queued tasks are uploaded and Close waits for
// them; otherwise they fail with ErrClosed and retries of in-flight batches
// are canceled. Finally the uploader is closed.
//
// Close is idempotent; subsequent calls return the result of the first one.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		var b *inflight
		var dropped []pending
		if s.opts.DrainOnClose {
			b = s.cutLocked()
		} else {
			s.disarmLocked()
			dropped, _ = s.queue.drain()
			s.m.queueSize(s.ctx, 0)
		}
		s.mu.Unlock()

		if len(dropped) > 0 {
			logging.Warningf(s.ctx, "Failing %d queued task(s): scheduler is closed.", len(dropped))
		}
		for _, p := range dropped {
			p.fut.resolve(nil, ErrClosed)
			s.release(p.task.Size())
		}

		s.dispatch(b)
		// No batch can be cut once closed is set and the queue is empty.
		s.dispatching.Wait()
		if !s.opts.DrainOnClose {
			s.cancel()
		}
		s.exec.Wait()
		s.cancel()

		if s.opts.DrainedFn != nil {
			s.opts.DrainedFn()
		}
		if err := s.uploader.Close(); err != nil {
			s.closeErr = errors.Annotate(err, "closing uploader").Err()
		}
	})
	return s.closeErr
}

// timerFired is the BatchAgeMax callback.
func (s *Scheduler) timerFired(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen {
		// A drain won the race; the tasks this timer was armed for are gone.
		s.mu.Unlock()
		return
	}
	s.stopTimer = nil
	b := s.cutLocked()
	s.mu.Unlock()
	s.dispatch(b)
}

func (s *Scheduler) disarmLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	s.timerGen++
}

// cutLocked drains the queue into a new batch.
//
// Returns nil if the queue is empty.
func (s *Scheduler) cutLocked() *inflight {
	s.disarmLocked()

	items, size := s.queue.drain()
	if len(items) == 0 {
		return nil
	}
	s.m.queueSize(s.ctx, 0)
	s.m.batchCut(s.ctx, len(items))
	s.dispatching.Add(1)

	s.batchID++
	b := &inflight{
		batch: &Batch{
			ID:    s.batchID,
			Tasks: make([]*Task, len(items)),
			Size:  size,
		},
		futures: make([]*Future, len(items)),
	}
	for i, p := range items {
		b.batch.Tasks[i] = p.task
		b.futures[i] = p.fut
	}
	return b
}

// dispatch hands the batch to the executor. Must be called without the lock.
//
// It releases the dispatching reservation cutLocked made for the batch.
func (s *Scheduler) dispatch(b *inflight) {
	if b == nil {
		return
	}
	defer s.dispatching.Done()
	retryable := func(err error) bool { return s.opts.ErrorFn(b.batch, err) }
	s.exec.Go(s.ctx, *s.opts.Retry, func(ctx context.Context) error {
		return s.attempt(ctx, b)
	}, retryable, func(attempts int, err error) {
		s.complete(b, attempts, err)
	})
}

// attempt performs one physical upload of the batch.
func (s *Scheduler) attempt(ctx context.Context, b *inflight) error {
	start := clock.Now(ctx)
	res, err := s.uploader.Upload(ctx, b.batch.Tasks)
	switch {
	case err != nil:
		return err
	case res == nil:
		return errors.New("uploader returned no result")
	}
	s.m.uploaded(ctx, clock.Now(ctx).Sub(start), res.Handle.Size)
	b.result = res
	return nil
}

// complete resolves all futures of the batch with one outcome.
func (s *Scheduler) complete(b *inflight, attempts int, err error) {
	var results []*Result
	if err == nil {
		results = make([]*Result, len(b.batch.Tasks))
		for i, t := range b.batch.Tasks {
			if results[i], err = b.result.resultFor(t, attempts); err != nil {
				break
			}
		}
	}

	if err != nil {
		if s.isClosed() && s.ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrClosed, err)
		}
		s.opts.DropFn(b.batch, err)
		s.release(b.batch.Size)
		err = errors.Annotate(err, "uploading batch %d after %d attempt(s)", b.batch.ID, attempts).Err()
		for _, f := range b.futures {
			f.resolve(nil, err)
		}
		return
	}

	logging.Debugf(s.ctx, "Uploaded batch %d (%d task(s)) to %q after %d attempt(s).",
		b.batch.ID, len(b.batch.Tasks), b.result.Handle.Name, attempts)
	s.release(b.batch.Size)
	for i, f := range b.futures {
		f.resolve(results[i], nil)
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acquireLocked accounts `size` more unresolved bytes.
func (s *Scheduler) acquireLocked(size int64) {
	s.inFlightBytes += size
	s.m.inFlightBytes(s.ctx, s.inFlightBytes)
	if s.opts.MaxBytesInFlight > 0 && s.inFlightBytes >= s.opts.MaxBytesInFlight {
		select {
		case <-s.availC:
			s.availC = make(chan struct{})
		default:
		}
	}
}

// release accounts `size` resolved bytes.
func (s *Scheduler) release(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlightBytes -= size
	s.m.inFlightBytes(s.ctx, s.inFlightBytes)
	if s.opts.MaxBytesInFlight <= 0 || s.inFlightBytes < s.opts.MaxBytesInFlight {
		select {
		case <-s.availC:
		default:
			close(s.availC)
		}
	}
}
