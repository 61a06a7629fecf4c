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
)

// Future is the single-assignment outcome of a submitted Task.
type Future struct {
	task *Task

	once sync.Once
	done chan struct{}
	res  *Result
	err  error
}

func newFuture(t *Task) *Future {
	return &Future{task: t, done: make(chan struct{})}
}

// Task returns the task this future belongs to.
func (f *Future) Task() *Task { return f.task }

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the outcome is known or ctx is done.
//
// A non-nil error from a resolved future means nothing was durably written
// for the task.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the outcome without blocking. ok is false if the future is not
// resolved yet.
func (f *Future) Get() (res *Result, err error, ok bool) {
	select {
	case <-f.done:
		return f.res, f.err, true
	default:
		return nil, nil, false
	}
}

// resolve sets the outcome. Only the first call has any effect.
//
// Returns true if this call resolved the future.
func (f *Future) resolve(res *Result, err error) (resolved bool) {
	f.once.Do(func() {
		f.res, f.err = res, err
		close(f.done)
		resolved = true
	})
	return
}
