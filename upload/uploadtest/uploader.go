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

// Package uploadtest contains test doubles for the upload package.
package uploadtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry/transient"

	"go.chromium.org/changelog/upload"
)

// HeaderSize is the fixed artifact overhead reported by Uploader.
const HeaderSize = 8

// Uploader is an in-memory upload.Uploader.
//
// It lays change sets out back to back after a HeaderSize header and records
// every batch it was asked to upload.
type Uploader struct {
	// Latency, if set, is slept (on the context clock) during every Upload.
	Latency time.Duration

	// Err, if set, is consulted before every Upload. A non-nil return fails
	// the attempt.
	Err func(tasks []*upload.Task) error

	mu      sync.Mutex
	batches [][]*upload.Task
	calls   int
	closed  bool
}

var _ upload.Uploader = (*Uploader)(nil)

// Upload implements upload.Uploader.
func (u *Uploader) Upload(ctx context.Context, tasks []*upload.Task) (*upload.TasksResult, error) {
	u.mu.Lock()
	u.calls++
	call := u.calls
	closed := u.closed
	u.mu.Unlock()

	if closed {
		return nil, errors.New("uploader is closed")
	}
	if u.Latency > 0 {
		if tr := clock.Sleep(ctx, u.Latency); tr.Incomplete() {
			return nil, transient.Tag.Apply(tr.Err)
		}
	}
	if u.Err != nil {
		if err := u.Err(tasks); err != nil {
			return nil, err
		}
	}

	res := &upload.TasksResult{
		Handle:  upload.Handle{Name: fmt.Sprintf("memory/%d", call)},
		Offsets: make(map[*upload.Task][]int64, len(tasks)),
	}
	off := int64(HeaderSize)
	for _, t := range tasks {
		offsets := make([]int64, len(t.ChangeSets))
		for i, cs := range t.ChangeSets {
			offsets[i] = off
			off += cs.Size()
		}
		res.Offsets[t] = offsets
	}
	res.Handle.Size = off

	u.mu.Lock()
	u.batches = append(u.batches, tasks)
	u.mu.Unlock()
	return res, nil
}

// Close implements upload.Uploader.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

// Batches returns the successfully uploaded batches.
func (u *Uploader) Batches() [][]*upload.Task {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]*upload.Task(nil), u.batches...)
}

// Calls returns the number of Upload calls, including failed ones.
func (u *Uploader) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// Closed returns true if Close was called.
func (u *Uploader) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// FailAlways returns an Uploader.Err function failing every attempt.
func FailAlways() func([]*upload.Task) error {
	return func([]*upload.Task) error {
		return transient.Tag.Apply(errors.New("injected upload failure"))
	}
}

// FailUntilAttempt returns an Uploader.Err function which fails every task
// until its `attempt`-th upload, tracking attempts by task key.
func FailUntilAttempt(attempt int) func([]*upload.Task) error {
	var mu sync.Mutex
	attempts := map[string]int{}
	return func(tasks []*upload.Task) error {
		mu.Lock()
		defer mu.Unlock()
		var failed bool
		for _, t := range tasks {
			attempts[t.Key()]++
			if attempts[t.Key()] < attempt {
				failed = true
			}
		}
		if failed {
			return transient.Tag.Apply(errors.Reason("injected failure before attempt %d", attempt).Err())
		}
		for _, t := range tasks {
			delete(attempts, t.Key())
		}
		return nil
	}
}
