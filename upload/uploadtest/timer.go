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

package uploadtest

import (
	"context"
	"sync"
	"time"

	"go.chromium.org/changelog/upload"
)

// ManualTimer is an upload.Timer which only fires when triggered.
//
// The delays passed to AfterFunc are recorded but otherwise ignored.
type ManualTimer struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]scheduled
}

type scheduled struct {
	id    int
	delay time.Duration
	f     func()
}

var _ upload.Timer = (*ManualTimer)(nil)

// AfterFunc implements upload.Timer.
func (t *ManualTimer) AfterFunc(ctx context.Context, d time.Duration, f func()) (stop func() bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		t.pending = map[int]scheduled{}
	}
	t.nextID++
	id := t.nextID
	t.pending[id] = scheduled{id: id, delay: d, f: f}
	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		_, ok := t.pending[id]
		delete(t.pending, id)
		return ok
	}
}

// Pending returns the delays of callbacks armed and not yet fired or
// stopped.
func (t *ManualTimer) Pending() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	ret := make([]time.Duration, 0, len(t.pending))
	for id := 1; id <= t.nextID; id++ {
		if s, ok := t.pending[id]; ok {
			ret = append(ret, s.delay)
		}
	}
	return ret
}

// Trigger runs all pending callbacks in the order they were armed,
// regardless of their delay. Returns the number of callbacks run.
func (t *ManualTimer) Trigger() int {
	t.mu.Lock()
	var due []scheduled
	for id := 1; id <= t.nextID; id++ {
		if s, ok := t.pending[id]; ok {
			due = append(due, s)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, s := range due {
		s.f()
	}
	return len(due)
}
