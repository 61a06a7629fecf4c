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

	"go.chromium.org/luci/common/clock"
)

// Timer delivers delayed flushes to a Scheduler.
//
// The Scheduler only ever arms one callback at a time. Implementations must
// invoke `f` at most once and must not invoke it after `stop` returned true.
type Timer interface {
	// AfterFunc arranges for `f` to be called after `d`.
	//
	// `d` may be negative (i.e. Unbounded), in which case the callback must not
	// fire on its own. Returns a function which cancels the callback; it returns
	// false if the callback already ran or is running.
	AfterFunc(ctx context.Context, d time.Duration, f func()) (stop func() bool)
}

// ClockTimer implements Timer on top of the clock in the context.
//
// Under testclock the callbacks fire when the test clock is advanced.
type ClockTimer struct{}

var _ Timer = ClockTimer{}

// AfterFunc implements Timer.
func (ClockTimer) AfterFunc(ctx context.Context, d time.Duration, f func()) (stop func() bool) {
	if d < 0 {
		return func() bool { return true }
	}

	ctx, cancel := context.WithCancel(ctx)
	var mu sync.Mutex
	fired, stopped := false, false

	t := clock.NewTimer(ctx)
	t.Reset(d)
	go func() {
		defer cancel()
		defer t.Stop()
		if res := <-t.GetC(); res.Incomplete() {
			return
		}
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		fired = true
		mu.Unlock()
		f()
	}()

	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		if fired {
			return false
		}
		stopped = true
		cancel()
		return true
	}
}
