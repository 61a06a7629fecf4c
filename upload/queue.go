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

// pending is a submitted task waiting for its batch.
type pending struct {
	task *Task
	fut  *Future
}

// pendingQueue holds the tasks of the batch currently being accumulated.
//
// It is not goroutine-safe; Scheduler guards it with its mutex.
type pendingQueue struct {
	items []pending
	size  int64
}

// Len returns the number of queued tasks.
func (q *pendingQueue) Len() int { return len(q.items) }

// Size returns the total payload size of the queued tasks.
func (q *pendingQueue) Size() int64 { return q.size }

func (q *pendingQueue) push(p pending) {
	q.items = append(q.items, p)
	q.size += p.task.Size()
}

// drain removes and returns all queued tasks in submission order.
func (q *pendingQueue) drain() (items []pending, size int64) {
	items, size = q.items, q.size
	q.items, q.size = nil, 0
	return
}
