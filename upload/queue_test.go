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
	"fmt"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

// mkTask builds a single change set task with a payload of `size` bytes.
func mkTask(t testing.TB, writer string, from SequenceNumber, size int) *Task {
	t.Helper()
	task, err := NewTask(writer, &ChangeSet{
		WriterID: writer,
		From:     from,
		To:       from + 1,
		Payload:  make([]byte, size),
	})
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestPendingQueue(t *testing.T) {
	t.Parallel()

	ftt.Run(`pendingQueue`, t, func(t *ftt.Test) {
		var q pendingQueue
		assert.Loosely(t, q.Len(), should.BeZero)
		assert.Loosely(t, q.Size(), should.BeZero)

		for i := 0; i < 5; i++ {
			task := mkTask(t, fmt.Sprintf("w%d", i), 1, 10*(i+1))
			q.push(pending{task: task, fut: newFuture(task)})
		}
		assert.Loosely(t, q.Len(), should.Equal(5))
		assert.Loosely(t, q.Size(), should.Equal[int64](10+20+30+40+50))

		t.Run(`drain keeps submission order`, func(t *ftt.Test) {
			items, size := q.drain()
			assert.Loosely(t, items, should.HaveLength(5))
			assert.Loosely(t, size, should.Equal[int64](150))
			for i, p := range items {
				assert.Loosely(t, p.task.WriterID, should.Equal(fmt.Sprintf("w%d", i)))
				assert.Loosely(t, p.fut.Task(), should.Equal(p.task))
			}

			assert.Loosely(t, q.Len(), should.BeZero)
			assert.Loosely(t, q.Size(), should.BeZero)

			items, size = q.drain()
			assert.Loosely(t, items, should.BeEmpty)
			assert.Loosely(t, size, should.BeZero)
		})
	})
}
