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
	"strings"

	"go.chromium.org/luci/common/errors"
)

// SequenceNumber identifies a point in a single writer's change stream.
//
// Sequence numbers are strictly increasing per writer and are never reused.
type SequenceNumber uint64

// ChangeSet is the immutable payload a writer produced between two sequence
// points, [From, To).
type ChangeSet struct {
	WriterID string
	From     SequenceNumber
	To       SequenceNumber
	Payload  []byte
}

// Size returns the payload size in bytes.
func (cs *ChangeSet) Size() int64 { return int64(len(cs.Payload)) }

func (cs *ChangeSet) String() string {
	return fmt.Sprintf("%s[%d,%d)", cs.WriterID, cs.From, cs.To)
}

// Task groups the change sets of a single writer which are persisted together.
//
// Construct Tasks with NewTask. A Task must not be modified after it was
// submitted to a Scheduler.
type Task struct {
	WriterID   string
	ChangeSets []*ChangeSet

	size int64
	key  string
}

// NewTask validates and returns a Task for writerID.
//
// All change sets must belong to writerID and be ordered by strictly
// increasing, non-overlapping sequence ranges.
func NewTask(writerID string, sets ...*ChangeSet) (*Task, error) {
	if writerID == "" {
		return nil, errors.New("writer ID is empty")
	}
	if len(sets) == 0 {
		return nil, errors.Reason("task for %q carries no change sets", writerID).Err()
	}

	t := &Task{WriterID: writerID, ChangeSets: sets}
	var key strings.Builder
	key.WriteString(writerID)
	for i, cs := range sets {
		switch {
		case cs == nil:
			return nil, errors.Reason("change set #%d is nil", i).Err()
		case cs.WriterID != writerID:
			return nil, errors.Reason("change set %s does not belong to writer %q", cs, writerID).Err()
		case cs.From >= cs.To:
			return nil, errors.Reason("change set %s has an empty sequence range", cs).Err()
		case i > 0 && cs.From < sets[i-1].To:
			return nil, errors.Reason("change set %s overlaps or precedes %s", cs, sets[i-1]).Err()
		}
		t.size += cs.Size()
		fmt.Fprintf(&key, "|%d-%d", cs.From, cs.To)
	}
	t.key = key.String()
	return t, nil
}

// Size is the sum of the payload sizes of all change sets.
func (t *Task) Size() int64 { return t.size }

// Key identifies the task by writer and contents.
//
// Two tasks with the same Key carry the same change sets.
func (t *Task) Key() string { return t.key }

func (t *Task) String() string { return t.key }

// Batch is a group of tasks written as one physical artifact.
//
// It only exists for the duration of one upload and its retries.
type Batch struct {
	// ID is unique within one Scheduler.
	ID uint64

	Tasks []*Task

	// Size is the total payload size of Tasks in bytes.
	Size int64
}

// Handle references a durable artifact written by an Uploader.
type Handle struct {
	// Name locates the artifact in its backing store.
	Name string
	// Size is the full size of the artifact in bytes, including headers.
	Size int64
}

// TasksResult is what an Uploader reports for a successfully written batch.
type TasksResult struct {
	Handle Handle

	// Offsets maps each uploaded task to the byte offsets of its change sets
	// within the artifact. Each slice is parallel to Task.ChangeSets.
	Offsets map[*Task][]int64
}

// Result is the outcome of a single task.
type Result struct {
	// Handle is shared by all tasks of the same batch.
	Handle Handle

	// Offsets is parallel to Task.ChangeSets.
	Offsets []int64

	// Attempts is the number of physical attempts the batch needed.
	Attempts int
}

// resultFor extracts the Result of `t` from the batch result.
func (r *TasksResult) resultFor(t *Task, attempts int) (*Result, error) {
	offsets, ok := r.Offsets[t]
	if !ok {
		return nil, errors.Reason("uploader returned no offsets for task %s", t).Err()
	}
	if len(offsets) != len(t.ChangeSets) {
		return nil, errors.Reason(
			"uploader returned %d offsets for task %s with %d change sets",
			len(offsets), t, len(t.ChangeSets)).Err()
	}
	return &Result{Handle: r.Handle, Offsets: offsets, Attempts: attempts}, nil
}
