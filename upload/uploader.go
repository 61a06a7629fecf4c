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
	"io"
)

// Uploader physically writes a batch of tasks as one durable artifact.
//
// An Uploader must tolerate being retried with the same tasks: a retried
// attempt may write redundant bytes, which are not deduplicated. A failed
// Upload must not be assumed to have any side effects.
//
// Upload may be called concurrently for different batches, up to
// Options.Concurrency.
type Uploader interface {
	io.Closer

	// Upload writes all tasks and reports the offset of every change set.
	//
	// Errors apply to the whole batch.
	Upload(ctx context.Context, tasks []*Task) (*TasksResult, error)
}
