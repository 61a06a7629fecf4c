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

// Package upload implements the batching write path of the change log.
//
// Writers submit Tasks (groups of ChangeSets) to a Scheduler. The Scheduler
// accumulates them and cuts a Batch when the queued payload reaches
// Options.BatchSizeMax, when Options.BatchItemsMax tasks are queued, or when
// Options.BatchAgeMax passed since the first task of the batch was queued.
// Every Batch is written as a single artifact by an Uploader, retried
// according to a RetryPolicy by an Executor. Once the batch is resolved, each
// task's Future receives the artifact Handle and the offsets of its change
// sets, or the error which failed the whole batch.
//
// Batches are atomic: all tasks of a batch succeed or fail together.
//
// The Scheduler reports tsmon metrics under "changelog/upload/...", see
// metrics.go.
package upload
