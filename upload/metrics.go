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
	"time"

	"go.chromium.org/luci/common/tsmon/distribution"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
	"go.chromium.org/luci/common/tsmon/types"
)

// All metrics carry the "storage" field, which is Options.Name.
var (
	// tsUploads counts physical writes which succeeded.
	tsUploads = metric.NewCounter("changelog/upload/count",
		"The number of successful physical uploads.",
		nil,
		field.String("storage"))

	// tsUploadFailures counts failed attempts, including the ones which were
	// retried later.
	tsUploadFailures = metric.NewCounter("changelog/upload/failures",
		"The number of failed upload attempts.",
		nil,
		field.String("storage"))

	tsUploadLatency = metric.NewCumulativeDistribution("changelog/upload/latency",
		"Wall time of successful upload attempts.",
		&types.MetricMetadata{Units: types.Milliseconds},
		distribution.DefaultBucketer,
		field.String("storage"))

	// tsUploadSize tracks the size of each written artifact, including the
	// format overhead.
	tsUploadSize = metric.NewCumulativeDistribution("changelog/upload/size",
		"The size (in bytes) of each uploaded artifact.",
		&types.MetricMetadata{Units: types.Bytes},
		distribution.GeometricBucketer(2, 40),
		field.String("storage"))

	tsBatchSize = metric.NewCumulativeDistribution("changelog/upload/batch_size",
		"The number of tasks in each physical upload.",
		nil,
		distribution.FixedWidthBucketer(1, 1000),
		field.String("storage"))

	// tsAttempts tracks the number of attempts each batch needed until it was
	// resolved, successfully or not.
	tsAttempts = metric.NewCumulativeDistribution("changelog/upload/attempts",
		"The number of attempts per resolved upload.",
		nil,
		distribution.FixedWidthBucketer(1, 100),
		field.String("storage"))

	tsQueueSize = metric.NewInt("changelog/upload/queue_size",
		"The number of tasks waiting to be batched.",
		nil,
		field.String("storage"))

	tsInFlightBytes = metric.NewInt("changelog/upload/in_flight_bytes",
		"Bytes submitted for upload and not resolved yet.",
		&types.MetricMetadata{Units: types.Bytes},
		field.String("storage"))
)

// instruments reports metrics of a single Scheduler.
//
// Metrics are observability outputs only; their errors are ignored.
type instruments struct {
	storage string
}

func (m instruments) uploaded(ctx context.Context, latency time.Duration, size int64) {
	tsUploads.Add(ctx, 1, m.storage)
	tsUploadLatency.Add(ctx, float64(latency)/float64(time.Millisecond), m.storage)
	tsUploadSize.Add(ctx, float64(size), m.storage)
}

func (m instruments) attemptFailed(ctx context.Context) {
	tsUploadFailures.Add(ctx, 1, m.storage)
}

func (m instruments) batchCut(ctx context.Context, tasks int) {
	tsBatchSize.Add(ctx, float64(tasks), m.storage)
}

func (m instruments) resolved(ctx context.Context, attempts int) {
	tsAttempts.Add(ctx, float64(attempts), m.storage)
}

func (m instruments) queueSize(ctx context.Context, n int) {
	tsQueueSize.Set(ctx, int64(n), m.storage)
}

func (m instruments) inFlightBytes(ctx context.Context, n int64) {
	tsInFlightBytes.Set(ctx, n, m.storage)
}
