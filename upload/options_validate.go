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

	"golang.org/x/time/rate"

	"go.chromium.org/luci/common/errors"
)

// Validate reports whether New would accept these options. It does not
// modify o.
func (o *Options) Validate() error {
	cp := *o
	return cp.normalize(context.Background())
}

// normalize validates that Options is well formed and populates defaults which
// are missing.
func (o *Options) normalize(ctx context.Context) error {
	if o.Name == "" {
		o.Name = Defaults.Name
	}

	switch {
	case o.BatchSizeMax == 0:
		o.BatchSizeMax = Defaults.BatchSizeMax
	case o.BatchSizeMax < 0 && o.BatchSizeMax != Unbounded:
		return errors.Reason("BatchSizeMax must be positive or Unbounded: %d", o.BatchSizeMax).Err()
	}

	switch {
	case o.BatchItemsMax == 0:
		o.BatchItemsMax = Defaults.BatchItemsMax
	case o.BatchItemsMax < 0 && o.BatchItemsMax != Unbounded:
		return errors.Reason("BatchItemsMax must be positive or Unbounded: %d", o.BatchItemsMax).Err()
	}

	switch {
	case o.BatchAgeMax == 0:
		o.BatchAgeMax = Defaults.BatchAgeMax
	case o.BatchAgeMax < 0 && o.BatchAgeMax != Unbounded:
		return errors.Reason("BatchAgeMax must be positive or Unbounded: %s", o.BatchAgeMax).Err()
	}

	switch {
	case o.MaxBytesInFlight == 0:
		o.MaxBytesInFlight = Defaults.MaxBytesInFlight
	case o.MaxBytesInFlight < 0 && o.MaxBytesInFlight != Unbounded:
		return errors.Reason("MaxBytesInFlight must be positive or Unbounded: %d", o.MaxBytesInFlight).Err()
	}

	switch {
	case o.Concurrency == 0:
		o.Concurrency = Defaults.Concurrency
	case o.Concurrency < 0:
		return errors.Reason("Concurrency must be positive: %d", o.Concurrency).Err()
	}

	if o.Retry == nil {
		p := DefaultRetryPolicy()
		o.Retry = &p
	}
	if err := o.Retry.validate(); err != nil {
		return errors.Annotate(err, "invalid Retry").Err()
	}

	if o.QPSLimit == nil {
		o.QPSLimit = rate.NewLimiter(rate.Inf, 0)
	}
	if o.QPSLimit.Limit() != rate.Inf && o.QPSLimit.Burst() < 1 {
		return errors.Reason(
			"QPSLimit has burst size < 1, but a non-infinite rate: %d",
			o.QPSLimit.Burst()).Err()
	}

	if o.Timer == nil {
		o.Timer = ClockTimer{}
	}
	if o.ErrorFn == nil {
		o.ErrorFn = defaultErrorFnFactory(ctx)
	}
	if o.DropFn == nil {
		o.DropFn = defaultDropFnFactory(ctx)
	}

	return nil
}
