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

package config

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/upload"
)

// unbounded is the YAML literal for upload.Unbounded.
const unbounded = "unbounded"

// Bytes is a byte size written either as an integer or in human-readable
// form ("64KiB", "10 MB"), or "unbounded".
type Bytes int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Bytes) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "":
		*b = 0
	case unbounded:
		*b = upload.Unbounded
	default:
		v, err := humanize.ParseBytes(s)
		if err != nil {
			return errors.Annotate(err, "bad byte size %q", s).Err()
		}
		*b = Bytes(v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b Bytes) MarshalYAML() (any, error) {
	if b == upload.Unbounded {
		return unbounded, nil
	}
	// IBytes rounds; fall back to the exact number when it would lose bytes.
	s := humanize.IBytes(uint64(b))
	if v, err := humanize.ParseBytes(s); err == nil && v == uint64(b) {
		return s, nil
	}
	return int64(b), nil
}

// Count is a number of items, or "unbounded".
type Count int

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Count) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "":
		*c = 0
	case unbounded:
		*c = upload.Unbounded
	default:
		v, err := strconv.Atoi(s)
		if err != nil {
			return errors.Annotate(err, "bad count %q", s).Err()
		}
		*c = Count(v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Count) MarshalYAML() (any, error) {
	if c == upload.Unbounded {
		return unbounded, nil
	}
	return int(c), nil
}

// Duration is a time.Duration in time.ParseDuration form, or "unbounded".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "":
		*d = 0
	case unbounded:
		*d = upload.Unbounded
	default:
		v, err := time.ParseDuration(s)
		if err != nil {
			return errors.Annotate(err, "bad duration %q", s).Err()
		}
		*d = Duration(v)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	if d == upload.Unbounded {
		return unbounded, nil
	}
	return time.Duration(d).String(), nil
}
