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

// Package config loads change log configuration from YAML.
//
// A complete file looks like:
//
//	storage:
//	  kind: gs                 # fs, gs, badger, redis or memory
//	  path: gs://bucket/log    # directory, bucket, database or host:port
//	  prefix: changelog/
//	  compress: true
//	  buffer_size: 64KiB
//	upload:
//	  name: main
//	  batch_size_max: 10MiB    # or "unbounded"
//	  batch_items_max: 1000
//	  batch_age_max: 10ms
//	  concurrency: 4
//	  qps: 100                 # 0 means no limit
//	  burst: 10
//	  max_bytes_in_flight: 64MiB
//	  drain_on_close: true
//	  retry:
//	    max_attempts: 3
//	    delay: 500ms
//	    multiplier: 2
//	    max_delay: 10s
//	    timeout: 1m
//	    deadline: 5m
//	writer:
//	  preemptive_persist: 5MiB
//
// Omitted values take the defaults of the upload and writer packages.
package config

import (
	"bytes"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/upload"
	"go.chromium.org/changelog/writer"
)

// StorageKind selects the backing store.
type StorageKind string

const (
	StorageFS     StorageKind = "fs"
	StorageGS     StorageKind = "gs"
	StorageBadger StorageKind = "badger"
	StorageRedis  StorageKind = "redis"
	StorageMemory StorageKind = "memory"
)

// Config is the root of a configuration file.
type Config struct {
	Storage Storage `yaml:"storage"`
	Upload  Upload  `yaml:"upload"`
	Writer  Writer  `yaml:"writer"`
}

// Storage configures where artifacts are written.
type Storage struct {
	Kind       StorageKind `yaml:"kind"`
	Path       string      `yaml:"path,omitempty"`
	Prefix     string      `yaml:"prefix,omitempty"`
	Compress   bool        `yaml:"compress,omitempty"`
	BufferSize Bytes       `yaml:"buffer_size,omitempty"`
}

// Upload configures the upload.Scheduler.
type Upload struct {
	Name             string   `yaml:"name,omitempty"`
	BatchSizeMax     Bytes    `yaml:"batch_size_max,omitempty"`
	BatchItemsMax    Count    `yaml:"batch_items_max,omitempty"`
	BatchAgeMax      Duration `yaml:"batch_age_max,omitempty"`
	Concurrency      int      `yaml:"concurrency,omitempty"`
	QPS              float64  `yaml:"qps,omitempty"`
	Burst            int      `yaml:"burst,omitempty"`
	MaxBytesInFlight Bytes    `yaml:"max_bytes_in_flight,omitempty"`
	DrainOnClose     bool     `yaml:"drain_on_close,omitempty"`
	Retry            *Retry   `yaml:"retry,omitempty"`
}

// Retry configures an upload.RetryPolicy.
type Retry struct {
	MaxAttempts Count    `yaml:"max_attempts"`
	Delay       Duration `yaml:"delay,omitempty"`
	Multiplier  float64  `yaml:"multiplier,omitempty"`
	MaxDelay    Duration `yaml:"max_delay,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	Deadline    Duration `yaml:"deadline,omitempty"`
}

// Writer configures the writer.Storage.
type Writer struct {
	PreemptivePersist Bytes `yaml:"preemptive_persist,omitempty"`
}

// Load reads and validates the configuration file at `path`.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config").Err()
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Annotate(err, "loading %q", path).Err()
	}
	return cfg, nil
}

// Parse decodes and validates a configuration. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Annotate(err, "parsing YAML").Err()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, including everything upload.New would
// reject.
func (c *Config) Validate() error {
	var merr errors.MultiError
	switch c.Storage.Kind {
	case StorageMemory:
	case StorageFS, StorageGS, StorageBadger, StorageRedis:
		if c.Storage.Path == "" {
			merr = append(merr, errors.Reason("storage.path is required for %q", c.Storage.Kind).Err())
		}
	case "":
		merr = append(merr, errors.New("storage.kind is required"))
	default:
		merr = append(merr, errors.Reason("unknown storage.kind %q", c.Storage.Kind).Err())
	}
	if c.Storage.BufferSize < 0 {
		merr = append(merr, errors.New("storage.buffer_size must be positive"))
	}
	if c.Upload.QPS < 0 {
		merr = append(merr, errors.New("upload.qps must not be negative"))
	}
	if c.Writer.PreemptivePersist < 0 && c.Writer.PreemptivePersist != upload.Unbounded {
		merr = append(merr, errors.New("writer.preemptive_persist must be positive or unbounded"))
	}

	opts := c.UploadOptions()
	if err := opts.Validate(); err != nil {
		merr = append(merr, errors.Annotate(err, "upload").Err())
	}
	return merr.AsError()
}

// UploadOptions converts the configuration to upload.Options.
func (c *Config) UploadOptions() upload.Options {
	u := c.Upload
	opts := upload.Options{
		Name:             u.Name,
		BatchSizeMax:     int64(u.BatchSizeMax),
		BatchItemsMax:    int(u.BatchItemsMax),
		BatchAgeMax:      time.Duration(u.BatchAgeMax),
		Concurrency:      u.Concurrency,
		MaxBytesInFlight: int64(u.MaxBytesInFlight),
		DrainOnClose:     u.DrainOnClose,
	}
	if u.QPS > 0 {
		burst := u.Burst
		if burst <= 0 {
			burst = 1
		}
		opts.QPSLimit = rate.NewLimiter(rate.Limit(u.QPS), burst)
	}
	if r := u.Retry; r != nil {
		opts.Retry = &upload.RetryPolicy{
			MaxAttempts: int(r.MaxAttempts),
			Delay:       time.Duration(r.Delay),
			Multiplier:  r.Multiplier,
			MaxDelay:    time.Duration(r.MaxDelay),
			Timeout:     time.Duration(r.Timeout),
			Deadline:    time.Duration(r.Deadline),
		}
	}
	return opts
}

// WriterOptions converts the configuration to writer.Options.
func (c *Config) WriterOptions() writer.Options {
	return writer.Options{PreemptivePersistBytes: int64(c.Writer.PreemptivePersist)}
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return "<" + err.Error() + ">"
	}
	enc.Close()
	return buf.String()
}
