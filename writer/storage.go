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

// Package writer is the client side of the change log: writers append
// changes, mark sequence points and persist ranges of changes through a
// shared upload.Scheduler.
package writer

import (
	"context"
	"sync"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/upload"
)

// Options configure a Storage.
type Options struct {
	// PreemptivePersistBytes starts persisting a writer's unsubmitted changes
	// in the background once they reach this many bytes. Zero or Unbounded
	// disables preemptive persisting.
	PreemptivePersistBytes int64
}

// Storage hands out Writers sharing one upload.Scheduler.
type Storage struct {
	ctx   context.Context
	sched *upload.Scheduler
	opts  Options

	// watchers tracks goroutines waiting for submitted tasks.
	watchers sync.WaitGroup

	mu      sync.Mutex
	writers map[string]*Writer
	closed  bool
}

// New creates a Storage uploading through `up`.
//
// On success the Storage owns `up`; it is closed by Close.
func New(ctx context.Context, up upload.Uploader, uploadOpts *upload.Options, opts *Options) (*Storage, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.PreemptivePersistBytes < 0 && o.PreemptivePersistBytes != upload.Unbounded {
		return nil, errors.Reason("PreemptivePersistBytes must be positive or Unbounded: %d", o.PreemptivePersistBytes).Err()
	}
	sched, err := upload.New(ctx, up, uploadOpts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		ctx:     ctx,
		sched:   sched,
		opts:    o,
		writers: map[string]*Writer{},
	}, nil
}

// Scheduler returns the scheduler shared by all writers.
func (s *Storage) Scheduler() *upload.Scheduler { return s.sched }

// NewWriter returns a Writer for `id`, which must be unique within the
// Storage.
func (s *Storage) NewWriter(id string) (*Writer, error) {
	if id == "" {
		return nil, errors.New("writer ID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, upload.ErrClosed
	}
	if _, ok := s.writers[id]; ok {
		return nil, errors.Reason("writer %q already exists", id).Err()
	}
	w := &Writer{id: id, s: s}
	s.writers[id] = w
	return w, nil
}

func (s *Storage) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writers, id)
}

// Close closes the scheduler, failing or draining outstanding uploads
// according to upload.Options.DrainOnClose, and waits until every writer
// has observed the outcome of its uploads.
func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.sched.Close()
	s.watchers.Wait()
	return err
}
