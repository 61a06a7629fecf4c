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

// Package memory implements an in-memory storage.Store with fault injection.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/storage"
)

// Op identifies a Store operation for fault injection.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpCommit Op = "commit"
	OpDelete Op = "delete"
	OpAbort  Op = "abort"
)

// Store keeps artifacts in memory.
//
// Unlike durable stores, a failed commit leaves the partial artifact
// visible until it is deleted, so tests can observe cleanup.
type Store struct {
	// Fail, if set, is consulted before every operation. A non-nil return
	// fails the operation.
	Fail func(op Op, name string) error

	mu      sync.Mutex
	objects map[string][]byte
	deletes int
	aborts  int
	closed  bool
}

var _ storage.Store = (*Store)(nil)

func (s *Store) fail(op Op, name string) error {
	if s.Fail != nil {
		return s.Fail(op, name)
	}
	return nil
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.fail(OpCreate, name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store is closed")
	}
	if _, ok := s.objects[name]; ok {
		return nil, errors.Reason("artifact %q already exists", name).Err()
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[name] = nil
	return &object{s: s, name: name}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.fail(OpDelete, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	s.deletes++
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns a copy of the artifact and whether it exists.
func (s *Store) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	return bytes.Clone(data), ok
}

// Names returns the names of all artifacts, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deletes returns the number of Delete calls which succeeded.
func (s *Store) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// Aborts returns the number of Abort calls which succeeded.
func (s *Store) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

type object struct {
	s    *Store
	name string
	buf  bytes.Buffer
}

func (o *object) Write(p []byte) (int, error) {
	if err := o.s.fail(OpWrite, o.name); err != nil {
		return 0, err
	}
	n, _ := o.buf.Write(p)

	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.objects[o.name]; ok {
		o.s.objects[o.name] = bytes.Clone(o.buf.Bytes())
	}
	return n, nil
}

func (o *object) Close() error {
	return o.s.fail(OpCommit, o.name)
}

// Abort implements storage.Aborter by removing the partial artifact.
func (o *object) Abort() error {
	if err := o.s.fail(OpAbort, o.name); err != nil {
		return err
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	delete(o.s.objects, o.name)
	o.s.aborts++
	return nil
}
