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

// Package fs implements storage.Store on top of a local directory.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/danjacques/gofslock/fslock"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/changelog/storage"
)

// Store writes artifacts as files under Root.
//
// An artifact is written to a temporary file which is renamed into place
// once it is complete and synced.
type Store struct {
	Root string

	lock fslock.Handle
}

// LockFile is the name of the lock file New holds in the root directory.
const LockFile = ".lock"

var _ storage.Store = (*Store)(nil)

// New creates the root directory if necessary and returns a Store for it.
//
// The Store holds an exclusive lock on the directory until it is closed, so
// that two processes never write to the same log.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Annotate(err, "creating %q", root).Err()
	}
	h, err := fslock.Lock(filepath.Join(root, LockFile))
	switch {
	case err == fslock.ErrLockHeld:
		return nil, errors.Reason("%q is already in use", root).Err()
	case err != nil:
		return nil, errors.Annotate(err, "locking %q", root).Err()
	}
	return &Store{Root: root, lock: h}, nil
}

func (s *Store) path(name string) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(name)), nil
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	dst, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, errors.Annotate(err, "creating parent of %q", dst).Err()
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return nil, errors.Annotate(err, "creating temporary file for %q", name).Err()
	}
	return &file{ctx: ctx, File: f, dst: dst}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	dst, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "deleting %q", name).Err()
	}
	return nil
}

// Close implements storage.Store. It releases the directory lock.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	h := s.lock
	s.lock = nil
	return h.Unlock()
}

// file is an artifact being written.
type file struct {
	*os.File

	ctx context.Context
	dst string
}

// Abort implements storage.Aborter. The temporary file is removed and the
// artifact never appears.
func (f *file) Abort() error {
	tmp := f.File.Name()
	f.File.Close()
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "removing %q", tmp).Err()
	}
	return nil
}

// Close syncs the temporary file and renames it into place. On failure the
// temporary file is removed.
func (f *file) Close() (err error) {
	tmp := f.File.Name()
	defer func() {
		if err != nil {
			if rerr := os.Remove(tmp); rerr != nil && !os.IsNotExist(rerr) {
				logging.WithError(rerr).Warningf(f.ctx, "Failed to remove temporary file %q.", tmp)
			}
		}
	}()

	if err = f.File.Sync(); err != nil {
		f.File.Close()
		return errors.Annotate(err, "syncing %q", tmp).Err()
	}
	if err = f.File.Close(); err != nil {
		return errors.Annotate(err, "closing %q", tmp).Err()
	}
	if err = os.Rename(tmp, f.dst); err != nil {
		return errors.Annotate(err, "renaming %q", tmp).Err()
	}
	return nil
}
