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

// Package storage defines the durable stores change log artifacts are
// written to.
//
// Implementations live in subpackages: fs (local directory), gs (Google
// Cloud Storage), badger (embedded key-value store), redis and memory
// (tests).
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// Store writes named, immutable artifacts.
//
// Implementations must be goroutine-safe.
type Store interface {
	io.Closer

	// Create starts writing the artifact `name`.
	//
	// The artifact becomes durable only when Close of the returned writer
	// succeeds. A failed write or Close leaves no artifact behind, or a partial
	// one which Delete removes.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Delete removes the artifact `name`. Deleting an artifact which does not
	// exist is not an error.
	Delete(ctx context.Context, name string) error
}

// Aborter is implemented by artifact writers which can discard an unfinished
// artifact so that it never becomes visible.
//
// After a successful Abort the artifact does not exist and the writer must
// not be used. If Abort fails the caller deletes the artifact instead.
type Aborter interface {
	Abort() error
}

// ValidateName checks that `name` is a relative, slash-separated artifact
// name which stays within its store.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("artifact name is empty")
	case strings.HasPrefix(name, "/"):
		return errors.Reason("artifact name %q is absolute", name).Err()
	case strings.HasSuffix(name, "/"):
		return errors.Reason("artifact name %q ends with a slash", name).Err()
	case path.Clean(name) != name:
		return errors.Reason("artifact name %q is not clean", name).Err()
	case name == ".." || strings.HasPrefix(name, "../"):
		return errors.Reason("artifact name %q escapes the store", name).Err()
	}
	return nil
}
