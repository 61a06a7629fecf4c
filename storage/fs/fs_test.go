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

package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/changelog/storage"
)

func TestStore(t *testing.T) {
	t.Parallel()

	ftt.Run(`fs.Store`, t, func(t *ftt.Test) {
		ctx := context.Background()
		root := filepath.Join(t.TempDir(), "root")
		s, err := New(root)
		assert.NoErr(t, err)
		defer s.Close()

		t.Run(`artifacts appear on Close`, func(t *ftt.Test) {
			w, err := s.Create(ctx, "a/b.clog")
			assert.NoErr(t, err)
			_, err = w.Write([]byte("hello"))
			assert.NoErr(t, err)

			_, err = os.Stat(filepath.Join(root, "a", "b.clog"))
			assert.Loosely(t, os.IsNotExist(err), should.BeTrue)

			assert.NoErr(t, w.Close())
			data, err := os.ReadFile(filepath.Join(root, "a", "b.clog"))
			assert.NoErr(t, err)
			assert.Loosely(t, string(data), should.Equal("hello"))

			entries, err := os.ReadDir(filepath.Join(root, "a"))
			assert.NoErr(t, err)
			assert.Loosely(t, entries, should.HaveLength(1))

			t.Run(`and can be deleted`, func(t *ftt.Test) {
				assert.NoErr(t, s.Delete(ctx, "a/b.clog"))
				_, err = os.Stat(filepath.Join(root, "a", "b.clog"))
				assert.Loosely(t, os.IsNotExist(err), should.BeTrue)

				// Deleting a missing artifact is fine.
				assert.NoErr(t, s.Delete(ctx, "a/b.clog"))
			})
		})

		t.Run(`Abort leaves nothing behind`, func(t *ftt.Test) {
			w, err := s.Create(ctx, "a/c.clog")
			assert.NoErr(t, err)
			_, err = w.Write([]byte("partial"))
			assert.NoErr(t, err)

			assert.NoErr(t, w.(storage.Aborter).Abort())
			entries, err := os.ReadDir(filepath.Join(root, "a"))
			assert.NoErr(t, err)
			assert.Loosely(t, entries, should.BeEmpty)
		})

		t.Run(`locks the root`, func(t *ftt.Test) {
			_, err := New(root)
			assert.Loosely(t, err, should.ErrLike("already in use"))

			assert.NoErr(t, s.Close())
			again, err := New(root)
			assert.NoErr(t, err)
			assert.NoErr(t, again.Close())
		})

		t.Run(`rejects bad names`, func(t *ftt.Test) {
			_, err := s.Create(ctx, "../escape")
			assert.Loosely(t, err, should.ErrLike("escapes the store"))
			assert.Loosely(t, s.Delete(ctx, "/abs"), should.ErrLike("absolute"))
		})
	})
}
