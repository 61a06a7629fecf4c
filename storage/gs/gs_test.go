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

package gs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/retry/transient"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/changelog/storage"
)

func TestStore(t *testing.T) {
	t.Parallel()

	ftt.Run(`gs.Store`, t, func(t *ftt.Test) {
		ctx := gologger.StdConfig.Use(context.Background())

		var mu sync.Mutex
		var deleted []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				http.Error(w, "unexpected", http.StatusBadRequest)
				return
			}
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()

			code := http.StatusNoContent
			switch {
			case strings.Contains(r.URL.Path, "missing"):
				code = http.StatusNotFound
			case strings.Contains(r.URL.Path, "forbidden"):
				code = http.StatusForbidden
			}
			if code == http.StatusNoContent {
				w.WriteHeader(code)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"error": {"code": %d, "message": "%s"}}`, code, http.StatusText(code))
		}))
		defer srv.Close()

		s, err := New(ctx, "gs://bucket/log",
			option.WithEndpoint(srv.URL+"/storage/v1/"),
			option.WithoutAuthentication())
		assert.NoErr(t, err)
		defer s.Close()

		t.Run(`Delete`, func(t *ftt.Test) {
			assert.NoErr(t, s.Delete(ctx, "a.clog"))
			assert.Loosely(t, deleted, should.HaveLength(1))
			assert.Loosely(t, deleted[0], should.ContainSubstring("/b/bucket/o/log"))
		})

		t.Run(`Delete of a missing object succeeds`, func(t *ftt.Test) {
			assert.NoErr(t, s.Delete(ctx, "missing.clog"))
		})

		t.Run(`permanent errors are not retried`, func(t *ftt.Test) {
			err := s.Delete(ctx, "forbidden.clog")
			assert.Loosely(t, err, should.NotBeNil)
			assert.Loosely(t, transient.Tag.In(err), should.BeFalse)
			assert.Loosely(t, deleted, should.HaveLength(1))
		})

		t.Run(`Abort discards the upload`, func(t *ftt.Test) {
			w, err := s.Create(ctx, "partial.clog")
			assert.NoErr(t, err)
			assert.NoErr(t, w.(storage.Aborter).Abort())
			assert.Loosely(t, deleted, should.BeEmpty)
		})

		t.Run(`bad names`, func(t *ftt.Test) {
			_, err := s.Create(ctx, "../x")
			assert.Loosely(t, err, should.ErrLike("escapes the store"))
			assert.Loosely(t, deleted, should.BeEmpty)
		})
	})

	ftt.Run(`New requires a bucket`, t, func(t *ftt.Test) {
		_, err := New(context.Background(), "relative/path")
		assert.Loosely(t, err, should.ErrLike("does not name a bucket"))
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	ftt.Run(`classify`, t, func(t *ftt.Test) {
		assert.Loosely(t, classify(nil), should.BeNil)

		for code, isTransient := range map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusServiceUnavailable:  true,
			http.StatusForbidden:           false,
			http.StatusPreconditionFailed:  false,
		} {
			err := classify(&googleapi.Error{Code: code})
			assert.Loosely(t, transient.Tag.In(err), should.Equal(isTransient))
		}

		assert.Loosely(t, transient.Tag.In(classify(errors.New("connection reset"))), should.BeTrue)
		assert.Loosely(t, transient.Tag.In(classify(context.Canceled)), should.BeFalse)
	})
}
