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
	"context"

	"google.golang.org/api/option"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/storage"
	"go.chromium.org/changelog/storage/badger"
	"go.chromium.org/changelog/storage/fs"
	"go.chromium.org/changelog/storage/gs"
	"go.chromium.org/changelog/storage/memory"
	"go.chromium.org/changelog/storage/redis"
	"go.chromium.org/changelog/uploader"
)

// OpenStore opens the configured backing store.
//
// `gsOpts` are passed to the Cloud Storage client.
func (c *Config) OpenStore(ctx context.Context, gsOpts ...option.ClientOption) (storage.Store, error) {
	switch s := c.Storage; s.Kind {
	case StorageFS:
		return fs.New(s.Path)
	case StorageGS:
		return gs.New(ctx, gs.Path(s.Path), gsOpts...)
	case StorageBadger:
		return badger.Open(ctx, s.Path)
	case StorageRedis:
		return redis.New(s.Path, ""), nil
	case StorageMemory:
		return &memory.Store{}, nil
	default:
		return nil, errors.Reason("unknown storage.kind %q", s.Kind).Err()
	}
}

// NewUploader wraps `store` into an Uploader configured by c.
func (c *Config) NewUploader(store storage.Store) *uploader.Uploader {
	return &uploader.Uploader{
		Store:      store,
		Prefix:     c.Storage.Prefix,
		BufferSize: int(c.Storage.BufferSize),
		Compress:   c.Storage.Compress,
	}
}
