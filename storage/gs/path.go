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
	"strings"
)

const scheme = "gs://"

// Path is a Google Storage path. A full path consists of a Google Storage
// bucket and a series of path components.
//
// An example of a Path is:
//
//	gs://bucket/path/to/object
type Path string

// MakePath constructs a Google Storage path from optional bucket and filename
// components.
//
// A Path without a bucket is a relative path.
func MakePath(bucket, filename string) Path {
	bucket = strings.TrimSuffix(bucket, "/")
	switch {
	case bucket == "":
		return Path(filename)
	case filename == "":
		return Path(scheme + bucket)
	default:
		return Path(scheme + bucket + "/" + filename)
	}
}

// Split returns the bucket and filename components of the Path.
//
// If the Path is relative, bucket is empty.
func (p Path) Split() (bucket, filename string) {
	rest, ok := strings.CutPrefix(string(p), scheme)
	if !ok {
		return "", string(p)
	}
	bucket, filename, _ = strings.Cut(rest, "/")
	return
}

// Bucket returns the bucket component of the Path.
func (p Path) Bucket() string {
	bucket, _ := p.Split()
	return bucket
}

// Filename returns the filename component of the Path.
func (p Path) Filename() string {
	_, filename := p.Split()
	return filename
}

// Concat concatenates a filename component to the end of Path.
//
// Trailing slashes are removed from every component; empty components are
// skipped.
func (p Path) Concat(v string, parts ...string) Path {
	comps := make([]string, 0, 2+len(parts))
	comps = append(comps, strings.TrimRight(string(p), "/"))
	for _, c := range append([]string{v}, parts...) {
		if c = strings.TrimRight(c, "/"); c != "" {
			comps = append(comps, c)
		}
	}
	return Path(strings.Join(comps, "/"))
}
