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

// Package format implements the layout of change log artifacts.
//
// An artifact begins with a HeaderSize byte header: the "CLOG" magic followed
// by a flags byte. It is followed by one frame per change set. Each frame
// begins with a big-endian uint32 containing the size of the frame body,
// followed by that many bytes:
//
//	uint16 len(writerID) | writerID | uint64 from | uint64 to | payload
//
// With FlagZstd the whole frame body is zstd-compressed.
//
// The offset of a change set within an artifact is the position of its frame
// size prefix. The frame protocol does not handle data integrity; that is left
// to the backing store.
package format
