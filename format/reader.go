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

package format

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/upload"
)

// ReadHeader reads and validates the artifact header.
func ReadHeader(r io.ReaderAt) (Flags, error) {
	var hdr [HeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return 0, errors.Annotate(err, "reading header").Err()
	}
	if string(hdr[:len(Magic)]) != Magic {
		return 0, errors.Reason("bad magic %q", hdr[:len(Magic)]).Err()
	}
	flags := Flags(hdr[len(Magic)])
	if flags&^FlagZstd != 0 {
		return 0, errors.Reason("unknown flags %#x", byte(flags)).Err()
	}
	return flags, nil
}

// ReadFrame decodes the change set whose frame starts at `offset`.
func ReadFrame(r io.ReaderAt, offset int64) (*upload.ChangeSet, error) {
	flags, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if offset < int64(HeaderSize) {
		return nil, errors.Reason("offset %d points into the header", offset).Err()
	}

	var prefix [sizePrefixLen]byte
	if _, err := r.ReadAt(prefix[:], offset); err != nil {
		return nil, errors.Annotate(err, "reading frame size at %d", offset).Err()
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, errors.Reason("frame at %d is too large: %d bytes", offset, size).Err()
	}

	body := make([]byte, size)
	if _, err := r.ReadAt(body, offset+sizePrefixLen); err != nil {
		return nil, errors.Annotate(err, "reading frame at %d", offset).Err()
	}

	if flags&FlagZstd != 0 {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Annotate(err, "creating zstd decoder").Err()
		}
		defer dec.Close()
		if body, err = dec.DecodeAll(body, nil); err != nil {
			return nil, errors.Annotate(err, "decompressing frame at %d", offset).Err()
		}
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (*upload.ChangeSet, error) {
	if len(body) < writerIDLen {
		return nil, errors.New("truncated frame")
	}
	idLen := int(binary.BigEndian.Uint16(body))
	body = body[writerIDLen:]
	if len(body) < idLen+rangeLen {
		return nil, errors.New("truncated frame")
	}

	cs := &upload.ChangeSet{WriterID: string(body[:idLen])}
	body = body[idLen:]
	cs.From = upload.SequenceNumber(binary.BigEndian.Uint64(body))
	cs.To = upload.SequenceNumber(binary.BigEndian.Uint64(body[8:]))
	cs.Payload = body[rangeLen:]
	return cs, nil
}
