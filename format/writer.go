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
	"math"

	"github.com/klauspost/compress/zstd"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/upload"
)

// Magic starts every artifact.
const Magic = "CLOG"

// HeaderSize is the size of the artifact header in bytes.
const HeaderSize = len(Magic) + 1

// Flags describe how the frames of an artifact are encoded.
type Flags byte

const (
	// FlagZstd marks artifacts whose frame bodies are zstd-compressed.
	FlagZstd Flags = 1 << iota
)

const (
	sizePrefixLen = 4
	writerIDLen   = 2
	rangeLen      = 16
)

// MaxFrameSize is the largest frame body a reader accepts.
const MaxFrameSize = 256 * 1024 * 1024

// FrameOverhead returns the number of bytes an uncompressed frame adds on
// top of the payload of a change set written by writerID.
func FrameOverhead(writerID string) int64 {
	return int64(sizePrefixLen + writerIDLen + len(writerID) + rangeLen)
}

// Writer writes change sets to an artifact.
//
// Writer is not goroutine-safe.
type Writer struct {
	w     io.Writer
	flags Flags
	enc   *zstd.Encoder

	// offset is the number of bytes written so far.
	offset int64
	// body is reused between frames.
	body []byte
}

// NewWriter writes the artifact header to w and returns a Writer for its
// frames.
func NewWriter(w io.Writer, flags Flags) (*Writer, error) {
	fw := &Writer{w: w, flags: flags}
	if flags&FlagZstd != 0 {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, errors.Annotate(err, "creating zstd encoder").Err()
		}
		fw.enc = enc
	}

	hdr := make([]byte, 0, HeaderSize)
	hdr = append(hdr, Magic...)
	hdr = append(hdr, byte(flags))
	if err := fw.write(hdr); err != nil {
		fw.Close()
		return nil, errors.Annotate(err, "writing header").Err()
	}
	return fw, nil
}

// Offset returns the number of bytes written so far, which is also the
// offset of the next frame.
func (w *Writer) Offset() int64 { return w.offset }

// WriteChangeSet writes one frame and returns its offset.
func (w *Writer) WriteChangeSet(cs *upload.ChangeSet) (offset int64, err error) {
	if len(cs.WriterID) > math.MaxUint16 {
		return 0, errors.Reason("writer ID of %d bytes is too long", len(cs.WriterID)).Err()
	}

	body := w.body[:0]
	body = binary.BigEndian.AppendUint16(body, uint16(len(cs.WriterID)))
	body = append(body, cs.WriterID...)
	body = binary.BigEndian.AppendUint64(body, uint64(cs.From))
	body = binary.BigEndian.AppendUint64(body, uint64(cs.To))
	body = append(body, cs.Payload...)
	w.body = body

	if w.enc != nil {
		body = w.enc.EncodeAll(body, nil)
	}
	if len(body) > MaxFrameSize {
		return 0, errors.Reason("frame for %s is too large: %d bytes", cs, len(body)).Err()
	}

	offset = w.offset
	var prefix [sizePrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if err := w.write(prefix[:]); err != nil {
		return 0, err
	}
	if err := w.write(body); err != nil {
		return 0, err
	}
	return offset, nil
}

// Close releases the encoder. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.enc != nil {
		err := w.enc.Close()
		w.enc = nil
		return err
	}
	return nil
}

func (w *Writer) write(buf []byte) error {
	n, err := w.w.Write(buf)
	w.offset += int64(n)
	return err
}
