// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package ewf reads Expert Witness Format (EWF-E01) images. The segment
// files of a split image are combined into a single logical byte stream.
package ewf

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Signature is the EVF file header signature.
var Signature = []byte{'E', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}

const (
	fileHeaderLength  = 13
	sectionLength     = 76
	tableHeaderLength = 24
	maxSections       = 1 << 16
	maxChunkSize      = 64 << 20
	compressedFlag    = 0x80000000
)

// ErrFormat is returned for invalid segment files.
var ErrFormat = errors.New("invalid ewf format")

type section struct {
	Type        string
	Offset      int64
	NextOffset  int64
	SectionSize int64
}

type chunk struct {
	segment    int
	start      int64
	end        int64
	compressed bool
}

// Image is an opened EWF image.
type Image struct {
	segments  []afero.File
	chunks    []chunk
	chunkSize int64
	size      int64

	cachedIndex int
	cached      []byte
}

// Open resolves all segments of the image at path and indexes their chunks.
func Open(fs afero.Fs, path string) (*Image, error) {
	paths, err := Segments(fs, path)
	if err != nil {
		return nil, err
	}

	img := &Image{cachedIndex: -1}
	for _, p := range paths {
		f, err := fs.Open(p)
		if err != nil {
			img.Close()
			return nil, err
		}
		img.segments = append(img.segments, f)
	}

	for i, seg := range img.segments {
		if err := img.index(i, seg); err != nil {
			img.Close()
			return nil, errors.Wrap(err, paths[i])
		}
	}

	if img.chunkSize == 0 {
		img.Close()
		return nil, errors.Wrap(ErrFormat, "missing volume section")
	}
	if img.size == 0 {
		img.size = int64(len(img.chunks)) * img.chunkSize
	}
	return img, nil
}

func readSection(r io.ReaderAt, offset int64) (*section, error) {
	buffer := make([]byte, sectionLength)
	if _, err := r.ReadAt(buffer, offset); err != nil {
		return nil, err
	}
	return &section{
		Type:        strings.TrimRight(string(buffer[:16]), "\x00"),
		Offset:      offset,
		NextOffset:  int64(binary.LittleEndian.Uint64(buffer[16:])),
		SectionSize: int64(binary.LittleEndian.Uint64(buffer[24:])),
	}, nil
}

func (img *Image) index(segment int, r io.ReaderAt) error {
	var sectorsEnd int64
	offset := int64(fileHeaderLength)
	for i := 0; i < maxSections; i++ {
		s, err := readSection(r, offset)
		if err != nil {
			return err
		}

		switch s.Type {
		case "volume", "disk":
			if err := img.readVolume(r, s.Offset+sectionLength); err != nil {
				return err
			}
		case "sectors":
			sectorsEnd = s.Offset + s.SectionSize
		case "table":
			if err := img.readTable(segment, r, s, sectorsEnd); err != nil {
				return err
			}
		case "next", "done":
			return nil
		}

		if s.NextOffset <= offset {
			return nil
		}
		offset = s.NextOffset
	}
	return errors.Wrap(ErrFormat, "too many sections")
}

func (img *Image) readVolume(r io.ReaderAt, offset int64) error {
	buffer := make([]byte, 24)
	if _, err := r.ReadAt(buffer, offset); err != nil {
		return err
	}
	sectorsPerChunk := int64(binary.LittleEndian.Uint32(buffer[8:]))
	bytesPerSector := int64(binary.LittleEndian.Uint32(buffer[12:]))
	sectorCount := int64(binary.LittleEndian.Uint64(buffer[16:]))

	img.chunkSize = sectorsPerChunk * bytesPerSector
	if img.chunkSize <= 0 || img.chunkSize > maxChunkSize {
		return errors.Wrapf(ErrFormat, "invalid chunk size %d", img.chunkSize)
	}
	img.size = sectorCount * bytesPerSector
	return nil
}

func (img *Image) readTable(segment int, r io.ReaderAt, s *section, sectorsEnd int64) error {
	header := make([]byte, tableHeaderLength)
	if _, err := r.ReadAt(header, s.Offset+sectionLength); err != nil {
		return err
	}
	count := int64(binary.LittleEndian.Uint32(header[0:]))
	base := int64(binary.LittleEndian.Uint64(header[8:]))
	if count*4 > s.SectionSize {
		return errors.Wrapf(ErrFormat, "table with %d entries exceeds section", count)
	}

	entries := make([]byte, count*4)
	if _, err := r.ReadAt(entries, s.Offset+sectionLength+tableHeaderLength); err != nil {
		return err
	}

	end := sectorsEnd
	if end <= 0 {
		end = s.Offset
	}
	var chunks []chunk
	for i := int64(0); i < count; i++ {
		entry := binary.LittleEndian.Uint32(entries[i*4:])
		chunks = append(chunks, chunk{
			segment:    segment,
			start:      base + int64(entry&^compressedFlag),
			compressed: entry&compressedFlag != 0,
		})
	}
	for i := range chunks {
		if i+1 < len(chunks) {
			chunks[i].end = chunks[i+1].start
		} else {
			chunks[i].end = end
		}
	}
	img.chunks = append(img.chunks, chunks...)
	return nil
}

// Size returns the size of the logical media in bytes.
func (img *Image) Size() int64 {
	return img.size
}

// ChunkSize returns the number of bytes per chunk.
func (img *Image) ChunkSize() int64 {
	return img.chunkSize
}

func (img *Image) readChunk(index int) ([]byte, error) {
	if index == img.cachedIndex {
		return img.cached, nil
	}
	if index >= len(img.chunks) {
		return nil, io.EOF
	}
	c := img.chunks[index]
	seg := img.segments[c.segment]

	want := img.chunkSize
	if remaining := img.size - int64(index)*img.chunkSize; remaining < want {
		want = remaining
	}
	data := make([]byte, want)

	if c.compressed {
		zr, err := zlib.NewReader(io.NewSectionReader(seg, c.start, c.end-c.start))
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", index, err)
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, data); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", index, err)
		}
	} else {
		if n, err := seg.ReadAt(data, c.start); n < len(data) {
			return nil, fmt.Errorf("chunk %d: %w", index, err)
		}
	}

	img.cachedIndex, img.cached = index, data
	return data, nil
}

// ReadAt implements io.ReaderAt on the logical media.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= img.size {
			return n, io.EOF
		}
		index := pos / img.chunkSize
		data, err := img.readChunk(int(index))
		if err != nil {
			return n, err
		}
		n += copy(p[n:], data[pos-index*img.chunkSize:])
	}
	return n, nil
}

// Close closes all segment files.
func (img *Image) Close() error {
	var firstErr error
	for _, seg := range img.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	img.segments = nil
	img.cached = nil
	return firstErr
}
