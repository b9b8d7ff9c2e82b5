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

package ewf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChunk struct {
	data       []byte
	compressed bool
}

func descriptor(typ string, next, size int64) []byte {
	b := make([]byte, sectionLength)
	copy(b, typ)
	binary.LittleEndian.PutUint64(b[16:], uint64(next))
	binary.LittleEndian.PutUint64(b[24:], uint64(size))
	return b
}

func buildSegment(t *testing.T, number uint16, sectorCount uint64, chunks []testChunk) []byte {
	buf := &bytes.Buffer{}
	buf.Write(Signature)
	buf.WriteByte(1)
	binary.Write(buf, binary.LittleEndian, number)   // nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint16(0)) // nolint:errcheck

	if number == 1 {
		volume := make([]byte, 94)
		binary.LittleEndian.PutUint32(volume[4:], uint32(sectorCount))
		binary.LittleEndian.PutUint32(volume[8:], 1)
		binary.LittleEndian.PutUint32(volume[12:], 512)
		binary.LittleEndian.PutUint64(volume[16:], sectorCount)
		size := int64(sectionLength + len(volume))
		buf.Write(descriptor("volume", int64(buf.Len())+size, size))
		buf.Write(volume)
	}

	sectorsStart := int64(buf.Len())
	var data bytes.Buffer
	var offsets []uint32
	for _, c := range chunks {
		offset := uint32(sectorsStart + sectionLength + int64(data.Len()))
		if c.compressed {
			zw := zlib.NewWriter(&data)
			_, err := zw.Write(c.data)
			require.NoError(t, err)
			require.NoError(t, zw.Close())
			offset |= compressedFlag
		} else {
			data.Write(c.data)
			data.Write(make([]byte, 4))
		}
		offsets = append(offsets, offset)
	}
	size := int64(sectionLength + data.Len())
	buf.Write(descriptor("sectors", sectorsStart+size, size))
	buf.Write(data.Bytes())

	tableStart := int64(buf.Len())
	table := make([]byte, tableHeaderLength)
	binary.LittleEndian.PutUint32(table, uint32(len(offsets)))
	for _, o := range offsets {
		table = binary.LittleEndian.AppendUint32(table, o)
	}
	table = append(table, 0, 0, 0, 0)
	size = int64(sectionLength + len(table))
	buf.Write(descriptor("table", tableStart+size, size))
	buf.Write(table)

	doneStart := int64(buf.Len())
	buf.Write(descriptor("done", doneStart, sectionLength))
	return buf.Bytes()
}

func splitImage(t *testing.T) (afero.Fs, []byte) {
	first := bytes.Repeat([]byte("A"), 512)
	second := bytes.Repeat([]byte("0123456789abcdef"), 32)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/img/disk.E01", buildSegment(t, 1, 2, []testChunk{{first, true}}), 0644))
	require.NoError(t, afero.WriteFile(fs, "/img/disk.E02", buildSegment(t, 2, 2, []testChunk{{second, false}}), 0644))
	require.NoError(t, afero.WriteFile(fs, "/img/disk.txt", []byte("notes"), 0644))
	return fs, append(first, second...)
}

func TestSegments(t *testing.T) {
	fs, _ := splitImage(t)

	segments, err := Segments(fs, "/img/disk.E01")
	require.NoError(t, err)
	assert.Equal(t, []string{"/img/disk.E01", "/img/disk.E02"}, segments)

	require.NoError(t, fs.Remove("/img/disk.E01"))
	_, err = Segments(fs, "/img/disk.E02")
	assert.True(t, errors.Is(err, ErrFormat))
}

func TestImage_ReadAt(t *testing.T) {
	fs, want := splitImage(t)

	img, err := Open(fs, "/img/disk.E01")
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, int64(1024), img.Size())
	assert.Equal(t, int64(512), img.ChunkSize())

	tests := []struct {
		name   string
		offset int64
		length int
	}{
		{"compressed chunk", 0, 16},
		{"across segments", 500, 24},
		{"uncompressed chunk", 600, 100},
		{"whole media", 0, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]byte, tt.length)
			n, err := img.ReadAt(p, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.length, n)
			assert.Equal(t, want[tt.offset:tt.offset+int64(tt.length)], p)
		})
	}

	p := make([]byte, 10)
	n, err := img.ReadAt(p, 1020)
	assert.Equal(t, 4, n)
	assert.Equal(t, io.EOF, err)
}

func TestOpenInvalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/disk.E01", []byte("EVF"), 0644))
	_, err := Open(fs, "/disk.E01")
	assert.Error(t, err)
}
