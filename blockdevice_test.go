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

package evidence

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/evidence/walker"
)

type memFS struct {
	dirs         map[uint64][]walker.Entry
	data         map[uint64][]byte
	readDirCalls map[uint64]int
}

func (m *memFS) Type() string      { return "memfs" }
func (m *memFS) RootInode() uint64 { return 2 }

func (m *memFS) ReadDir(inode uint64) ([]walker.Entry, error) {
	m.readDirCalls[inode]++
	entries, ok := m.dirs[inode]
	if !ok {
		return nil, errors.New("no such directory")
	}
	return entries, nil
}

func (m *memFS) ReadFile(inode uint64, p []byte, off int64) (int, error) {
	return bytes.NewReader(m.data[inode]).ReadAt(p, off)
}

var created = time.Date(2019, 1, 2, 3, 4, 5, 0, time.UTC)

// newMemFS builds a tree that contains entries pointing back to the root
// and to the directory itself.
func newMemFS() *memFS {
	return &memFS{
		dirs: map[uint64][]walker.Entry{
			2: {
				{Name: ".", Type: walker.TypeDirectory, Inode: 2},
				{Name: "..", Type: walker.TypeDirectory, Inode: 2},
				{Name: "Windows", Type: walker.TypeDirectory, Inode: 10},
				{Name: "a.txt", Type: walker.TypeRegular, Inode: 20, Size: 5, Created: created},
				{Name: "link", Type: walker.TypeSymlink, Inode: 30},
				{Name: orphanFiles, Type: walker.TypeDirectory, Inode: 40},
				{Name: "loop", Type: walker.TypeDirectory, Inode: 2},
			},
			10: {
				{Name: "b.txt", Type: walker.TypeRegular, Inode: 21, Size: 3},
				{Name: "up", Type: walker.TypeDirectory, Inode: 2},
				{Name: "self", Type: walker.TypeDirectory, Inode: 10},
				{Name: "broken", Type: walker.TypeDirectory, Inode: 50},
			},
			40: {
				{Name: "orphan.txt", Type: walker.TypeRegular, Inode: 41, Size: 1},
			},
		},
		data: map[uint64][]byte{
			20: []byte("hello"),
			21: []byte("abc"),
			41: []byte("x"),
		},
		readDirCalls: map[uint64]int{},
	}
}

type fakeWalker struct {
	fsAt  map[int64]walker.FileSystem
	slots []walker.Slot
}

func (w *fakeWalker) Open(_ io.ReaderAt, offset int64) (walker.FileSystem, error) {
	if fs, ok := w.fsAt[offset]; ok {
		return fs, nil
	}
	return nil, walker.ErrNoFileSystem
}

func (w *fakeWalker) Partitions(_ io.ReaderAt, _ int64, _ int64) ([]walker.Slot, error) {
	if w.slots == nil {
		return nil, walker.ErrNoPartitionTable
	}
	return w.slots, nil
}

func openRawFixture(t *testing.T, w walker.Walker) *RawImage {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/disk.dd", make([]byte, 8192*512), 0644))
	acc, err := OpenRaw("/disk.dd", WithFs(fs), WithWalker(w))
	require.NoError(t, err)
	return acc
}

func TestBlockDevice_SingleVolume(t *testing.T) {
	fs := newMemFS()
	acc := openRawFixture(t, &fakeWalker{fsAt: map[int64]walker.FileSystem{0: fs}})
	defer acc.Close()

	files, err := acc.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"/P_0/a.txt", "/P_0/Windows/b.txt"}, paths(files))
	assert.Equal(t, map[uint64]int{2: 1, 10: 1, 50: 1}, fs.readDirCalls)

	assert.Equal(t, uint64(20), files[0].Inode)
	assert.True(t, created.Equal(*files[0].Timestamps.Created))
	assert.Nil(t, files[0].Timestamps.Modified)

	data, err := files[1].ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	partitions, err := acc.Partitions()
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	assert.True(t, partitions[0].Equal(NewPartition(0, 8191, "memfs", true)))
	assert.Len(t, partitions[0].Files, 2)

	size, err := acc.MediaSize()
	require.NoError(t, err)
	assert.Equal(t, int64(8192*512), size)
	assert.Equal(t, KindRaw, acc.Kind())
}

func TestBlockDevice_Partitioned(t *testing.T) {
	fs := newMemFS()
	w := &fakeWalker{
		fsAt: map[int64]walker.FileSystem{2048 * 512: fs},
		slots: []walker.Slot{
			{Start: 0, Length: 1, Description: "Primary Table (#0)", Flag: walker.SlotMeta},
			{Start: 1, Length: 2047, Description: "Unallocated", Flag: walker.SlotUnallocated},
			{Start: 2048, Length: 2048, Description: "NTFS / exFAT (0x07)", Flag: walker.SlotAllocated},
			{Start: 4096, Length: 2048, Description: "Linux (0x83)", Flag: walker.SlotAllocated},
		},
	}
	acc := openRawFixture(t, w)
	defer acc.Close()

	files, err := acc.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"/P_2048/a.txt", "/P_2048/Windows/b.txt"}, paths(files))
	for _, f := range files {
		assert.Equal(t, int64(2048), f.PartitionSector)
	}

	partitions, err := acc.Partitions()
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	assert.True(t, partitions[0].Equal(NewPartition(2048, 4095, "NTFS / exFAT (0x07)", true)))
	assert.Equal(t, int64(2048), partitions[0].Length)

	handles, err := acc.FileSystemHandles()
	require.NoError(t, err)
	assert.Equal(t, map[int64]interface{}{2048: fs}, handles)
}

func TestBlockDevice_NoFileSystem(t *testing.T) {
	tests := []struct {
		name   string
		walker *fakeWalker
	}{
		{"no partition table", &fakeWalker{}},
		{"no allocated partition", &fakeWalker{slots: []walker.Slot{{Start: 0, Length: 1, Flag: walker.SlotMeta}}}},
		{"only partition fails", &fakeWalker{slots: []walker.Slot{{Start: 2048, Length: 10, Flag: walker.SlotAllocated}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := openRawFixture(t, tt.walker)
			defer acc.Close()
			_, err := acc.Files()
			assert.True(t, errors.Is(err, ErrFilesystemUnavailable), err)
		})
	}
}
