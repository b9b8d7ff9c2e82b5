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
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	name string
	data string
	dir  bool
}

var fixtureTime = time.Date(2020, 4, 1, 12, 0, 0, 0, time.UTC)

func fixtureEntries() []testEntry {
	return []testEntry{
		{name: "a.txt", data: "hello"},
		{name: "sub/", dir: true},
		{name: "sub/b.txt", data: ""},
		{name: ".hidden", data: "secret"},
	}
}

func buildTar(t *testing.T, entries []testEntry) []byte {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		header := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.data)), ModTime: fixtureTime, Typeflag: tar.TypeReg}
		if e.dir {
			header.Typeflag = tar.TypeDir
			header.Mode = 0755
			header.Size = 0
		}
		require.NoError(t, tw.WriteHeader(header))
		if !e.dir {
			_, err := tw.Write([]byte(e.data))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func buildZip(t *testing.T, entries []testEntry) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		header := &zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: fixtureTime}
		w, err := zw.CreateHeader(header)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.data))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeDirectory(t *testing.T, fs afero.Fs, root string, entries []testEntry) {
	for _, e := range entries {
		if e.dir {
			require.NoError(t, fs.MkdirAll(root+"/"+e.name, 0755))
			continue
		}
		require.NoError(t, afero.WriteFile(fs, root+"/"+e.name, []byte(e.data), 0644))
	}
}

func paths(files []*File) []string {
	var p []string
	for _, f := range files {
		p = append(p, f.FullPath)
	}
	return p
}

// countingReaderAt counts the calls to the backing storage.
type countingReaderAt struct {
	r     io.ReaderAt
	calls int
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	c.calls++
	return c.r.ReadAt(p, off)
}

type countingLoader struct {
	data  []byte
	calls int
}

func (c *countingLoader) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(c.data).ReadAt(p, off)
}

func (c *countingLoader) load() ([]byte, error) {
	c.calls++
	return c.data, nil
}
