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

package sqlar

import (
	"bytes"
	"io"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Info describes an archive entry. The mode holds unix st_mode bits like
// the sqlite3 archive tool writes them.
type Info struct {
	name  string
	sz    int64
	mode  int64
	mtime time.Time
}

func (i *Info) Name() string       { return i.name }
func (i *Info) Size() int64        { return i.sz }
func (i *Info) ModTime() time.Time { return i.mtime }
func (i *Info) IsDir() bool        { return i.mode&0170000 == modeDir }
func (i *Info) Sys() interface{}   { return nil }

func (i *Info) Mode() os.FileMode {
	mode := os.FileMode(i.mode & modePerm)
	if i.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

// file is an open archive entry. Reads are served from the decompressed
// content, writes are buffered and stored on Close.
type file struct {
	fs       *FS
	path     string
	info     *Info
	children []os.FileInfo
	offset   int

	reader *bytes.Reader
	buf    *bytes.Buffer
	closed bool
}

func newReader(fs *FS, name string, info *Info, content []byte) *file {
	return &file{fs: fs, path: name, info: info, reader: bytes.NewReader(content)}
}

func newWriter(fs *FS, name string) *file {
	return &file{fs: fs, path: name, buf: &bytes.Buffer{}}
}

func (f *file) Name() string { return path.Base(f.path) }

func (f *file) Stat() (os.FileInfo, error) {
	if f.info == nil {
		return f.fs.Stat(f.path)
	}
	return f.info, nil
}

func (f *file) Read(p []byte) (int, error) {
	if f.reader == nil {
		return 0, f.pathError("read", ErrNotImplemented)
	}
	return f.reader.Read(p)
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if f.reader == nil {
		return 0, f.pathError("read", ErrNotImplemented)
	}
	return f.reader.ReadAt(p, off)
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if f.reader == nil {
		return 0, f.pathError("seek", ErrNotImplemented)
	}
	return f.reader.Seek(offset, whence)
}

func (f *file) Readdir(count int) ([]os.FileInfo, error) {
	if f.info == nil || !f.info.IsDir() {
		return nil, f.pathError("readdir", errors.New("not a directory"))
	}
	rest := f.children[f.offset:]
	if count <= 0 {
		f.offset = len(f.children)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if count < len(rest) {
		rest = rest[:count]
	}
	f.offset += len(rest)
	return rest, nil
}

func (f *file) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, err
}

func (f *file) Write(p []byte) (int, error) {
	if f.buf == nil || f.closed {
		return 0, f.pathError("write", os.ErrClosed)
	}
	return f.buf.Write(p)
}

func (f *file) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *file) WriteAt([]byte, int64) (int, error) {
	return 0, f.pathError("write", ErrNotImplemented)
}

func (f *file) Truncate(size int64) error {
	if f.buf == nil || size > int64(f.buf.Len()) {
		return f.pathError("truncate", ErrNotImplemented)
	}
	f.buf.Truncate(int(size))
	return nil
}

func (f *file) Sync() error { return nil }

// Close stores written content. Content that does not shrink by
// compression is stored as is.
func (f *file) Close() error {
	if f.buf == nil || f.closed {
		return nil
	}
	f.closed = true

	size := int64(f.buf.Len())
	data, err := encode(f.buf.Bytes())
	if err != nil {
		return err
	}

	stmt, err := f.fs.conn.Prepare(`UPDATE sqlar SET sz = $sz, mtime = $mtime, data = $data WHERE name = $name`)
	if err != nil {
		return err
	}
	stmt.SetText("$name", f.path)
	stmt.SetInt64("$sz", size)
	stmt.SetInt64("$mtime", time.Now().Unix())
	stmt.SetZeroBlob("$data", int64(len(data)))
	if err := exec(stmt); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	stmt, err = f.fs.conn.Prepare(`SELECT rowid FROM sqlar WHERE name = $name`)
	if err != nil {
		return err
	}
	stmt.SetText("$name", f.path)
	if _, err := stmt.Step(); err != nil {
		return err
	}
	rowid := stmt.GetInt64("rowid")
	if err := stmt.Finalize(); err != nil {
		return err
	}

	blob, err := f.fs.conn.OpenBlob("", "sqlar", "data", rowid, true)
	if err != nil {
		return err
	}
	if _, err := blob.Write(data); err != nil {
		blob.Close() // nolint:errcheck
		return err
	}
	return blob.Close()
}

func (f *file) pathError(op string, err error) error {
	return &os.PathError{Op: op, Path: f.path, Err: err}
}

func encode(content []byte) ([]byte, error) {
	compressed := &bytes.Buffer{}
	w := zlib.NewWriter(compressed)
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if compressed.Len() >= len(content) {
		return content, nil
	}
	return compressed.Bytes(), nil
}

func decode(blob io.Reader, blobSize, size int64) ([]byte, error) {
	if blobSize == size {
		return io.ReadAll(blob)
	}
	r, err := zlib.NewReader(blob)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sqlar content")
	}
	defer r.Close()
	content := make([]byte, size)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, errors.Wrap(err, "invalid sqlar content")
	}
	return content, nil
}
