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
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// fsReaderAt reads a file of an afero.Fs. The file is opened on first use
// and kept open until Close.
type fsReaderAt struct {
	fs   afero.Fs
	name string
	file afero.File
}

func (r *fsReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.file == nil {
		f, err := r.fs.Open(r.name)
		if err != nil {
			return 0, err
		}
		r.file = f
	}
	return r.file.ReadAt(p, off)
}

func (r *fsReaderAt) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// sequentialReaderAt serves ReadAt from a stream that can only be read
// forward. Reading before the current position reopens the stream.
type sequentialReaderAt struct {
	open func() (io.ReadCloser, error)
	rc   io.ReadCloser
	pos  int64
}

func (s *sequentialReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if s.rc == nil || off < s.pos {
		if err := s.Close(); err != nil {
			return 0, err
		}
		rc, err := s.open()
		if err != nil {
			return 0, err
		}
		s.rc = rc
	}

	if off > s.pos {
		skipped, err := io.CopyN(io.Discard, s.rc, off-s.pos)
		s.pos += skipped
		if err != nil {
			return 0, err
		}
	}

	n, err := io.ReadFull(s.rc, p)
	s.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *sequentialReaderAt) Close() error {
	s.pos = 0
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}

// hidden reports whether any element of a slash separated path starts
// with a dot.
func hidden(name string) bool {
	for _, element := range strings.Split(strings.Trim(path.Clean("/"+name), "/"), "/") {
		if strings.HasPrefix(element, ".") {
			return true
		}
	}
	return false
}
