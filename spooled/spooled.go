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

// Package spooled provides a temporary file that is held in memory until it
// grows beyond a threshold and is then moved to disk.
package spooled

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

type TemporaryFile struct {
	size       int64
	maxSize    int64
	dir        string
	buffer     *bytes.Buffer
	tempFile   *os.File
	rolledOver bool
}

// New creates a TemporaryFile that rolls over to a file in dir after
// maxSize bytes. An empty dir uses the default temporary directory.
func New(maxSize int64, dir string) (*TemporaryFile, func() error) {
	t := &TemporaryFile{buffer: &bytes.Buffer{}, maxSize: maxSize, dir: dir}
	return t, t.Close
}

func (t *TemporaryFile) Write(p []byte) (n int, err error) {
	if t.rolledOver {
		n, err = t.tempFile.Write(p)
		t.size += int64(n)
		return n, err
	}

	if t.size+int64(len(p)) > t.maxSize {
		err := t.Rollover()
		if err != nil {
			return 0, err
		}
		n, err = t.tempFile.Write(p)
		t.size += int64(n)
		return n, err
	}

	t.size += int64(len(p))
	return t.buffer.Write(p)
}

// ReadAt reads from the spooled content at off.
func (t *TemporaryFile) ReadAt(p []byte, off int64) (n int, err error) {
	if t.rolledOver {
		return t.tempFile.ReadAt(p, off)
	}
	return bytes.NewReader(t.buffer.Bytes()).ReadAt(p, off)
}

func (t *TemporaryFile) Rollover() (err error) {
	if t.rolledOver {
		return nil
	}
	t.tempFile, err = os.CreateTemp(t.dir, "evidence-spool-")
	if err != nil {
		return fmt.Errorf("could not create tmp file: %w", err)
	}
	t.rolledOver = true
	_, err = io.Copy(t.tempFile, t.buffer)
	if err != nil {
		return fmt.Errorf("could not fill tmp file: %w", err)
	}
	t.buffer = &bytes.Buffer{}
	return nil
}

// RolledOver reports whether the content was moved to disk.
func (t *TemporaryFile) RolledOver() bool {
	return t.rolledOver
}

func (t *TemporaryFile) Close() error {
	if t.rolledOver {
		err := t.tempFile.Close()
		if err != nil {
			return err
		}
		t.rolledOver = false
		return os.Remove(t.tempFile.Name())
	}
	t.buffer.Reset()
	return nil
}

func (t *TemporaryFile) Size() int64 {
	return t.size
}
