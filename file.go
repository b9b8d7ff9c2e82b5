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
	"crypto/sha1" // #nosec
	"encoding/hex"
	"io"
	"time"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/stoewer/go-strcase"
)

const hashChunkSize = 1024

// Timestamps of a file. Unknown values are nil. Archive and backup sources
// populate at most Modified.
type Timestamps struct {
	Created  *time.Time
	Modified *time.Time
	Accessed *time.Time
}

// loader is implemented by content sources that can only produce the whole
// file at once, e.g. per-file decrypted backup entries.
type loader interface {
	load() ([]byte, error)
}

// readState is the mutable part of a File. It is only changed by the read
// methods of File.
type readState struct {
	cached []byte
	cursor int64
}

// File is one logical file inside an evidence source. FullPath and Inode
// identify the file and never change after enumeration.
type File struct {
	FullPath        string
	Inode           uint64
	Size            int64
	PartitionSector int64
	Timestamps      Timestamps
	// SHA1 is the hex encoded SHA-1 digest, empty if not populated.
	SHA1 string
	// Signature holds the first bytes of the file, nil if not populated.
	Signature []byte

	src   io.ReaderAt
	state readState
}

// NewFile creates a file entity whose content is read from src. If src also
// implements io.Closer, it is closed by ClearCache.
func NewFile(fullPath string, inode uint64, size int64, partitionSector int64, src io.ReaderAt) *File {
	return &File{
		FullPath:        fullPath,
		Inode:           inode,
		Size:            size,
		PartitionSector: partitionSector,
		src:             src,
	}
}

// Key returns the identity key of the file.
func (f *File) Key() FileKey {
	return FileKey{Inode: f.Inode, FullPath: f.FullPath}
}

// FileKey is the identity of a file within one evidence source.
type FileKey struct {
	Inode    uint64
	FullPath string
}

// Cursor returns the number of bytes consumed by Read.
func (f *File) Cursor() int64 {
	return f.state.cursor
}

// Reset rewinds the sequential read cursor.
func (f *File) Reset() {
	f.state.cursor = 0
}

// ClearCache drops cached content and releases open content handles.
func (f *File) ClearCache() {
	f.state.cached = nil
	if closer, ok := f.src.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			sub("file").Debug("could not release content handle", "path", f.FullPath, "error", err)
		}
	}
}

// ReadAll returns the whole content of the file. The content is cached, so
// following calls do not touch the backing storage.
func (f *File) ReadAll() ([]byte, error) {
	if f.Size == 0 {
		return []byte{}, nil
	}
	if f.state.cached != nil {
		return f.state.cached, nil
	}

	data, err := f.fetch()
	if err != nil {
		return nil, err
	}
	f.state.cached = data
	return data, nil
}

func (f *File) fetch() ([]byte, error) {
	if f.src == nil {
		return nil, errors.Errorf("%s: no content source", f.FullPath)
	}
	if l, ok := f.src.(loader); ok {
		data, err := l.load()
		if err != nil {
			return nil, errors.Wrap(err, f.FullPath)
		}
		if int64(len(data)) < f.Size {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "%s: loaded %d of %d bytes", f.FullPath, len(data), f.Size)
		}
		return data[:f.Size], nil
	}

	data := make([]byte, f.Size)
	n, err := f.src.ReadAt(data, 0)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == f.Size) {
		return nil, errors.Wrap(err, f.FullPath)
	}
	return data, nil
}

// Read returns up to n bytes starting at the read cursor and advances the
// cursor. It returns an empty slice once the cursor reached the file size.
func (f *File) Read(n int) ([]byte, error) {
	if f.Size == 0 || f.state.cursor >= f.Size || n <= 0 {
		return []byte{}, nil
	}

	want := int64(n)
	if remaining := f.Size - f.state.cursor; want > remaining {
		want = remaining
	}

	var data []byte
	if _, wholeOnly := f.src.(loader); wholeOnly || f.state.cached != nil {
		content, err := f.ReadAll()
		if err != nil {
			return nil, err
		}
		end := f.state.cursor + want
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		data = content[f.state.cursor:end]
	} else {
		if f.src == nil {
			return nil, errors.Errorf("%s: no content source", f.FullPath)
		}
		buf := make([]byte, want)
		read, err := f.src.ReadAt(buf, f.state.cursor)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, f.FullPath)
		}
		data = buf[:read]
	}

	if len(data) == 0 {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, f.FullPath)
	}
	f.state.cursor += int64(len(data))
	return data, nil
}

// PopulateSignature stores the first n bytes of the file as signature. The
// read cursor is not moved. Empty files keep no signature.
func (f *File) PopulateSignature(n int) error {
	if f.Size == 0 || n <= 0 {
		return nil
	}
	if int64(n) > f.Size {
		n = int(f.Size)
	}

	content := f.state.cached
	if _, wholeOnly := f.src.(loader); wholeOnly && content == nil {
		var err error
		if content, err = f.ReadAll(); err != nil {
			return err
		}
	}
	if content != nil {
		if len(content) < n {
			return errors.Wrap(io.ErrUnexpectedEOF, f.FullPath)
		}
		f.Signature = append([]byte{}, content[:n]...)
		return nil
	}
	if f.src == nil {
		return errors.Errorf("%s: no content source", f.FullPath)
	}

	buf := make([]byte, n)
	read, err := f.src.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && read == n) {
		return errors.Wrap(err, f.FullPath)
	}
	f.Signature = buf
	return nil
}

// PopulateHashAndSignature sets the signature and, if the file is not larger
// than sizeLimit, the SHA-1 digest. The digest is computed from sequential
// chunks, so large files are never held in memory.
func (f *File) PopulateHashAndSignature(signatureSize int, sizeLimit int64) error {
	if err := f.PopulateSignature(signatureSize); err != nil {
		return err
	}
	if f.Size > sizeLimit {
		return nil
	}

	h := sha1.New() // #nosec
	f.Reset()
	for {
		chunk, err := f.Read(hashChunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}
		h.Write(chunk) // nolint:errcheck
	}
	f.SHA1 = hex.EncodeToString(h.Sum(nil))
	return nil
}

type fileView struct {
	FullPath        string
	Inode           uint64
	Size            int64
	PartitionSector int64
	SHA1            string `structs:"sha1,omitempty"`
	Signature       string `structs:"signature,omitempty"`
	CrTime          *int64 `structs:"cr_time,omitempty"`
	MTime           *int64 `structs:"m_time,omitempty"`
	ATime           *int64 `structs:"a_time,omitempty"`
}

// Map returns the file attributes as a map with snake case keys.
func (f *File) Map() map[string]interface{} {
	view := fileView{
		FullPath:        f.FullPath,
		Inode:           f.Inode,
		Size:            f.Size,
		PartitionSector: f.PartitionSector,
		SHA1:            f.SHA1,
		Signature:       hex.EncodeToString(f.Signature),
		CrTime:          unix(f.Timestamps.Created),
		MTime:           unix(f.Timestamps.Modified),
		ATime:           unix(f.Timestamps.Accessed),
	}

	m := map[string]interface{}{}
	for k, v := range structs.Map(view) {
		m[strcase.SnakeCase(k)] = v
	}
	return m
}

func unix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
