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
	"archive/zip"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// ZipArchive gives access to the members of a zip archive.
type ZipArchive struct {
	virtualPartition
	path   string
	file   afero.File
	reader *zip.Reader
}

// OpenZip opens and indexes the zip archive at name.
func OpenZip(name string, opts ...Option) (*ZipArchive, error) {
	o := newOptions(opts)

	f, err := o.fs.Open(name)
	if err != nil {
		return nil, accessError(err, name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, accessError(err, name)
	}

	reader, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, containerError(err, "%s", name)
	}

	z := &ZipArchive{path: name, file: f, reader: reader}
	z.virtualPartition = virtualPartition{
		label:  "Zip Archive",
		files:  indexZip(reader, o.config.IncludeHidden),
		listed: true,
	}
	return z, nil
}

func indexZip(reader *zip.Reader, includeHidden bool) []*File {
	var files []*File
	index := map[string]int{}
	var inode uint64
	for _, member := range reader.File {
		if strings.HasSuffix(member.Name, "/") || !member.Mode().IsRegular() {
			continue
		}
		if !includeHidden && hidden(member.Name) {
			continue
		}

		member := member
		inode++
		src := &sequentialReaderAt{open: func() (io.ReadCloser, error) { return member.Open() }}
		file := NewFile(path.Clean("/"+member.Name), inode, int64(member.UncompressedSize64), 0, src)
		file.Timestamps.Modified = timePtr(member.Modified)

		if i, ok := index[file.FullPath]; ok {
			files[i] = file
			continue
		}
		index[file.FullPath] = len(files)
		files = append(files, file)
	}
	return files
}

func (z *ZipArchive) Kind() Kind   { return KindZip }
func (z *ZipArchive) Path() string { return z.path }

func (z *ZipArchive) FileSystemHandles() (map[int64]interface{}, error) {
	return map[int64]interface{}{0: z}, nil
}

func (z *ZipArchive) Close() error {
	z.release()
	if z.file == nil {
		return nil
	}
	err := z.file.Close()
	z.file = nil
	return err
}
