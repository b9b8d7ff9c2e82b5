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
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/forensicanalysis/evidence/spooled"
)

// TarArchive gives access to the members of a tar archive. Compressed
// archives (gzip, bzip2, xz, zstd) are decompressed into a spool first.
type TarArchive struct {
	virtualPartition
	path  string
	file  afero.File
	spool *spooled.TemporaryFile
}

// OpenTar opens and indexes the tar archive at name.
func OpenTar(name string, opts ...Option) (*TarArchive, error) {
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

	t := &TarArchive{path: name, file: f}

	header := make([]byte, 8)
	n, err := f.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		t.Close()
		return nil, accessError(err, name)
	}
	var content io.ReaderAt = f
	size := info.Size()

	dr, err := decompressor(header[:n], f)
	if err != nil {
		t.Close()
		return nil, containerError(err, "%s", name)
	}
	if dr != nil {
		t.spool, _ = spooled.New(o.config.SpoolMemoryLimit, o.config.TempDir)
		_, err = io.Copy(t.spool, dr)
		dr.Close()
		if err != nil {
			t.Close()
			return nil, containerError(err, "%s: decompress", name)
		}
		content, size = t.spool, t.spool.Size()
	}

	files, err := indexTar(content, size, o.config.IncludeHidden)
	if err != nil {
		t.Close()
		return nil, containerError(err, "%s", name)
	}
	t.virtualPartition = virtualPartition{label: "Tar Archive", files: files, listed: true}
	return t, nil
}

// indexTar lists the regular members of the tar stream in r. Member content
// is read directly from r at the recorded data offsets.
func indexTar(r io.ReaderAt, size int64, includeHidden bool) ([]*File, error) {
	log := sub("tar")
	sr := io.NewSectionReader(r, 0, size)
	tr := tar.NewReader(sr)

	var files []*File
	index := map[string]int{}
	var inode uint64
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(header.Name, "/") || !header.FileInfo().Mode().IsRegular() {
			continue
		}
		if header.Typeflag == tar.TypeGNUSparse || len(header.PAXRecords["GNU.sparse.map"]) > 0 {
			log.Warn("skipping sparse member", "name", header.Name)
			continue
		}
		if !includeHidden && hidden(header.Name) {
			continue
		}

		offset, err := sr.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}

		inode++
		file := NewFile(path.Clean("/"+header.Name), inode, header.Size, 0, io.NewSectionReader(r, offset, header.Size))
		file.Timestamps.Modified = timePtr(header.ModTime)

		// later members replace earlier ones with the same name
		if i, ok := index[file.FullPath]; ok {
			files[i] = file
			continue
		}
		index[file.FullPath] = len(files)
		files = append(files, file)
	}
	return files, nil
}

func (t *TarArchive) Kind() Kind   { return KindTar }
func (t *TarArchive) Path() string { return t.path }

func (t *TarArchive) FileSystemHandles() (map[int64]interface{}, error) {
	return map[int64]interface{}{0: t}, nil
}

func (t *TarArchive) Close() error {
	t.release()
	var err error
	if t.spool != nil {
		err = t.spool.Close()
		t.spool = nil
	}
	if t.file != nil {
		if cerr := t.file.Close(); err == nil {
			err = cerr
		}
		t.file = nil
	}
	return err
}
