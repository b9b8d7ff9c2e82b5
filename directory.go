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
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Directory gives access to the files below a directory.
type Directory struct {
	virtualPartition
	fs     afero.Fs
	root   string
	config Config
}

// OpenDirectory opens the directory at root.
func OpenDirectory(root string, opts ...Option) (*Directory, error) {
	o := newOptions(opts)
	info, err := o.fs.Stat(root)
	if err != nil {
		return nil, accessError(err, root)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrContainerFormat, "%s is not a directory", root)
	}

	d := &Directory{fs: o.fs, root: filepath.Clean(root), config: o.config}
	d.virtualPartition = virtualPartition{label: "Directory", enumerate: d.walk}
	return d, nil
}

func (d *Directory) walk() ([]*File, error) {
	log := sub("directory")
	var files []*File
	var inode uint64

	err := afero.Walk(d.fs, d.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == d.root {
				return accessError(err, p)
			}
			log.Warn("skipping unreadable entry", "path", p, "error", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == d.root {
			return nil
		}
		if !d.config.IncludeHidden && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		inode++
		file := NewFile("/"+filepath.ToSlash(rel), inode, info.Size(), 0, &fsReaderAt{fs: d.fs, name: p})
		// creation and access times are not reliable after extraction
		file.Timestamps.Modified = timePtr(info.ModTime())
		files = append(files, file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug("listed directory", "root", d.root, "files", len(files))
	return files, nil
}

func (d *Directory) Kind() Kind   { return KindDirectory }
func (d *Directory) Path() string { return d.root }

func (d *Directory) FileSystemHandles() (map[int64]interface{}, error) {
	return map[int64]interface{}{0: d}, nil
}

func (d *Directory) Close() error {
	d.release()
	return nil
}
