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

// Package export copies evidence files out of an accessor into a directory
// or a SQLite archive.
package export

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/evidence"
	"github.com/forensicanalysis/evidence/sqlar"
)

const chunkSize = 1 << 16

// Select returns the files below one of folders or with one of the exact
// paths. Folders match case-insensitively and may omit the partition
// prefix of block-device paths. Without folders and paths all files are
// returned.
func Select(files []*evidence.File, folders, paths []string) ([]*evidence.File, error) {
	if len(folders) == 0 && len(paths) == 0 {
		return files, nil
	}

	var patterns []*regexp.Regexp
	for _, folder := range folders {
		folder = strings.Trim(filepath.ToSlash(folder), "/")
		pattern, err := regexp.Compile(`(?i)^/?(P_\d+/)?/?` + regexp.QuoteMeta(folder) + `(/.*)?$`)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid folder %s", folder)
		}
		patterns = append(patterns, pattern)
	}

	return lo.Filter(files, func(f *evidence.File, _ int) bool {
		if lo.Contains(paths, f.FullPath) {
			return true
		}
		return lo.SomeBy(patterns, func(p *regexp.Regexp) bool { return p.MatchString(f.FullPath) })
	}), nil
}

// Result lists the exported files by evidence path.
type Result struct {
	Exported map[string]string
	Skipped  []string
}

// Exporter writes evidence files into a destination filesystem.
type Exporter struct {
	dest afero.Fs
	mode Mode
}

// New creates an exporter writing to dest.
func New(dest afero.Fs, mode Mode) *Exporter {
	return &Exporter{dest: dest, mode: mode}
}

// Export writes all files. Files that cannot be read are logged and
// skipped.
func (e *Exporter) Export(files []*evidence.File) (*Result, error) {
	log := evidence.Logger().With("component", "export")
	result := &Result{Exported: map[string]string{}}

	for _, f := range files {
		dest, err := e.exportFile(f)
		if err != nil {
			if errors.Is(err, errDestination) {
				return result, err
			}
			log.Warn("could not export file", "path", f.FullPath, "error", err)
			result.Skipped = append(result.Skipped, f.FullPath)
			continue
		}
		log.Debug("exported file", "path", f.FullPath, "destination", dest)
		result.Exported[f.FullPath] = dest
	}
	return result, nil
}

var errDestination = errors.New("destination error")

func (e *Exporter) exportFile(f *evidence.File) (string, error) {
	dest, err := e.freePath("/" + DestinationPath(f.FullPath, e.mode))
	if err != nil {
		return "", errors.Wrap(errDestination, err.Error())
	}
	if err := e.dest.MkdirAll(path.Dir(dest), 0755); err != nil {
		return "", errors.Wrap(errDestination, err.Error())
	}

	out, err := e.dest.Create(dest)
	if err != nil {
		return "", errors.Wrap(errDestination, err.Error())
	}
	f.Reset()
	err = copyFile(out, f)
	f.Reset()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		e.dest.Remove(dest) // nolint:errcheck
		return "", err
	}

	if m := f.Timestamps.Modified; m != nil {
		if err := e.dest.Chtimes(dest, *m, *m); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func copyFile(w io.Writer, f *evidence.File) error {
	for {
		chunk, err := f.Read(chunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
}

// freePath appends _0, _1, ... to the file name until it does not exist.
func (e *Exporter) freePath(p string) (string, error) {
	ext := path.Ext(p)
	base := p[:len(p)-len(ext)]

	candidate := p
	for i := 0; ; i++ {
		exists, err := afero.Exists(e.dest, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

// OpenDestination opens the export target. Targets ending in .sqlar are
// SQLite archives, everything else is a directory that is created if
// needed.
func OpenDestination(target string) (afero.Fs, io.Closer, error) {
	if strings.EqualFold(filepath.Ext(target), ".sqlar") {
		fs, err := sqlar.New(target)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, nil, err
	}
	return afero.NewBasePathFs(afero.NewOsFs(), target), io.NopCloser(nil), nil
}
