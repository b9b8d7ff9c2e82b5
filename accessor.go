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
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/evidence/walker"
)

// Kind is the container kind handled by an Accessor.
type Kind int

// Container kinds, in dispatch priority.
const (
	KindUnknown Kind = iota
	KindIOSBackup
	KindDirectory
	KindTar
	KindZip
	KindEWF
	KindAndroidBackup
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindIOSBackup:
		return "ios-backup"
	case KindDirectory:
		return "directory"
	case KindTar:
		return "tar"
	case KindZip:
		return "zip"
	case KindEWF:
		return "ewf"
	case KindAndroidBackup:
		return "android-backup"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Accessor gives access to the files and partitions of one evidence source.
// Files are enumerated on the first call of Files and memoized.
type Accessor interface {
	Kind() Kind
	Path() string
	Files() ([]*File, error)
	Partitions() ([]*Partition, error)
	// FileSystemHandles maps partition start sectors to the handles files
	// are read through. Block devices return walker.FileSystem values,
	// virtual partition sources return themselves at sector 0.
	FileSystemHandles() (map[int64]interface{}, error)
	MediaSize() (int64, error)
	Close() error
}

// Option configures an Accessor created by Open.
type Option func(*options)

type options struct {
	fs        afero.Fs
	config    Config
	walker    walker.Walker
	decryptor IOSDecryptor
}

func newOptions(opts []Option) *options {
	o := &options{fs: afero.NewOsFs(), walker: walker.Default()}
	for _, opt := range opts {
		opt(o)
	}
	o.config = o.config.WithDefaults()
	return o
}

// WithFs sets the filesystem evidence is read from. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(o *options) { o.config = config }
}

// WithWalker sets the filesystem walker used by block devices.
func WithWalker(w walker.Walker) Option {
	return func(o *options) { o.walker = w }
}

// WithIOSDecryptor sets the per-file decryptor for encrypted iOS backups.
func WithIOSDecryptor(d IOSDecryptor) Option {
	return func(o *options) { o.decryptor = d }
}

// virtualPartition implements the listing part of Accessor for sources that
// expose a single synthetic partition.
type virtualPartition struct {
	label     string
	files     []*File
	enumerate func() ([]*File, error)
	listed    bool
}

func (v *virtualPartition) Files() ([]*File, error) {
	if v.listed {
		return v.files, nil
	}
	files, err := v.enumerate()
	if err != nil {
		return nil, err
	}
	v.files = files
	v.listed = true
	return files, nil
}

func (v *virtualPartition) Partitions() ([]*Partition, error) {
	files, err := v.Files()
	if err != nil {
		return nil, err
	}
	p := NewPartition(0, 0, v.label, true)
	p.Files = files
	return []*Partition{p}, nil
}

func (v *virtualPartition) MediaSize() (int64, error) {
	files, err := v.Files()
	if err != nil {
		return 0, err
	}
	return lo.SumBy(files, func(f *File) int64 { return f.Size }), nil
}

func (v *virtualPartition) release() {
	for _, f := range v.files {
		f.ClearCache()
	}
}
