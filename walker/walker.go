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

// Package walker defines the filesystem walker capability consumed by block
// device accessors and lists partition table slots of disk images.
//
// Filesystem parsers (NTFS, FAT, ext, ...) are not part of this module. They
// plug in via Register and are probed at the start of every allocated
// partition.
package walker

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNoFileSystem signals that no known filesystem exists at an offset.
var ErrNoFileSystem = errors.New("no recognized filesystem")

// ErrNoPartitionTable signals that the media has no known partition table.
var ErrNoPartitionTable = errors.New("no recognized partition table")

// EntryType is the type of a directory entry.
type EntryType int

const (
	TypeUnknown EntryType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeOther
)

// Entry is one directory entry. Zero times are unknown.
type Entry struct {
	Name     string
	Type     EntryType
	Size     int64
	Inode    uint64
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// FileSystem is an opened filesystem.
type FileSystem interface {
	Type() string
	RootInode() uint64
	ReadDir(inode uint64) ([]Entry, error)
	ReadFile(inode uint64, p []byte, off int64) (int, error)
}

// SlotFlag classifies a partition table slot.
type SlotFlag int

const (
	SlotAllocated SlotFlag = iota
	SlotUnallocated
	SlotMeta
)

// Slot is one region of a partition table in sectors.
type Slot struct {
	Start       int64
	Length      int64
	Description string
	Flag        SlotFlag
}

// Walker opens filesystems and lists partition tables.
type Walker interface {
	// Open returns the filesystem at byte offset or ErrNoFileSystem.
	Open(r io.ReaderAt, offset int64) (FileSystem, error)
	// Partitions lists the slots of the partition table of a media with the
	// given size in bytes.
	Partitions(r io.ReaderAt, size int64, sectorSize int64) ([]Slot, error)
}

// ProbeFunc returns a filesystem at offset or ErrNoFileSystem.
type ProbeFunc func(r io.ReaderAt, offset int64) (FileSystem, error)

var (
	probesMu sync.RWMutex
	probes   = map[string]ProbeFunc{}
)

// Register adds a filesystem probe. Probes are tried in name order.
func Register(name string, probe ProbeFunc) {
	probesMu.Lock()
	defer probesMu.Unlock()
	probes[name] = probe
}

// Default returns a walker using the registered probes and the built-in
// MBR and GPT partition table parsers.
func Default() Walker {
	return &registryWalker{}
}

type registryWalker struct{}

func (w *registryWalker) Open(r io.ReaderAt, offset int64) (FileSystem, error) {
	probesMu.RLock()
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)
	funcs := make([]ProbeFunc, 0, len(names))
	for _, name := range names {
		funcs = append(funcs, probes[name])
	}
	probesMu.RUnlock()

	for _, probe := range funcs {
		fs, err := probe(r, offset)
		if err == nil {
			return fs, nil
		}
		if !errors.Is(err, ErrNoFileSystem) {
			return nil, err
		}
	}
	return nil, ErrNoFileSystem
}

func (w *registryWalker) Partitions(r io.ReaderAt, size int64, sectorSize int64) ([]Slot, error) {
	return ReadPartitionTable(r, size, sectorSize)
}
