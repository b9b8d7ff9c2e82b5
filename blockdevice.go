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
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/forensicanalysis/evidence/walker"
)

const orphanFiles = "$OrphanFiles"

// blockDevice implements the listing part of Accessor for disk images.
// Filesystems are interpreted by a walker.Walker.
type blockDevice struct {
	path       string
	media      io.ReaderAt
	size       int64
	sectorSize int64
	walker     walker.Walker

	opened     bool
	handles    map[int64]walker.FileSystem
	partitions []*Partition
	files      []*File
	listed     bool
}

func newBlockDevice(path string, media io.ReaderAt, size int64, o *options) blockDevice {
	return blockDevice{
		path:       path,
		media:      media,
		size:       size,
		sectorSize: o.config.SectorSize,
		walker:     o.walker,
	}
}

// open finds the filesystems of the device, either a single filesystem at
// offset 0 or one per allocated partition.
func (d *blockDevice) open() error {
	if d.opened {
		return nil
	}
	log := sub("blockdevice")
	d.handles = map[int64]walker.FileSystem{}

	fs, err := d.walker.Open(d.media, 0)
	if err == nil {
		d.handles[0] = fs
		d.partitions = []*Partition{NewPartition(0, d.size/d.sectorSize-1, fs.Type(), true)}
		d.opened = true
		return nil
	}
	if !errors.Is(err, walker.ErrNoFileSystem) {
		log.Debug("probing offset 0 failed", "path", d.path, "error", err)
	}

	slots, err := d.walker.Partitions(d.media, d.size, d.sectorSize)
	if err != nil {
		return errors.Wrapf(ErrFilesystemUnavailable, "%s: no filesystem at offset 0 and no partition table: %s", d.path, err)
	}
	allocated := lo.Filter(slots, func(s walker.Slot, _ int) bool { return s.Flag == walker.SlotAllocated })
	if len(allocated) == 0 {
		return errors.Wrapf(ErrFilesystemUnavailable, "%s: no allocated partition", d.path)
	}

	for _, slot := range allocated {
		fs, err := d.walker.Open(d.media, slot.Start*d.sectorSize)
		if err != nil {
			if len(allocated) == 1 {
				return errors.Wrapf(ErrFilesystemUnavailable, "%s: partition at sector %d: %s", d.path, slot.Start, err)
			}
			log.Warn("skipping partition", "path", d.path, "sector", slot.Start, "description", slot.Description, "error", err)
			continue
		}
		d.handles[slot.Start] = fs
		d.partitions = append(d.partitions, NewPartition(slot.Start, slot.Start+slot.Length-1, slot.Description, true))
	}
	d.opened = true
	return nil
}

func (d *blockDevice) Files() ([]*File, error) {
	if d.listed {
		return d.files, nil
	}
	if err := d.open(); err != nil {
		return nil, err
	}

	sectors := make([]int64, 0, len(d.handles))
	for sector := range d.handles {
		sectors = append(sectors, sector)
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })

	var files []*File
	for _, sector := range sectors {
		files = append(files, walkFileSystem(d.handles[sector], sector)...)
	}
	for _, p := range d.partitions {
		p := p
		p.Files = lo.Filter(files, func(f *File, _ int) bool { return f.PartitionSector == p.StartSector })
	}

	d.files = files
	d.listed = true
	return files, nil
}

// walkFileSystem lists the regular files of fs. Directories are visited
// at most once per walk, so cyclic directory entries terminate.
func walkFileSystem(fs walker.FileSystem, sector int64) []*File {
	log := sub("blockdevice")

	type pending struct {
		inode uint64
		path  string
	}
	stack := []pending{{inode: fs.RootInode(), path: fmt.Sprintf("/P_%d", sector)}}
	visited := map[uint64]bool{}

	var files []*File
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[dir.inode] {
			continue
		}
		visited[dir.inode] = true

		entries, err := fs.ReadDir(dir.inode)
		if err != nil {
			log.Warn("skipping unreadable directory", "path", dir.path, "error", err)
			continue
		}

		var subdirs []pending
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." || entry.Name == orphanFiles || entry.Name == "" {
				continue
			}
			entryPath := dir.path + "/" + entry.Name

			switch entry.Type {
			case walker.TypeDirectory:
				if !visited[entry.Inode] {
					subdirs = append(subdirs, pending{inode: entry.Inode, path: entryPath})
				}
			case walker.TypeRegular:
				file := NewFile(entryPath, entry.Inode, entry.Size, sector, &inodeReader{fs: fs, inode: entry.Inode})
				file.Timestamps = Timestamps{
					Created:  timePtr(entry.Created),
					Modified: timePtr(entry.Modified),
					Accessed: timePtr(entry.Accessed),
				}
				files = append(files, file)
			}
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return files
}

type inodeReader struct {
	fs    walker.FileSystem
	inode uint64
}

func (r *inodeReader) ReadAt(p []byte, off int64) (int, error) {
	return r.fs.ReadFile(r.inode, p, off)
}

func (d *blockDevice) Partitions() ([]*Partition, error) {
	if _, err := d.Files(); err != nil {
		return nil, err
	}
	return d.partitions, nil
}

func (d *blockDevice) FileSystemHandles() (map[int64]interface{}, error) {
	if err := d.open(); err != nil {
		return nil, err
	}
	handles := map[int64]interface{}{}
	for sector, fs := range d.handles {
		handles[sector] = fs
	}
	return handles, nil
}

func (d *blockDevice) MediaSize() (int64, error) {
	return d.size, nil
}

func (d *blockDevice) Path() string { return d.path }

func (d *blockDevice) release() {
	for _, f := range d.files {
		f.ClearCache()
	}
	for _, fs := range d.handles {
		if closer, ok := fs.(io.Closer); ok {
			closer.Close() // nolint:errcheck
		}
	}
	d.handles = nil
}
