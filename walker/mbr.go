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

package walker

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const (
	mbrTableOffset = 446
	mbrEntrySize   = 16
	mbrSignature   = 0xaa55

	typeEmpty       = 0x00
	typeExtended    = 0x05
	typeExtendedLBA = 0x0f
	typeExtendedLnx = 0x85
	typeProtective  = 0xee

	maxLogicalPartitions = 128
)

// PartitionTypes names common MBR partition types.
var PartitionTypes = map[uint8]string{
	0x01: "DOS FAT12",
	0x04: "DOS FAT16 (<32M)",
	0x05: "DOS Extended",
	0x06: "DOS FAT16",
	0x07: "NTFS / exFAT",
	0x0b: "Win95 FAT32",
	0x0c: "Win95 FAT32 (LBA)",
	0x0e: "Win95 FAT16 (LBA)",
	0x0f: "Win95 Extended (LBA)",
	0x27: "Hidden NTFS Win",
	0x82: "Linux Swap",
	0x83: "Linux",
	0x85: "Linux Extended",
	0x8e: "Linux Logical Volume Manager",
	0xee: "GPT Safety Partition",
}

type mbrEntry struct {
	Flag     uint8
	StartCHS [3]byte
	Type     uint8
	EndCHS   [3]byte
	StartLBA uint32
	Size     uint32
}

func (e mbrEntry) extended() bool {
	return e.Type == typeExtended || e.Type == typeExtendedLBA || e.Type == typeExtendedLnx
}

func (e mbrEntry) description() string {
	if name, ok := PartitionTypes[e.Type]; ok {
		return fmt.Sprintf("%s (0x%02x)", name, e.Type)
	}
	return fmt.Sprintf("Unknown Type (0x%02x)", e.Type)
}

func readMBREntries(r io.ReaderAt, sector int64, sectorSize int64) ([]mbrEntry, error) {
	buffer := make([]byte, 512)
	if _, err := r.ReadAt(buffer, sector*sectorSize); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint16(buffer[510:]) != mbrSignature {
		return nil, ErrNoPartitionTable
	}

	var entries []mbrEntry
	for pos := mbrTableOffset; pos < 510; pos += mbrEntrySize {
		raw := buffer[pos : pos+mbrEntrySize]
		e := mbrEntry{
			Flag:     raw[0],
			Type:     raw[4],
			StartLBA: binary.LittleEndian.Uint32(raw[8:]),
			Size:     binary.LittleEndian.Uint32(raw[12:]),
		}
		copy(e.StartCHS[:], raw[1:4])
		copy(e.EndCHS[:], raw[5:8])
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadPartitionTable lists the slots of an MBR or GPT partitioned media.
// Metadata and unallocated regions are included and flagged.
func ReadPartitionTable(r io.ReaderAt, size int64, sectorSize int64) ([]Slot, error) {
	if sectorSize <= 0 {
		sectorSize = 512
	}
	entries, err := readMBREntries(r, 0, sectorSize)
	if err != nil {
		return nil, err
	}

	slots := []Slot{{Start: 0, Length: 1, Description: "Primary Table (#0)", Flag: SlotMeta}}
	if entries[0].Type == typeProtective {
		gptSlots, err := readGPT(r, sectorSize)
		if err != nil {
			return nil, err
		}
		slots = append(slots, gptSlots...)
		return withGaps(slots, size/sectorSize), nil
	}

	for _, e := range entries {
		if e.Type == typeEmpty || e.Size == 0 {
			continue
		}
		if e.extended() {
			slots = append(slots, Slot{Start: int64(e.StartLBA), Length: int64(e.Size), Description: e.description(), Flag: SlotMeta})
			logical, err := readExtended(r, int64(e.StartLBA), sectorSize)
			if err != nil {
				return nil, err
			}
			slots = append(slots, logical...)
			continue
		}
		slots = append(slots, Slot{Start: int64(e.StartLBA), Length: int64(e.Size), Description: e.description(), Flag: SlotAllocated})
	}

	return withGaps(slots, size/sectorSize), nil
}

// readExtended follows the chain of extended boot records.
func readExtended(r io.ReaderAt, extStart int64, sectorSize int64) ([]Slot, error) {
	var slots []Slot
	ebr := extStart
	for i := 0; i < maxLogicalPartitions; i++ {
		entries, err := readMBREntries(r, ebr, sectorSize)
		if err != nil {
			return nil, err
		}
		slots = append(slots, Slot{Start: ebr, Length: 1, Description: fmt.Sprintf("Extended Table (#%d)", i), Flag: SlotMeta})

		if entries[0].Type != typeEmpty && entries[0].Size > 0 {
			slots = append(slots, Slot{
				Start:       ebr + int64(entries[0].StartLBA),
				Length:      int64(entries[0].Size),
				Description: entries[0].description(),
				Flag:        SlotAllocated,
			})
		}

		next := entries[1]
		if !next.extended() || next.StartLBA == 0 {
			return slots, nil
		}
		ebr = extStart + int64(next.StartLBA)
	}
	return slots, nil
}

// withGaps sorts the slots and adds unallocated slots for uncovered ranges
// of allocated space.
func withGaps(slots []Slot, totalSectors int64) []Slot {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })

	var result []Slot
	var covered int64
	for _, s := range slots {
		if s.Start > covered {
			result = append(result, Slot{Start: covered, Length: s.Start - covered, Description: "Unallocated", Flag: SlotUnallocated})
		}
		result = append(result, s)
		end := s.Start + s.Length
		if s.Flag == SlotMeta && s.Length > 1 {
			// extended containers hold logical partitions
			end = s.Start + 1
		}
		if end > covered {
			covered = end
		}
	}
	if totalSectors > covered {
		result = append(result, Slot{Start: covered, Length: totalSectors - covered, Description: "Unallocated", Flag: SlotUnallocated})
	}
	return result
}
