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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	gptSignature      = "EFI PART"
	gptMaxEntries     = 1024
	gptMinEntrySize   = 128
	gptNameOffset     = 56
	gptNameLength     = 72
	gptHeaderMinBytes = 92
)

type gptHeader struct {
	EntriesLBA uint64
	NumEntries uint32
	EntrySize  uint32
}

func readGPT(r io.ReaderAt, sectorSize int64) ([]Slot, error) {
	buffer := make([]byte, sectorSize)
	if _, err := r.ReadAt(buffer, sectorSize); err != nil {
		return nil, err
	}
	if len(buffer) < gptHeaderMinBytes || string(buffer[:8]) != gptSignature {
		return nil, ErrNoPartitionTable
	}

	header := gptHeader{
		EntriesLBA: binary.LittleEndian.Uint64(buffer[72:]),
		NumEntries: binary.LittleEndian.Uint32(buffer[80:]),
		EntrySize:  binary.LittleEndian.Uint32(buffer[84:]),
	}
	if header.NumEntries > gptMaxEntries || header.EntrySize < gptMinEntrySize {
		return nil, fmt.Errorf("invalid gpt header (%d entries of %d bytes)", header.NumEntries, header.EntrySize)
	}

	tableBytes := int64(header.NumEntries) * int64(header.EntrySize)
	table := make([]byte, tableBytes)
	if _, err := r.ReadAt(table, int64(header.EntriesLBA)*sectorSize); err != nil {
		return nil, err
	}

	tableSectors := (tableBytes + sectorSize - 1) / sectorSize
	slots := []Slot{
		{Start: 1, Length: 1, Description: "GPT Header", Flag: SlotMeta},
		{Start: int64(header.EntriesLBA), Length: tableSectors, Description: "Partition Table", Flag: SlotMeta},
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	zeroGUID := make([]byte, 16)
	for i := uint32(0); i < header.NumEntries; i++ {
		entry := table[int64(i)*int64(header.EntrySize):][:header.EntrySize]
		if bytes.Equal(entry[:16], zeroGUID) {
			continue
		}
		first := binary.LittleEndian.Uint64(entry[32:])
		last := binary.LittleEndian.Uint64(entry[40:])
		if last < first {
			continue
		}

		name, err := decoder.Bytes(entry[gptNameOffset : gptNameOffset+gptNameLength])
		if err != nil {
			name = nil
		}
		slots = append(slots, Slot{
			Start:       int64(first),
			Length:      int64(last-first) + 1,
			Description: strings.TrimRight(string(name), "\x00"),
			Flag:        SlotAllocated,
		})
	}
	return slots, nil
}
