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

// Partition describes one allocated region of an evidence source. Sources
// without a partition table expose one synthetic partition starting and
// ending at sector 0.
type Partition struct {
	StartSector int64
	EndSector   int64
	Length      int64
	Type        string
	Allocated   bool
	Files       []*File
}

// NewPartition creates a partition spanning start to end, both inclusive.
func NewPartition(start, end int64, partitionType string, allocated bool) *Partition {
	return &Partition{
		StartSector: start,
		EndSector:   end,
		Length:      end - start + 1,
		Type:        partitionType,
		Allocated:   allocated,
	}
}

// Equal compares the partition descriptions, ignoring their files.
func (p *Partition) Equal(o *Partition) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.StartSector == o.StartSector &&
		p.EndSector == o.EndSector &&
		p.Length == o.Length &&
		p.Type == o.Type &&
		p.Allocated == o.Allocated
}
