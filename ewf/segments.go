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

package ewf

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Segments returns the segment files of the image at path ordered by their
// segment number. It fails if a segment is missing.
func Segments(fs afero.Fs, path string) ([]string, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	candidates, err := afero.Glob(fs, stem+".[EeSs][0-9A-Za-z][0-9A-Za-z]")
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates = []string{path}
	}

	numbers := map[string]uint16{}
	var segments []string
	for _, candidate := range candidates {
		number, ok := segmentNumber(fs, candidate)
		if !ok {
			continue
		}
		numbers[candidate] = number
		segments = append(segments, candidate)
	}
	if len(segments) == 0 {
		return nil, errors.Wrapf(ErrFormat, "no segment found for %s", path)
	}

	sort.Slice(segments, func(i, j int) bool { return numbers[segments[i]] < numbers[segments[j]] })
	for i, segment := range segments {
		if numbers[segment] != uint16(i+1) {
			return nil, errors.Wrapf(ErrFormat, "missing segment %d of %s", i+1, path)
		}
	}
	return segments, nil
}

func segmentNumber(fs afero.Fs, name string) (uint16, bool) {
	f, err := fs.Open(name)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	header := make([]byte, fileHeaderLength)
	if _, err := f.ReadAt(header, 0); err != nil {
		return 0, false
	}
	if !bytes.Equal(header[:8], Signature) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(header[9:]), true
}
