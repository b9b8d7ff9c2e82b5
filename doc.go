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

// Package evidence gives uniform access to the files and partitions of
// digital evidence containers.
//
// Supported containers are plain directories, tar and zip archives, Android
// (.ab) backups, iOS device backups, raw disk images and split EWF images.
// Open detects the container kind of a path and returns the matching
// Accessor. Every Accessor lists its File entities and Partition entities
// the same way, so downstream processing does not need to know where a file
// came from.
//
// Usage
//
//	acc, err := evidence.Open("image.E01")
//	if err != nil {
//		return err
//	}
//	defer acc.Close()
//
//	files, err := acc.Files()
//	for _, f := range files {
//		data, err := f.ReadAll()
//		...
//	}
package evidence
