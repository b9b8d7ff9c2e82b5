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
	"github.com/spf13/afero"

	"github.com/forensicanalysis/evidence/ewf"
)

// RawImage gives access to the filesystems of a raw disk or volume image.
type RawImage struct {
	blockDevice
	file afero.File
}

// OpenRaw opens the raw image at name.
func OpenRaw(name string, opts ...Option) (*RawImage, error) {
	o := newOptions(opts)
	f, err := o.fs.Open(name)
	if err != nil {
		return nil, accessError(err, name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, accessError(err, name)
	}
	return &RawImage{blockDevice: newBlockDevice(name, f, info.Size(), o), file: f}, nil
}

func (r *RawImage) Kind() Kind { return KindRaw }

func (r *RawImage) Close() error {
	r.release()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// EWFImage gives access to the filesystems of a, possibly split, EWF image.
type EWFImage struct {
	blockDevice
	image *ewf.Image
}

// OpenEWF resolves the segments of the EWF image at name and opens them.
func OpenEWF(name string, opts ...Option) (*EWFImage, error) {
	o := newOptions(opts)
	if _, err := o.fs.Stat(name); err != nil {
		return nil, accessError(err, name)
	}
	image, err := ewf.Open(o.fs, name)
	if err != nil {
		return nil, containerError(err, "%s", name)
	}
	return &EWFImage{blockDevice: newBlockDevice(name, image, image.Size(), o), image: image}, nil
}

func (e *EWFImage) Kind() Kind { return KindEWF }

func (e *EWFImage) Close() error {
	e.release()
	if e.image == nil {
		return nil
	}
	err := e.image.Close()
	e.image = nil
	return err
}
