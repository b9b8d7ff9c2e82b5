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
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/mholt/archives"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var tarExtensions = []string{".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.xz", ".txz", ".tar.zst"}

// Detect returns the container kind of the evidence at name. Checks are done
// in a fixed order: iOS backup, directory, tar, zip, EWF, Android backup and
// raw image.
func Detect(name string, opts ...Option) (Kind, error) {
	o := newOptions(opts)
	return detect(o.fs, name)
}

func detect(fs afero.Fs, name string) (Kind, error) {
	info, err := fs.Stat(name)
	if err != nil {
		return KindUnknown, accessError(err, name)
	}
	if info.IsDir() {
		if IsIOSBackup(fs, name) {
			return KindIOSBackup, nil
		}
		return KindDirectory, nil
	}

	f, err := fs.Open(name)
	if err != nil {
		return KindUnknown, accessError(err, name)
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindUnknown, accessError(err, name)
	}
	header = header[:n]

	lower := strings.ToLower(name)
	identified := identify(name, header)
	switch {
	case isTar(header, lower, identified):
		return KindTar, nil
	case isZip(header, lower, identified):
		return KindZip, nil
	case bytes.HasPrefix(header, []byte("EVF")):
		return KindEWF, nil
	case isAndroidBackup(header):
		return KindAndroidBackup, nil
	case len(header) >= 512 && header[510] == 0x55 && header[511] == 0xAA:
		return KindRaw, nil
	}
	return KindUnknown, errors.Wrap(ErrUnrecognizedContainer, name)
}

// identify returns the extension of the archive format recognized by
// content or name, or "".
func identify(name string, header []byte) string {
	format, _, err := archives.Identify(context.Background(), name, bytes.NewReader(header))
	if err != nil {
		return ""
	}
	return format.Extension()
}

func isTar(header []byte, lower, identified string) bool {
	if len(header) >= 262 && string(header[257:262]) == "ustar" {
		return true
	}
	for _, ext := range tarExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return strings.Contains(identified, ".tar")
}

func isZip(header []byte, lower, identified string) bool {
	if bytes.HasPrefix(header, []byte("PK\x03\x04")) || bytes.HasPrefix(header, []byte("PK\x05\x06")) {
		return true
	}
	return strings.HasSuffix(lower, ".zip") || identified == ".zip"
}

func isAndroidBackup(header []byte) bool {
	line, err := bufio.NewReader(bytes.NewReader(header)).ReadString('\n')
	if err != nil {
		return false
	}
	return line == androidMagic+"\n"
}

// Open detects the container kind of the evidence at name and opens the
// matching accessor.
func Open(name string, opts ...Option) (Accessor, error) {
	o := newOptions(opts)
	kind, err := detect(o.fs, name)
	if err != nil {
		return nil, err
	}
	sub("dispatch").Debug("detected container", "path", name, "kind", kind.String())

	switch kind {
	case KindIOSBackup:
		return OpenIOSBackup(name, opts...)
	case KindDirectory:
		return OpenDirectory(name, opts...)
	case KindTar:
		return OpenTar(name, opts...)
	case KindZip:
		return OpenZip(name, opts...)
	case KindEWF:
		return OpenEWF(name, opts...)
	case KindAndroidBackup:
		return OpenAndroidBackup(name, opts...)
	case KindRaw:
		return OpenRaw(name, opts...)
	}
	return nil, errors.Wrap(ErrUnrecognizedContainer, name)
}
