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
	"os"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when the evidence path does not exist.
	ErrNotFound = errors.New("evidence not found")
	// ErrUnrecognizedContainer is returned by the dispatcher if no accessor
	// matches the evidence.
	ErrUnrecognizedContainer = errors.New("unrecognized container")
	// ErrContainerFormat marks malformed or unreadable containers.
	ErrContainerFormat = errors.New("container format error")
	// ErrPasswordMissing is returned for encrypted sources without password.txt.
	ErrPasswordMissing = errors.New("password missing")
	// ErrDecryptionIntegrity is returned if the master key checksum of an
	// Android backup does not match.
	ErrDecryptionIntegrity = errors.New("invalid password or corrupted backup")
	// ErrFilesystemUnavailable is returned if no filesystem could be opened.
	ErrFilesystemUnavailable = errors.New("filesystem unavailable")
	// ErrResourceAccess marks permission and missing file problems.
	ErrResourceAccess = errors.New("resource access error")
)

// containerError wraps err as ErrContainerFormat while keeping its message.
func containerError(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(ErrContainerFormat, format, args...)
	}
	return errors.Wrapf(ErrContainerFormat, format+": %s", append(args, err)...)
}

// accessError translates os errors into the package taxonomy.
func accessError(err error, name string) error {
	switch {
	case os.IsNotExist(err):
		return errors.Wrap(ErrNotFound, name)
	case os.IsPermission(err):
		return errors.Wrapf(ErrResourceAccess, "%s: %s", name, err)
	default:
		return errors.Wrapf(ErrResourceAccess, "%s: %s", name, err)
	}
}
