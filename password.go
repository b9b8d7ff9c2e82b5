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
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const passwordFile = "password.txt"

// lookupPassword reads the first line of password.txt in dir or its parent.
func lookupPassword(fs afero.Fs, dir string) (string, error) {
	for _, candidate := range []string{
		filepath.Join(dir, passwordFile),
		filepath.Join(filepath.Dir(filepath.Clean(dir)), passwordFile),
	} {
		f, err := fs.Open(candidate)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		line := ""
		if scanner.Scan() {
			line = strings.TrimSpace(scanner.Text())
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return "", accessError(err, candidate)
		}
		sub("password").Debug("using password file", "path", candidate)
		return line, nil
	}
	return "", errors.Wrapf(ErrPasswordMissing, "no %s beside %s", passwordFile, dir)
}
