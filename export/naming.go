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

package export

import (
	"path"
	"strings"

	"github.com/pkg/errors"
)

// Mode defines the file names and folder structure of exported files.
type Mode string

// Export modes.
const (
	// ModeFolder keeps the evidence path, e.g.
	// 'C/Users/user/AppData/Local/Google/Chrome/User Data/Default/Extensions/xx/1.11_1/example.json'.
	ModeFolder Mode = "folder"
	// ModeCompact joins the shortened path segments, e.g.
	// 'C_User_user_AppD_Loca_Goog_Chro_User_Defa_Exte_xx_1.11_exam.json'.
	ModeCompact Mode = "compact"
	// ModeBasename only keeps the file name, e.g. 'example.json'.
	ModeBasename Mode = "basename"
)

// ParseMode returns the mode named s.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFolder, ModeCompact, ModeBasename:
		return Mode(s), nil
	}
	return "", errors.Errorf("unknown export mode %q, must be folder, compact or basename", s)
}

// DestinationPath returns the relative path fullPath is exported to.
func DestinationPath(fullPath string, mode Mode) string {
	switch mode {
	case ModeBasename:
		return path.Base(fullPath)
	case ModeFolder:
		return strings.TrimLeft(fullPath, "/")
	default:
		return normalizeFilePath(fullPath)
	}
}

func first(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[:n]
}

func last(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[len(s)-n:]
}

func splitExt(filePath string) (nameOnly, ext string) {
	ext = path.Ext(filePath)
	return filePath[:len(filePath)-len(ext)], ext
}

func normalizeFilePath(filePath string) string {
	maxLength := 64
	maxSegmentLength := 4
	filePath = strings.TrimLeft(filePath, "/")
	pathSegments := strings.Split(filePath, "/")
	normalizedFilePath := strings.Join(pathSegments, "_")

	// shorten the directories to their first letters, while too long
	for i := 0; i < len(pathSegments)-1 && len(normalizedFilePath) > maxLength; i++ {
		pathSegments[i] = first(pathSegments[i], maxSegmentLength)
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	if len(normalizedFilePath) > maxLength {
		nameOnly, ext := splitExt(pathSegments[len(pathSegments)-1])
		pathSegments[len(pathSegments)-1] = first(nameOnly, maxSegmentLength) + ext
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	return last(normalizedFilePath, maxLength)
}
