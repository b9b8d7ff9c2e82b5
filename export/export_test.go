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
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/evidence"
)

func TestNormalizeFilePath(t *testing.T) {
	x32 := strings.Repeat("x", 32)
	longFileName := strings.Repeat("long_file_name_", 8)

	pathTests := []struct {
		name              string
		srcPath           string
		normalizedSrcPath string
	}{
		{"Windows path", `/C/Users/user/NTUSER.DAT`, `C_Users_user_NTUSER.DAT`},
		{"Linux path", `/home/username/.bash_history`, `home_username_.bash_history`},
		{"Partition path", `/P_2048/Windows/System32/config/SOFTWARE`, `P_2048_Windows_System32_config_SOFTWARE`},
		{
			"Long path",
			`/C/Users/user/AppData/Local/Google/Chrome/User Data/Default/Extensions/` + x32 + `/1.11_1/_metadata/folder_` + x32 + `/` + longFileName + `.json`,
			`AppD_Loca_Goog_Chro_User_Defa_Exte_xxxx_1.11__met_fold_long.json`,
		},
	}

	for _, pt := range pathTests {
		t.Run(pt.name, func(t *testing.T) {
			assert.Equal(t, pt.normalizedSrcPath, normalizeFilePath(pt.srcPath))
		})
	}
}

func Test_last(t *testing.T) {
	type args struct {
		s string
		n int
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{"long", args{"abcdef", 2}, "ef"},
		{"short", args{"abc", 4}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, last(tt.args.s, tt.args.n))
		})
	}
}

func TestDestinationPath(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeFolder, "C/Users/user/NTUSER.DAT"},
		{ModeCompact, "C_Users_user_NTUSER.DAT"},
		{ModeBasename, "NTUSER.DAT"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, DestinationPath("/C/Users/user/NTUSER.DAT", tt.mode))
		})
	}

	_, err := ParseMode("flat")
	assert.Error(t, err)
	mode, err := ParseMode("basename")
	require.NoError(t, err)
	assert.Equal(t, ModeBasename, mode)
}

func newFile(p, content string) *evidence.File {
	return evidence.NewFile(p, 1, int64(len(content)), 0, bytes.NewReader([]byte(content)))
}

func testFiles() []*evidence.File {
	return []*evidence.File{
		newFile("/P_2048/Windows/System32/config/SOFTWARE", "software"),
		newFile("/P_2048/Users/user/NTUSER.DAT", "ntuser"),
		newFile("/P_4096/users/other/NTUSER.DAT", "other"),
		newFile("/UsersBackup/a.txt", "a"),
		newFile("/etc/passwd", "root:x:0:0"),
	}
}

func fullPaths(files []*evidence.File) []string {
	var p []string
	for _, f := range files {
		p = append(p, f.FullPath)
	}
	return p
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		folders []string
		paths   []string
		want    []string
	}{
		{"all", nil, nil, fullPaths(testFiles())},
		{"folder without partition", []string{"Users"}, nil, []string{"/P_2048/Users/user/NTUSER.DAT", "/P_4096/users/other/NTUSER.DAT"}},
		{"nested folder", []string{"/windows/system32/"}, nil, []string{"/P_2048/Windows/System32/config/SOFTWARE"}},
		{"exact path", nil, []string{"/etc/passwd"}, []string{"/etc/passwd"}},
		{"folder and path", []string{"UsersBackup"}, []string{"/etc/passwd"}, []string{"/UsersBackup/a.txt", "/etc/passwd"}},
		{"no match", []string{"Program Files"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(testFiles(), tt.folders, tt.paths)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fullPaths(got))
		})
	}
}

func TestExport(t *testing.T) {
	mtime := time.Date(2020, 4, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		mode Mode
		want map[string]string
	}{
		{"folder", ModeFolder, map[string]string{
			"/P_2048/Users/user/NTUSER.DAT":  "/P_2048/Users/user/NTUSER.DAT",
			"/P_4096/users/other/NTUSER.DAT": "/P_4096/users/other/NTUSER.DAT",
		}},
		{"basename collision", ModeBasename, map[string]string{
			"/P_2048/Users/user/NTUSER.DAT":  "/NTUSER.DAT",
			"/P_4096/users/other/NTUSER.DAT": "/NTUSER_0.DAT",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := testFiles()[1:3]
			files[0].Timestamps.Modified = &mtime

			fs := afero.NewMemMapFs()
			result, err := New(fs, tt.mode).Export(files)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Exported)
			assert.Empty(t, result.Skipped)

			data, err := afero.ReadFile(fs, tt.want["/P_2048/Users/user/NTUSER.DAT"])
			require.NoError(t, err)
			assert.Equal(t, "ntuser", string(data))
			info, err := fs.Stat(tt.want["/P_2048/Users/user/NTUSER.DAT"])
			require.NoError(t, err)
			assert.True(t, mtime.Equal(info.ModTime()))
			assert.Zero(t, files[0].Cursor())
		})
	}
}

type failingReaderAt struct{}

func (failingReaderAt) ReadAt([]byte, int64) (int, error) { return 0, errors.New("broken sector") }

func TestExportSkipsUnreadableFiles(t *testing.T) {
	files := []*evidence.File{
		evidence.NewFile("/bad.bin", 1, 10, 0, failingReaderAt{}),
		newFile("/good.txt", "good"),
	}
	fs := afero.NewMemMapFs()
	result, err := New(fs, ModeFolder).Export(files)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bad.bin"}, result.Skipped)
	assert.Equal(t, map[string]string{"/good.txt": "/good.txt"}, result.Exported)

	exists, err := afero.Exists(fs, "/bad.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExportToSQLiteArchive(t *testing.T) {
	target := filepath.Join(t.TempDir(), "export.sqlar")
	dest, closer, err := OpenDestination(target)
	require.NoError(t, err)

	result, err := New(dest, ModeCompact).Export(testFiles()[:1])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"/P_2048/Windows/System32/config/SOFTWARE": "/P_2048_Windows_System32_config_SOFTWARE",
	}, result.Exported)

	data, err := afero.ReadFile(dest, "/P_2048_Windows_System32_config_SOFTWARE")
	require.NoError(t, err)
	assert.Equal(t, "software", string(data))
	require.NoError(t, closer.Close())
}

func TestExportToDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out")
	dest, closer, err := OpenDestination(target)
	require.NoError(t, err)
	defer closer.Close()

	_, err = New(dest, ModeFolder).Export(testFiles()[4:])
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, "etc", "passwd"))
}
