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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

type iosTestFile struct {
	domain       string
	relativePath string
	flags        int64
	mode         int64
	data         string
}

var iosModified = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

func mbFileBlob(t *testing.T, size, mode int64) []byte {
	archive := map[string]interface{}{
		"$version":  int64(100000),
		"$archiver": "NSKeyedArchiver",
		"$top":      map[string]interface{}{"root": plist.UID(1)},
		"$objects": []interface{}{
			"$null",
			map[string]interface{}{
				"Size":         size,
				"Mode":         mode,
				"LastModified": iosModified.Unix(),
				"$class":       plist.UID(2),
			},
			map[string]interface{}{
				"$classname": "MBFile",
				"$classes":   []interface{}{"MBFile", "NSObject"},
			},
		},
	}
	data, err := plist.Marshal(archive, plist.BinaryFormat)
	require.NoError(t, err)
	return data
}

func fileID(i int) string {
	return fmt.Sprintf("a%d%038d", i, i)
}

func buildIOSBackup(t *testing.T, dir string, encrypted bool, entries []iosTestFile) {
	require.NoError(t, os.MkdirAll(dir, 0755))

	descriptor, err := plist.Marshal(map[string]interface{}{"IsEncrypted": encrypted, "Version": "10.0"}, plist.XMLFormat)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, iosManifestPlist), descriptor, 0644))

	info, err := plist.Marshal(map[string]interface{}{
		"Device Name":      "iPhone",
		"Product Type":     "iPhone12,1",
		"Product Version":  "14.4",
		"Serial Number":    "SERIAL",
		"Last Backup Date": iosModified,
	}, plist.XMLFormat)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, iosInfoPlist), info, 0644))

	db, err := sql.Open("sqlite", filepath.Join(dir, iosManifestDB))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec("CREATE TABLE Files (fileID TEXT PRIMARY KEY, domain TEXT, relativePath TEXT, flags INTEGER, file BLOB)")
	require.NoError(t, err)

	for i, e := range entries {
		id := fileID(i)
		_, err = db.Exec("INSERT INTO Files VALUES (?, ?, ?, ?, ?)", id, e.domain, e.relativePath, e.flags, mbFileBlob(t, int64(len(e.data)), e.mode))
		require.NoError(t, err)
		if e.flags == 1 {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, id[:2]), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, id[:2], id), []byte(e.data), 0644))
		}
	}
}

func iosEntries() []iosTestFile {
	return []iosTestFile{
		{"HomeDomain", "Library/SMS/sms.db", 1, 0o100644, "sqlite"},
		{"HomeDomain", "Library", 2, 0o040755, ""},
		{"CameraRollDomain", "Media/DCIM/100APPLE/IMG_0001.JPG", 1, 0o100644, "jpeg!"},
		{"HomeDomain", "Library/link", 4, 0o120777, ""},
		{"HomeDomain", "Library/empty.plist", 1, 0o100644, ""},
	}
}

type reverseDecryptor struct {
	passwords []string
}

func (d *reverseDecryptor) DecryptFile(record IOSFileRecord, backupRoot, password string) ([]byte, error) {
	d.passwords = append(d.passwords, password)
	return []byte("decrypted " + record.FileID[:4]), nil
}

func TestOpenIOSBackup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backup")
	buildIOSBackup(t, dir, false, iosEntries())

	acc, err := OpenIOSBackup(dir)
	require.NoError(t, err)
	defer acc.Close()
	assert.False(t, acc.Encrypted())

	files, err := acc.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/CameraRollDomain/Media/DCIM/100APPLE/IMG_0001.JPG",
		"/HomeDomain/Library/SMS/sms.db",
		"/HomeDomain/Library/empty.plist",
	}, paths(files))

	data, err := files[0].ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "jpeg!", string(data))
	assert.True(t, iosModified.Equal(*files[0].Timestamps.Modified))

	data, err = files[1].ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", string(data))
	assert.Equal(t, int64(0), files[2].Size)

	partitions, err := acc.Partitions()
	require.NoError(t, err)
	assert.Equal(t, "iOS Backup", partitions[0].Type)

	info, err := acc.DeviceInfo()
	require.NoError(t, err)
	assert.Equal(t, "iPhone12,1", info.ProductType)
	assert.Equal(t, "14.4", info.ProductVersion)
}

func TestOpenIOSBackupEncrypted(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "backup")
	buildIOSBackup(t, dir, true, iosEntries())

	_, err := OpenIOSBackup(dir)
	assert.True(t, errors.Is(err, ErrPasswordMissing), err)

	require.NoError(t, os.WriteFile(filepath.Join(base, "password.txt"), []byte("  secret  \n"), 0644))

	_, err = OpenIOSBackup(dir)
	assert.True(t, errors.Is(err, ErrContainerFormat), err)

	decryptor := &reverseDecryptor{}
	acc, err := OpenIOSBackup(dir, WithIOSDecryptor(decryptor))
	require.NoError(t, err)
	defer acc.Close()
	assert.True(t, acc.Encrypted())

	files, err := acc.Files()
	require.NoError(t, err)
	require.Len(t, files, 3)

	data, err := files[1].ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "decryp", string(data))
	assert.Equal(t, []string{"secret"}, decryptor.passwords)
}

func TestIOSBackupMemoryFs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backup")
	buildIOSBackup(t, dir, false, iosEntries())

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.Walk(afero.NewOsFs(), dir, func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.IsDir() {
			return fs.MkdirAll(p, 0755)
		}
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return afero.WriteFile(fs, p, data, 0644)
	}))

	acc, err := OpenIOSBackup(dir, WithFs(fs))
	require.NoError(t, err)
	files, err := acc.Files()
	require.NoError(t, err)
	assert.Len(t, files, 3)
	require.NoError(t, acc.Close())
}
