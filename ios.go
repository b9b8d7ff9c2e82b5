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
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"howett.net/plist"
	_ "modernc.org/sqlite" // register the sqlite driver for database/sql
)

const (
	iosManifestDB    = "Manifest.db"
	iosManifestPlist = "Manifest.plist"
	iosInfoPlist     = "Info.plist"

	iosFlagDirectory = 2
	iosModeTypeMask  = 0o170000
	iosModeDirectory = 0o040000
	iosModeSymlink   = 0o120000
)

// IOSFileRecord is one entry of the Files table of Manifest.db.
type IOSFileRecord struct {
	FileID       string
	Domain       string
	RelativePath string
	Flags        int64
	// Metadata is the NSKeyedArchiver encoded MBFile record.
	Metadata []byte
}

// IOSDecryptor decrypts files of encrypted iOS backups.
type IOSDecryptor interface {
	DecryptFile(record IOSFileRecord, backupRoot, password string) ([]byte, error)
}

// ManifestDecryptor is implemented by IOSDecryptors that can decrypt an
// encrypted Manifest.db. It returns the path of a plaintext copy, which is
// removed when the backup is closed.
type ManifestDecryptor interface {
	DecryptManifest(backupRoot, password string) (string, error)
}

// DeviceInfo is the device description of Info.plist.
type DeviceInfo struct {
	DeviceName     string    `plist:"Device Name"`
	ProductType    string    `plist:"Product Type"`
	ProductVersion string    `plist:"Product Version"`
	SerialNumber   string    `plist:"Serial Number"`
	LastBackupDate time.Time `plist:"Last Backup Date"`
}

type manifestDescriptor struct {
	IsEncrypted bool   `plist:"IsEncrypted"`
	Version     string `plist:"Version"`
}

// IOSBackup gives access to the files of an iTunes/Finder device backup.
type IOSBackup struct {
	virtualPartition
	fs        afero.Fs
	root      string
	encrypted bool
	password  string
	decryptor IOSDecryptor
	cleanup   []string
}

// IsIOSBackup reports whether dir contains a manifest database and
// descriptor.
func IsIOSBackup(fs afero.Fs, dir string) bool {
	for _, name := range []string{iosManifestDB, iosManifestPlist} {
		info, err := fs.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// OpenIOSBackup opens the backup in root. Encrypted backups need a
// password.txt in root or its parent directory and an IOSDecryptor.
func OpenIOSBackup(root string, opts ...Option) (*IOSBackup, error) {
	o := newOptions(opts)
	log := sub("ios")

	if !IsIOSBackup(o.fs, root) {
		return nil, errors.Wrapf(ErrContainerFormat, "%s: missing %s or %s", root, iosManifestDB, iosManifestPlist)
	}

	b := &IOSBackup{fs: o.fs, root: filepath.Clean(root), decryptor: o.decryptor}

	descriptor := &manifestDescriptor{}
	if err := readPlist(o.fs, filepath.Join(root, iosManifestPlist), descriptor); err != nil {
		log.Warn("could not read manifest descriptor, assuming encrypted backup", "error", err)
		descriptor.IsEncrypted = true
	}
	b.encrypted = descriptor.IsEncrypted

	if b.encrypted {
		password, err := lookupPassword(o.fs, root)
		if err != nil {
			return nil, err
		}
		b.password = password
		if b.decryptor == nil {
			return nil, errors.Wrapf(ErrContainerFormat, "%s: encrypted backup needs a decryptor", root)
		}
	}

	b.virtualPartition = virtualPartition{label: "iOS Backup", enumerate: b.enumerate}
	return b, nil
}

func readPlist(fs afero.Fs, name string, v interface{}) error {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return err
	}
	_, err = plist.Unmarshal(data, v)
	return err
}

// Encrypted reports whether the backup is encrypted.
func (b *IOSBackup) Encrypted() bool { return b.encrypted }

// DeviceInfo reads Info.plist. It returns nil if the backup has none.
func (b *IOSBackup) DeviceInfo() (*DeviceInfo, error) {
	name := filepath.Join(b.root, iosInfoPlist)
	if _, err := b.fs.Stat(name); os.IsNotExist(err) {
		return nil, nil
	}
	info := &DeviceInfo{}
	if err := readPlist(b.fs, name, info); err != nil {
		return nil, containerError(err, "%s", name)
	}
	return info, nil
}

// manifestPath returns a local path of a plaintext Manifest.db.
func (b *IOSBackup) manifestPath() (string, error) {
	if b.encrypted {
		if md, ok := b.decryptor.(ManifestDecryptor); ok {
			p, err := md.DecryptManifest(b.root, b.password)
			if err != nil {
				return "", errors.Wrap(err, "could not decrypt manifest")
			}
			b.cleanup = append(b.cleanup, p)
			return p, nil
		}
	}

	name := filepath.Join(b.root, iosManifestDB)
	if _, ok := b.fs.(*afero.OsFs); ok {
		return name, nil
	}

	// database/sql needs a file on disk
	src, err := b.fs.Open(name)
	if err != nil {
		return "", accessError(err, name)
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "manifest-*.db")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	b.cleanup = append(b.cleanup, tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

func (b *IOSBackup) enumerate() ([]*File, error) {
	log := sub("ios")

	manifest, err := b.manifestPath()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(manifest)+"?mode=ro")
	if err != nil {
		return nil, containerError(err, "%s", manifest)
	}
	defer db.Close()

	rows, err := db.Query("SELECT fileID, domain, relativePath, flags, file FROM Files ORDER BY domain, relativePath")
	if err != nil {
		return nil, containerError(err, "%s", manifest)
	}
	defer rows.Close()

	var files []*File
	var inode uint64
	for rows.Next() {
		var record IOSFileRecord
		var relativePath sql.NullString
		if err := rows.Scan(&record.FileID, &record.Domain, &relativePath, &record.Flags, &record.Metadata); err != nil {
			return nil, containerError(err, "%s", manifest)
		}
		record.RelativePath = relativePath.String
		if record.Flags == iosFlagDirectory {
			continue
		}

		meta, err := decodeMBFile(record.Metadata)
		if err != nil {
			log.Warn("skipping entry with unreadable metadata", "file_id", record.FileID, "error", err)
			continue
		}
		switch meta.Mode & iosModeTypeMask {
		case iosModeDirectory, iosModeSymlink:
			continue
		}

		inode++
		file := NewFile(iosPath(record.Domain, record.RelativePath), inode, meta.Size, 0, b.source(record))
		if meta.LastModified > 0 {
			file.Timestamps.Modified = timePtr(time.Unix(meta.LastModified, 0).UTC())
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, containerError(err, "%s", manifest)
	}
	log.Debug("listed ios backup", "root", b.root, "files", len(files), "encrypted", b.encrypted)
	return files, nil
}

func iosPath(domain, relativePath string) string {
	return path.Clean("/" + domain + "/" + relativePath)
}

func (b *IOSBackup) source(record IOSFileRecord) io.ReaderAt {
	if b.encrypted {
		return &iosEncryptedContent{backup: b, record: record}
	}
	return &iosContent{fs: b.fs, root: b.root, fileID: record.FileID}
}

// iosContent reads a plain file stored under its hashed name.
type iosContent struct {
	fs     afero.Fs
	root   string
	fileID string
	reader *fsReaderAt
}

func (c *iosContent) ReadAt(p []byte, off int64) (int, error) {
	if c.reader == nil {
		name := filepath.Join(c.root, c.fileID)
		if len(c.fileID) > 2 {
			nested := filepath.Join(c.root, c.fileID[:2], c.fileID)
			if _, err := c.fs.Stat(nested); err == nil {
				name = nested
			}
		}
		c.reader = &fsReaderAt{fs: c.fs, name: name}
	}
	return c.reader.ReadAt(p, off)
}

func (c *iosContent) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

type iosEncryptedContent struct {
	backup *IOSBackup
	record IOSFileRecord
}

func (c *iosEncryptedContent) load() ([]byte, error) {
	return c.backup.decryptor.DecryptFile(c.record, c.backup.root, c.backup.password)
}

func (c *iosEncryptedContent) ReadAt(p []byte, off int64) (int, error) {
	data, err := c.load()
	if err != nil {
		return 0, err
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type mbFile struct {
	Size         int64
	Mode         int64
	LastModified int64
}

// decodeMBFile reads size, mode and modification time from an
// NSKeyedArchiver encoded MBFile.
func decodeMBFile(data []byte) (*mbFile, error) {
	var archive struct {
		Top     map[string]interface{} `plist:"$top"`
		Objects []interface{}          `plist:"$objects"`
	}
	if _, err := plist.Unmarshal(data, &archive); err != nil {
		return nil, err
	}

	index, ok := uid(archive.Top["root"])
	if !ok || index >= uint64(len(archive.Objects)) {
		return nil, errors.New("missing root object")
	}
	root, ok := archive.Objects[index].(map[string]interface{})
	if !ok {
		return nil, errors.New("invalid root object")
	}

	return &mbFile{
		Size:         integer(root["Size"]),
		Mode:         integer(root["Mode"]),
		LastModified: integer(root["LastModified"]),
	}, nil
}

func uid(v interface{}) (uint64, bool) {
	switch u := v.(type) {
	case plist.UID:
		return uint64(u), true
	case map[string]interface{}:
		// xml plists encode uids as {"CF$UID": n}
		if n, ok := u["CF$UID"]; ok {
			return uint64(integer(n)), true
		}
	}
	return 0, false
}

func integer(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func (b *IOSBackup) Kind() Kind   { return KindIOSBackup }
func (b *IOSBackup) Path() string { return b.root }

func (b *IOSBackup) FileSystemHandles() (map[int64]interface{}, error) {
	return map[int64]interface{}{0: b}, nil
}

func (b *IOSBackup) Close() error {
	b.release()
	for _, name := range b.cleanup {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			sub("ios").Warn("could not remove temporary manifest", "path", name, "error", err)
		}
	}
	b.cleanup = nil
	return nil
}
