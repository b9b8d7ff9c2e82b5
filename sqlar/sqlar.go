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

// Package sqlar implements an afero.Fs on top of a SQLite archive, the
// single file archive format of the sqlite3 command line tool. Exported
// evidence files can be written into such an archive.
package sqlar

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const (
	modeDir     = 0040000
	modeRegular = 0100000
	modePerm    = 0777
)

const table = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,  -- name of the file
  mode INT,               -- access permissions
  mtime INT,              -- last modification time
  sz INT,                 -- original file size
  data BLOB               -- compressed content
);`

// ErrNotImplemented is returned for operations the archive does not support.
var ErrNotImplemented = errors.New("not implemented")

// FS is a SQLite archive.
type FS struct {
	conn *sqlite.Conn
}

var _ afero.Fs = &FS{}

// New opens or creates the archive at url.
func New(url string) (*FS, error) {
	conn, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, err
	}
	fs := &FS{conn: conn}
	if err := fs.exec(table); err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}
	return fs, nil
}

func (fs *FS) Name() string { return "sqlar" }

func (fs *FS) Close() error {
	return fs.conn.Close()
}

func (fs *FS) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) Mkdir(name string, perm os.FileMode) error {
	name = normalizeFilename(name)
	if _, err := fs.lookup(name); err == nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	stmt, err := fs.conn.Prepare(`INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, 0, NULL)`)
	if err != nil {
		return err
	}
	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", modeDir|int64(perm&modePerm))
	stmt.SetInt64("$mtime", time.Now().Unix())
	return exec(stmt)
}

func (fs *FS) MkdirAll(p string, perm os.FileMode) error {
	p = normalizeFilename(p)
	current := "/"
	for _, part := range append([]string{""}, strings.Split(strings.Trim(p, "/"), "/")...) {
		current = path.Join(current, part)
		info, err := fs.lookup(current)
		if err == nil {
			if !info.IsDir() {
				return &os.PathError{Op: "mkdir", Path: current, Err: errors.New("not a directory")}
			}
			continue
		}
		if err := fs.Mkdir(current, perm); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = normalizeFilename(name)

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		if flag&os.O_APPEND != 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: ErrNotImplemented}
		}
		if _, err := fs.lookup(name); err != nil {
			if flag&os.O_CREATE == 0 {
				return nil, err
			}
			if err := fs.insertFile(name, perm); err != nil {
				return nil, err
			}
		}
		return newWriter(fs, name), nil
	}

	info, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		children, err := fs.children(name)
		if err != nil {
			return nil, err
		}
		return &file{fs: fs, path: name, info: info, children: children}, nil
	}
	content, err := fs.content(name, info.sz)
	if err != nil {
		return nil, err
	}
	return newReader(fs, name, info, content), nil
}

func (fs *FS) insertFile(name string, perm os.FileMode) error {
	stmt, err := fs.conn.Prepare(`INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, 0, zeroblob(0))`)
	if err != nil {
		return err
	}
	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", modeRegular|int64(perm&modePerm))
	stmt.SetInt64("$mtime", time.Now().Unix())
	if err := exec(stmt); err != nil {
		return errors.Wrapf(err, "failed to create %s", name)
	}
	return nil
}

// lookup returns the info of a single entry or an os.ErrNotExist path error.
func (fs *FS) lookup(name string) (*Info, error) {
	stmt, err := fs.conn.Prepare(`SELECT name, mode, mtime, sz FROM sqlar WHERE name = $name`)
	if err != nil {
		return nil, err
	}
	stmt.SetText("$name", name)

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Finalize() // nolint:errcheck
		if name == "/" {
			return &Info{name: "/", mode: modeDir | 0755}, nil
		}
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	info := scanInfo(stmt)
	return info, stmt.Finalize()
}

func scanInfo(stmt *sqlite.Stmt) *Info {
	return &Info{
		name:  path.Base(stmt.GetText("name")),
		sz:    stmt.GetInt64("sz"),
		mode:  stmt.GetInt64("mode"),
		mtime: time.Unix(stmt.GetInt64("mtime"), 0),
	}
}

func (fs *FS) children(name string) ([]os.FileInfo, error) {
	stmt, err := fs.conn.Prepare(`SELECT name, mode, mtime, sz FROM sqlar WHERE name LIKE $prefix ORDER BY name`)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(name, "/") + "/"
	stmt.SetText("$prefix", prefix+"%")

	var children []os.FileInfo
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		childName := stmt.GetText("name")
		rest := strings.TrimPrefix(childName, prefix)
		if childName == name || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		children = append(children, scanInfo(stmt))
	}
	return children, stmt.Finalize()
}

// content returns the decompressed data of a file. Entries whose blob has
// the original size are stored uncompressed.
func (fs *FS) content(name string, size int64) ([]byte, error) {
	stmt, err := fs.conn.Prepare(`SELECT rowid, length(data) AS blobsize FROM sqlar WHERE name = $name`)
	if err != nil {
		return nil, err
	}
	stmt.SetText("$name", name)
	if _, err := stmt.Step(); err != nil {
		return nil, err
	}
	rowid := stmt.GetInt64("rowid")
	blobSize := stmt.GetInt64("blobsize")
	if err := stmt.Finalize(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	blob, err := fs.conn.OpenBlob("", "sqlar", "data", rowid, false)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	return decode(blob, blobSize, size)
}

func (fs *FS) Remove(name string) error {
	name = normalizeFilename(name)
	if _, err := fs.lookup(name); err != nil {
		return err
	}
	stmt, err := fs.conn.Prepare(`DELETE FROM sqlar WHERE name = $name`)
	if err != nil {
		return err
	}
	stmt.SetText("$name", name)
	return exec(stmt)
}

func (fs *FS) RemoveAll(p string) error {
	p = normalizeFilename(p)
	stmt, err := fs.conn.Prepare(`DELETE FROM sqlar WHERE name = $name OR name LIKE $prefix`)
	if err != nil {
		return err
	}
	stmt.SetText("$name", p)
	stmt.SetText("$prefix", strings.TrimSuffix(p, "/")+"/%")
	return exec(stmt)
}

func (fs *FS) Rename(oldname, newname string) error {
	oldname = normalizeFilename(oldname)
	newname = normalizeFilename(newname)
	if _, err := fs.lookup(oldname); err != nil {
		return err
	}

	stmt, err := fs.conn.Prepare(`UPDATE sqlar SET name = $newname || substr(name, length($oldname) + 1)
		WHERE name = $oldname OR name LIKE $prefix`)
	if err != nil {
		return err
	}
	stmt.SetText("$oldname", oldname)
	stmt.SetText("$newname", newname)
	stmt.SetText("$prefix", oldname+"/%")
	return exec(stmt)
}

func (fs *FS) Stat(name string) (os.FileInfo, error) {
	return fs.lookup(normalizeFilename(name))
}

func (fs *FS) Chmod(name string, mode os.FileMode) error {
	name = normalizeFilename(name)
	info, err := fs.lookup(name)
	if err != nil {
		return err
	}
	stmt, err := fs.conn.Prepare("UPDATE sqlar SET mode = $mode WHERE name = $name")
	if err != nil {
		return err
	}
	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", info.mode&^modePerm|int64(mode&modePerm))
	return exec(stmt)
}

func (fs *FS) Chown(name string, _, _ int) error {
	_, err := fs.lookup(normalizeFilename(name))
	return err
}

func (fs *FS) Chtimes(name string, _ time.Time, mtime time.Time) error {
	name = normalizeFilename(name)
	if _, err := fs.lookup(name); err != nil {
		return err
	}
	stmt, err := fs.conn.Prepare("UPDATE sqlar SET mtime = $mtime WHERE name = $name")
	if err != nil {
		return err
	}
	stmt.SetText("$name", name)
	stmt.SetInt64("$mtime", mtime.Unix())
	return exec(stmt)
}

func (fs *FS) exec(query string) error {
	stmt, err := fs.conn.Prepare(query)
	if err != nil {
		return err
	}
	return exec(stmt)
}

func exec(stmt *sqlite.Stmt) error {
	_, err := stmt.Step()
	if err != nil {
		return err
	}
	return stmt.Finalize()
}

// normalizeFilename returns the archive name of name, a slash separated
// path with a leading slash.
func normalizeFilename(name string) string {
	if name == "." || name == "" || name == "/" {
		return "/"
	}
	name = filepath.ToSlash(name)
	return "/" + strings.Trim(path.Clean(name), "/")
}
