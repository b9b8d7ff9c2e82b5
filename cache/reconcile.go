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

package cache

import (
	"encoding/hex"

	"crawshaw.io/sqlite"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidence"
)

type row struct {
	id        int64
	size      int64
	sha1      string
	sha1Null  bool
	signature string
	sigNull   bool
}

// incomplete reports whether the row still misses values that can be
// computed.
func (r row) incomplete(sizeLimit int64) bool {
	return (r.sha1Null && r.size <= sizeLimit) || (r.sigNull && r.size > 0)
}

// Reconcile brings files and the database in sync. Files unknown to the
// database are hashed and inserted, rows with missing values are hashed and
// updated, and all other files get their values from the database. Running
// it twice on the same files does not write on the second run.
func (s *Store) Reconcile(files []*evidence.File) (stats Stats, err error) {
	log := logger()

	rows, err := s.rows()
	if err != nil {
		return stats, err
	}

	if err := execQuery(s.conn, "BEGIN"); err != nil {
		return stats, err
	}
	defer func() {
		if err != nil {
			execQuery(s.conn, "ROLLBACK") // nolint:errcheck
			return
		}
		err = execQuery(s.conn, "COMMIT")
	}()

	insert, err := s.conn.Prepare(`INSERT INTO files
		(evidence_name, file_size, full_path, inode, partition_sector, sha1, signature, a_time, cr_time, m_time)
		VALUES ($evidence, $size, $path, $inode, $sector, $sha1, $signature, $atime, $crtime, $mtime)`)
	if err != nil {
		return stats, err
	}
	defer insert.Finalize() // nolint:errcheck

	update, err := s.conn.Prepare("UPDATE files SET sha1 = $sha1, signature = $signature, file_size = $size WHERE id = $id")
	if err != nil {
		return stats, err
	}
	defer update.Finalize() // nolint:errcheck

	for _, f := range files {
		r, known := rows[f.Key()]
		switch {
		case !known:
			if err := f.PopulateHashAndSignature(s.config.SignatureSize, s.config.HashSizeLimit); err != nil {
				log.Warn("could not hash file", "path", f.FullPath, "error", err)
				stats.Skipped++
				continue
			}
			if err := s.insert(insert, f); err != nil {
				return stats, errors.Wrapf(err, "could not insert %s", f.FullPath)
			}
			stats.Inserted++
		case r.incomplete(s.config.HashSizeLimit):
			if err := f.PopulateHashAndSignature(s.config.SignatureSize, s.config.HashSizeLimit); err != nil {
				log.Warn("could not hash file", "path", f.FullPath, "error", err)
				stats.Skipped++
				continue
			}
			update.SetInt64("$id", r.id)
			update.SetInt64("$size", f.Size)
			setDigests(update, f)
			if err := step(update); err != nil {
				return stats, errors.Wrapf(err, "could not update %s", f.FullPath)
			}
			stats.Updated++
		default:
			if !r.sha1Null {
				f.SHA1 = r.sha1
			}
			if !r.sigNull {
				signature, err := hex.DecodeString(r.signature)
				if err != nil {
					log.Warn("invalid signature in cache", "path", f.FullPath, "error", err)
				} else {
					f.Signature = signature
				}
			}
			stats.Loaded++
		}
	}
	log.Debug("reconciled cache", "path", s.path, "inserted", stats.Inserted, "updated", stats.Updated,
		"loaded", stats.Loaded, "skipped", stats.Skipped)
	return stats, nil
}

func (s *Store) rows() (map[evidence.FileKey]row, error) {
	stmt, err := s.conn.Prepare(`SELECT id, inode, full_path, file_size, sha1, signature,
		CASE WHEN sha1 IS NULL THEN 'TRUE' ELSE 'FALSE' END sha1Null,
		CASE WHEN signature IS NULL THEN 'TRUE' ELSE 'FALSE' END signatureNull
		FROM files`)
	if err != nil {
		return nil, err
	}

	rows := map[evidence.FileKey]row{}
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		key := evidence.FileKey{Inode: uint64(stmt.GetInt64("inode")), FullPath: stmt.GetText("full_path")}
		rows[key] = row{
			id:        stmt.GetInt64("id"),
			size:      stmt.GetInt64("file_size"),
			sha1:      stmt.GetText("sha1"),
			sha1Null:  stmt.GetText("sha1Null") == "TRUE",
			signature: stmt.GetText("signature"),
			sigNull:   stmt.GetText("signatureNull") == "TRUE",
		}
	}
	return rows, stmt.Finalize()
}

func (s *Store) insert(stmt *sqlite.Stmt, f *evidence.File) error {
	stmt.SetText("$evidence", s.name)
	stmt.SetInt64("$size", f.Size)
	stmt.SetText("$path", f.FullPath)
	stmt.SetInt64("$inode", int64(f.Inode))
	stmt.SetInt64("$sector", f.PartitionSector)
	setDigests(stmt, f)
	nullable(stmt, "$atime", f.Timestamps.Accessed)
	nullable(stmt, "$crtime", f.Timestamps.Created)
	nullable(stmt, "$mtime", f.Timestamps.Modified)
	return step(stmt)
}

// step executes a reusable statement.
func step(stmt *sqlite.Stmt) error {
	if _, err := stmt.Step(); err != nil {
		return err
	}
	if err := stmt.Reset(); err != nil {
		return err
	}
	return stmt.ClearBindings()
}
