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

// Package cache persists the SHA-1 digests and signatures of evidence files
// in a SQLite database next to the evidence, so repeated runs only hash
// files that are new or were not hashed before.
package cache

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidence"
)

const (
	cacheVersion  = 1
	applicationID = 1701602913
)

var filesColumns = []string{
	"a_time", "cr_time", "evidence_name", "file_size", "full_path", "id",
	"inode", "m_time", "partition_sector", "sha1", "signature",
}

const filesTable = `CREATE TABLE files(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  evidence_name TEXT,
  file_size INTEGER,
  full_path TEXT,
  inode INTEGER,
  partition_sector INTEGER,
  sha1 TEXT,
  signature TEXT,
  a_time INTEGER,
  cr_time INTEGER,
  m_time INTEGER,
  UNIQUE(inode, full_path)
);`

const evidenceTable = `CREATE TABLE evidence(
  store_id TEXT,
  evidence_path TEXT,
  created INTEGER
);`

// Stats counts what a reconciliation did.
type Stats struct {
	// Inserted files were unknown to the store and got hashed.
	Inserted int
	// Updated rows had missing digests or signatures.
	Updated int
	// Loaded files took their values from the store.
	Loaded int
	// Hashed files were hashed in memory without a store.
	Hashed int
	// Skipped files could not be read.
	Skipped int
}

// Writes returns the number of rows written to the store.
func (s Stats) Writes() int {
	return s.Inserted + s.Updated
}

// Store is an open evidence cache database.
type Store struct {
	path     string
	name     string
	evidence string
	conn     *sqlite.Conn
	config   evidence.Config
}

// Path returns the location of the cache database for the evidence at
// evidencePath: <name>.db beside the evidence or in config.CacheDir. The
// extension of the evidence is kept, so img.E01 and img.dd get distinct
// databases.
func Path(evidencePath string, config evidence.Config) string {
	evidencePath = strings.TrimRight(evidencePath, "/")
	base := filepath.Base(evidencePath) + ".db"
	if config.CacheDir != "" {
		return filepath.Join(config.CacheDir, base)
	}
	return filepath.Join(filepath.Dir(evidencePath), base)
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	stmt, err := conn.Prepare("PRAGMA " + name)
	if err != nil {
		return 0, err
	}
	_, err = stmt.Step()
	if err != nil {
		return 0, err
	}
	i := stmt.GetInt64(name)
	return i, stmt.Finalize()
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	stmt, err := conn.Prepare("PRAGMA " + name + " = " + fmt.Sprint(i))
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

func execQuery(conn *sqlite.Conn, query string) error {
	stmt, err := conn.Prepare(query)
	if err != nil {
		return err
	}
	return exec(stmt)
}

// Open opens the cache database of the evidence at evidencePath. A missing
// database is created. A database with an unexpected schema is renamed to
// <path><unix nanoseconds>.save and replaced by a new one.
func Open(evidencePath string, config evidence.Config) (*Store, error) {
	config = config.WithDefaults()
	store := &Store{
		path:     Path(evidencePath, config),
		name:     filepath.Base(strings.TrimRight(evidencePath, "/")),
		evidence: evidencePath,
		config:   config,
	}

	_, err := os.Stat(store.path)
	switch {
	case os.IsNotExist(err):
		logger().Info("creating cache", "path", store.path)
		if err := store.create(); err != nil {
			store.Close() // nolint:errcheck
			return nil, err
		}
		return store, nil
	case err != nil:
		return nil, errors.Wrapf(evidence.ErrResourceAccess, "%s: %s", store.path, err)
	}

	conn, err := sqlite.OpenConn(store.path, 0)
	if err == nil {
		store.conn = conn
		err = store.verify()
		if err == nil {
			return store, nil
		}
	}
	if err := store.rebuild(err); err != nil {
		return nil, err
	}
	return store, nil
}

// rebuild closes the database, renames it to <path><unix nanoseconds>.save and
// creates a new one.
func (s *Store) rebuild(cause error) error {
	s.Close() // nolint:errcheck

	saved := s.path + fmt.Sprint(time.Now().UnixNano()) + ".save"
	logger().Warn("archiving unusable cache", "path", s.path, "archive", saved, "error", cause)
	if err := os.Rename(s.path, saved); err != nil {
		return errors.Wrapf(evidence.ErrResourceAccess, "%s: %s", s.path, err)
	}
	if err := s.create(); err != nil {
		s.Close() // nolint:errcheck
		return err
	}
	return nil
}

func logger() *slog.Logger {
	return evidence.Logger().With("component", "cache")
}

func (s *Store) create() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return errors.Wrapf(evidence.ErrResourceAccess, "%s: %s", s.path, err)
	}

	var err error
	s.conn, err = sqlite.OpenConn(s.path, 0)
	if err != nil {
		return errors.Wrapf(evidence.ErrResourceAccess, "%s: %s", s.path, err)
	}

	if err := setPragma(s.conn, "application_id", applicationID); err != nil {
		return err
	}
	if err := setPragma(s.conn, "user_version", cacheVersion); err != nil {
		return err
	}
	for _, query := range []string{filesTable, evidenceTable} {
		if err := execQuery(s.conn, query); err != nil {
			return errors.Wrap(err, "could not create cache tables")
		}
	}

	stmt, err := s.conn.Prepare("INSERT INTO evidence (store_id, evidence_path, created) VALUES ($id, $path, $created)")
	if err != nil {
		return err
	}
	stmt.SetText("$id", uuid.New().String())
	stmt.SetText("$path", s.evidence)
	stmt.SetInt64("$created", time.Now().Unix())
	return exec(stmt)
}

func (s *Store) verify() error {
	id, err := pragma(s.conn, "application_id")
	if err != nil {
		return err
	}
	if id != applicationID {
		msg := "wrong file format (application_id is %d, requires %d)"
		return fmt.Errorf(msg, id, applicationID)
	}

	version, err := pragma(s.conn, "user_version")
	if err != nil {
		return err
	}
	if version != cacheVersion {
		msg := "wrong file format (user_version is %d, requires %d)"
		return fmt.Errorf(msg, version, cacheVersion)
	}

	stmt, err := s.conn.Prepare(`PRAGMA table_info ("files")`)
	if err != nil {
		return err
	}
	var columns []string
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return err
		} else if !hasRow {
			break
		}
		columns = append(columns, stmt.GetText("name"))
	}
	if err := stmt.Finalize(); err != nil {
		return err
	}
	sort.Strings(columns)
	if strings.Join(columns, ",") != strings.Join(filesColumns, ",") {
		return fmt.Errorf("wrong file format (files columns are %v)", columns)
	}
	return nil
}

// StoreID returns the uuid recorded when the database was created.
func (s *Store) StoreID() (string, error) {
	stmt, err := s.conn.Prepare("SELECT store_id FROM evidence LIMIT 1")
	if err != nil {
		return "", err
	}
	hasRow, err := stmt.Step()
	if err != nil {
		return "", err
	}
	if !hasRow {
		return "", stmt.Finalize()
	}
	id := stmt.GetText("store_id")
	return id, stmt.Finalize()
}

// Path returns the location of the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Populate fills the digests and signatures of the files of acc according
// to config. Without hashing nothing is done. Without cache every file is
// hashed in memory. Otherwise the files are reconciled with the cache
// database of the evidence.
func Populate(acc evidence.Accessor, config evidence.Config) (Stats, error) {
	config = config.WithDefaults()
	if config.SkipHashing {
		return Stats{}, nil
	}
	files, err := acc.Files()
	if err != nil {
		return Stats{}, err
	}

	if config.SkipCache {
		stats := Stats{}
		for _, f := range files {
			if err := f.PopulateHashAndSignature(config.SignatureSize, config.HashSizeLimit); err != nil {
				logger().Warn("could not hash file", "path", f.FullPath, "error", err)
				stats.Skipped++
				continue
			}
			stats.Hashed++
		}
		return stats, nil
	}

	store, err := Open(acc.Path(), config)
	if err != nil {
		return Stats{}, err
	}
	stats, err := store.Reconcile(files)
	if err != nil {
		// a store that breaks during reconciliation is rebuilt once
		if err := store.rebuild(err); err != nil {
			return Stats{}, err
		}
		stats, err = store.Reconcile(files)
		if err != nil {
			store.Close() // nolint:errcheck
			return stats, err
		}
	}
	return stats, store.Close()
}

func nullable(stmt *sqlite.Stmt, param string, t *time.Time) {
	if t == nil {
		stmt.SetNull(param)
		return
	}
	stmt.SetInt64(param, t.Unix())
}

func setDigests(stmt *sqlite.Stmt, f *evidence.File) {
	if f.SHA1 == "" {
		stmt.SetNull("$sha1")
	} else {
		stmt.SetText("$sha1", f.SHA1)
	}
	if f.Signature == nil {
		stmt.SetNull("$signature")
	} else {
		stmt.SetText("$signature", hex.EncodeToString(f.Signature))
	}
}
