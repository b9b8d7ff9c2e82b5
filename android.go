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
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1" // #nosec
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/crypto/pbkdf2"

	"github.com/forensicanalysis/evidence/spooled"
)

const (
	androidMagic         = "ANDROID BACKUP"
	androidEncryptionAES = "AES-256"
	androidEncryptNone   = "none"
	androidKeyLength     = 32
	androidMaxRounds     = 10000000
)

// AndroidBackupHeader is the text header of an Android backup file.
type AndroidBackupHeader struct {
	Version       int
	Compressed    bool
	Encryption    string
	UserSalt      []byte
	ChecksumSalt  []byte
	Rounds        int
	UserIV        []byte
	MasterKeyBlob []byte
}

// Encrypted reports whether the payload is encrypted.
func (h *AndroidBackupHeader) Encrypted() bool {
	return h.Encryption == androidEncryptionAES
}

type headerStage int

const (
	stageMagic headerStage = iota
	stageVersion
	stageCompression
	stageEncryption
	stageUserSalt
	stageChecksumSalt
	stageRounds
	stageUserIV
	stageMasterKeyBlob
	stageDone
)

var stageNames = map[headerStage]string{
	stageMagic:         "magic",
	stageVersion:       "version",
	stageCompression:   "compression flag",
	stageEncryption:    "encryption",
	stageUserSalt:      "user salt",
	stageChecksumSalt:  "checksum salt",
	stageRounds:        "rounds",
	stageUserIV:        "user iv",
	stageMasterKeyBlob: "master key blob",
}

// ReadAndroidBackupHeader parses the header lines from r. After it returns,
// r is positioned at the start of the payload.
func ReadAndroidBackupHeader(r *bufio.Reader) (*AndroidBackupHeader, error) {
	h := &AndroidBackupHeader{}
	stage := stageMagic
	for stage != stageDone {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, containerError(err, "android backup: %s", stageNames[stage])
		}
		line = strings.TrimSuffix(line, "\n")

		next, err := h.parseLine(stage, line)
		if err != nil {
			return nil, containerError(err, "android backup: %s", stageNames[stage])
		}
		stage = next
	}
	return h, nil
}

func (h *AndroidBackupHeader) parseLine(stage headerStage, line string) (headerStage, error) {
	var err error
	switch stage {
	case stageMagic:
		if line != androidMagic {
			return stage, fmt.Errorf("unexpected magic %q", line)
		}
	case stageVersion:
		h.Version, err = strconv.Atoi(line)
	case stageCompression:
		var flag int
		flag, err = strconv.Atoi(line)
		h.Compressed = flag == 1
	case stageEncryption:
		h.Encryption = line
		switch line {
		case androidEncryptNone:
			return stageDone, nil
		case androidEncryptionAES:
		default:
			return stage, fmt.Errorf("unknown encryption %q", line)
		}
	case stageUserSalt:
		h.UserSalt, err = hex.DecodeString(line)
	case stageChecksumSalt:
		h.ChecksumSalt, err = hex.DecodeString(line)
	case stageRounds:
		h.Rounds, err = strconv.Atoi(line)
		if err == nil && (h.Rounds <= 0 || h.Rounds > androidMaxRounds) {
			err = fmt.Errorf("invalid round count %d", h.Rounds)
		}
	case stageUserIV:
		h.UserIV, err = hex.DecodeString(line)
	case stageMasterKeyBlob:
		h.MasterKeyBlob, err = hex.DecodeString(line)
	}
	return stage + 1, err
}

// MasterKey derives the user key from password, decrypts the master key
// blob and verifies its checksum. It returns the payload key and IV.
func (h *AndroidBackupHeader) MasterKey(password string) (key, iv []byte, err error) {
	userKey := pbkdf2.Key([]byte(password), h.UserSalt, h.Rounds, androidKeyLength, sha1.New)

	block, err := aes.NewCipher(userKey)
	if err != nil {
		return nil, nil, err
	}
	if len(h.UserIV) != aes.BlockSize || len(h.MasterKeyBlob) == 0 || len(h.MasterKeyBlob)%aes.BlockSize != 0 {
		return nil, nil, errors.Wrap(ErrDecryptionIntegrity, "malformed master key blob")
	}
	blob := make([]byte, len(h.MasterKeyBlob))
	cipher.NewCBCDecrypter(block, h.UserIV).CryptBlocks(blob, h.MasterKeyBlob)

	var fields [3][]byte
	pos := 0
	for i := range fields {
		if pos >= len(blob) {
			return nil, nil, errors.WithStack(ErrDecryptionIntegrity)
		}
		length := int(blob[pos])
		pos++
		if pos+length > len(blob) {
			return nil, nil, errors.WithStack(ErrDecryptionIntegrity)
		}
		fields[i] = blob[pos : pos+length]
		pos += length
	}
	iv, key, checksum := fields[0], fields[1], fields[2]

	checksumInput := key
	if h.Version >= 2 {
		checksumInput = expandKeyBytes(key)
	}
	expected := pbkdf2.Key(checksumInput, h.ChecksumSalt, h.Rounds, androidKeyLength, sha1.New)
	if !hmac.Equal(expected, checksum) {
		return nil, nil, errors.WithStack(ErrDecryptionIntegrity)
	}
	if len(key) != androidKeyLength || len(iv) != aes.BlockSize {
		return nil, nil, errors.WithStack(ErrDecryptionIntegrity)
	}
	return key, iv, nil
}

// expandKeyBytes reproduces how Android encodes the master key bytes before
// the checksum derivation. Bytes with the high bit set are treated as
// sign-extended 16 bit chars and written as three byte UTF-8 sequences.
func expandKeyBytes(key []byte) []byte {
	out := make([]byte, 0, len(key)*3)
	for _, b := range key {
		if b < 0x80 {
			out = append(out, b)
			continue
		}
		c := 0xff00 | uint16(b)
		out = append(out,
			byte(0xe0|(c>>12)),
			byte(0x80|((c>>6)&0x3f)),
			byte(0x80|(c&0x3f)),
		)
	}
	return out
}

// cbcReader decrypts an AES-CBC stream and strips the PKCS#7 padding of the
// final block.
type cbcReader struct {
	src  io.Reader
	mode cipher.BlockMode
	buf  []byte
	held []byte
	eof  bool
}

func newCBCReader(src io.Reader, key, iv []byte) (*cbcReader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &cbcReader{src: src, mode: cipher.NewCBCDecrypter(block, iv)}, nil
}

func (c *cbcReader) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *cbcReader) fill() error {
	chunk := make([]byte, 64*aes.BlockSize*32)
	n, err := io.ReadFull(c.src, chunk)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		c.eof = true
	case err != nil:
		return err
	}
	if n%aes.BlockSize != 0 {
		return errors.New("payload is not block aligned")
	}
	c.mode.CryptBlocks(chunk[:n], chunk[:n])
	data := append(c.held, chunk[:n]...)

	if !c.eof {
		cut := len(data) - aes.BlockSize
		c.buf = data[:cut]
		c.held = append([]byte{}, data[cut:]...)
		return nil
	}

	c.held = nil
	if len(data) == 0 {
		return errors.New("empty encrypted payload")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return errors.New("invalid payload padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return errors.New("invalid payload padding")
		}
	}
	c.buf = data[:len(data)-padding]
	return nil
}

// AndroidBackup gives access to the files of an Android backup (.ab). The
// payload is decrypted and decompressed into a spool and indexed as tar.
type AndroidBackup struct {
	virtualPartition
	path   string
	header *AndroidBackupHeader
	spool  *spooled.TemporaryFile
}

// OpenAndroidBackup unpacks the Android backup at name. Encrypted backups
// need a password.txt beside the backup or in its parent directory.
func OpenAndroidBackup(name string, opts ...Option) (*AndroidBackup, error) {
	o := newOptions(opts)
	log := sub("android")

	f, err := o.fs.Open(name)
	if err != nil {
		return nil, accessError(err, name)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := ReadAndroidBackupHeader(r)
	if err != nil {
		return nil, err
	}

	a := &AndroidBackup{path: name, header: header}
	payload, err := a.payloadReader(o.fs, r)
	if err != nil {
		return nil, err
	}

	var spoolClose func() error
	a.spool, spoolClose = spooled.New(o.config.SpoolMemoryLimit, o.config.TempDir)
	if _, err := io.Copy(a.spool, payload); err != nil {
		spoolClose() // nolint:errcheck
		if errors.Is(err, ErrDecryptionIntegrity) {
			return nil, err
		}
		return nil, containerError(err, "%s: payload", name)
	}
	log.Debug("unpacked android backup", "path", name, "version", header.Version,
		"encrypted", header.Encrypted(), "compressed", header.Compressed, "size", a.spool.Size())

	files, err := indexTar(a.spool, a.spool.Size(), o.config.IncludeHidden)
	if err != nil {
		spoolClose() // nolint:errcheck
		return nil, containerError(err, "%s: tar", name)
	}
	a.virtualPartition = virtualPartition{label: "Android Backup", files: files, listed: true}
	return a, nil
}

func (a *AndroidBackup) payloadReader(fs afero.Fs, r io.Reader) (io.Reader, error) {
	payload := r
	if a.header.Encrypted() {
		password, err := lookupPassword(fs, filepath.Dir(a.path))
		if err != nil {
			return nil, err
		}
		key, iv, err := a.header.MasterKey(password)
		if err != nil {
			return nil, errors.Wrap(err, a.path)
		}
		payload, err = newCBCReader(r, key, iv)
		if err != nil {
			return nil, err
		}
	}

	if a.header.Compressed {
		zr, err := zlib.NewReader(payload)
		if err != nil {
			return nil, containerError(err, "%s: inflate", a.path)
		}
		payload = zr
	}
	return payload, nil
}

// Header returns the parsed backup header.
func (a *AndroidBackup) Header() *AndroidBackupHeader { return a.header }

// Tar returns the decrypted and decompressed tar stream.
func (a *AndroidBackup) Tar() *io.SectionReader {
	return io.NewSectionReader(a.spool, 0, a.spool.Size())
}

func (a *AndroidBackup) Kind() Kind   { return KindAndroidBackup }
func (a *AndroidBackup) Path() string { return a.path }

func (a *AndroidBackup) FileSystemHandles() (map[int64]interface{}, error) {
	return map[int64]interface{}{0: a}, nil
}

func (a *AndroidBackup) Close() error {
	a.release()
	if a.spool == nil {
		return nil
	}
	err := a.spool.Close()
	a.spool = nil
	return err
}
