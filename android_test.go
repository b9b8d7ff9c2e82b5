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
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" // #nosec
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

const testRounds = 10

var (
	testUserSalt     = bytes.Repeat([]byte{0x01}, 64)
	testChecksumSalt = bytes.Repeat([]byte{0x02}, 64)
	testUserIV       = bytes.Repeat([]byte{0x03}, 16)
	testMasterIV     = bytes.Repeat([]byte{0x04}, 16)
)

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 9)
	}
	return key
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func encrypt(t *testing.T, key, iv, plain []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	padded := pad(plain)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

type backupOptions struct {
	version    int
	compressed bool
	encrypted  bool
	password   string
	corrupt    bool
}

func buildAndroidBackup(t *testing.T, tarData []byte, o backupOptions) []byte {
	payload := tarData
	if o.compressed {
		buf := &bytes.Buffer{}
		zw := zlib.NewWriter(buf)
		_, err := zw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		payload = buf.Bytes()
	}

	header := fmt.Sprintf("ANDROID BACKUP\n%d\n%d\n", o.version, map[bool]int{false: 0, true: 1}[o.compressed])
	if !o.encrypted {
		return append([]byte(header+"none\n"), payload...)
	}

	masterKey := testMasterKey()
	checksumInput := masterKey
	if o.version >= 2 {
		checksumInput = expandKeyBytes(masterKey)
	}
	checksum := pbkdf2.Key(checksumInput, testChecksumSalt, testRounds, 32, sha1.New)

	var blob []byte
	for _, field := range [][]byte{testMasterIV, masterKey, checksum} {
		blob = append(blob, byte(len(field)))
		blob = append(blob, field...)
	}
	userKey := pbkdf2.Key([]byte(o.password), testUserSalt, testRounds, 32, sha1.New)
	encryptedBlob := encrypt(t, userKey, testUserIV, blob)
	if o.corrupt {
		encryptedBlob[40] ^= 0x01
	}

	header += fmt.Sprintf("AES-256\n%X\n%X\n%d\n%X\n%X\n",
		testUserSalt, testChecksumSalt, testRounds, testUserIV, encryptedBlob)
	return append([]byte(header), encrypt(t, masterKey, testMasterIV, payload)...)
}

func TestExpandKeyBytes(t *testing.T) {
	got := expandKeyBytes([]byte{0x41, 0x80, 0xff, 0x7f})
	assert.Equal(t, []byte{0x41, 0xef, 0xbe, 0x80, 0xef, 0xbf, 0xbf, 0x7f}, got)
}

func TestReadAndroidBackupHeader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *AndroidBackupHeader
		wantErr bool
	}{
		{"plain", "ANDROID BACKUP\n5\n1\nnone\nrest", &AndroidBackupHeader{Version: 5, Compressed: true, Encryption: "none"}, false},
		{"wrong magic", "ANDROID BACKUPX\n5\n1\nnone\n", nil, true},
		{"unknown encryption", "ANDROID BACKUP\n5\n1\nROT13\n", nil, true},
		{"truncated", "ANDROID BACKUP\n5\n", nil, true},
		{"bad hex", "ANDROID BACKUP\n5\n1\nAES-256\nZZ\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufioReader(tt.input)
			got, err := ReadAndroidBackupHeader(r)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrContainerFormat), err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			rest, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "rest", string(rest))
		})
	}
}

func TestOpenAndroidBackup(t *testing.T) {
	tarData := buildTar(t, []testEntry{
		{name: "apps/com.example/f/a.txt", data: "hello"},
		{name: "apps/com.example/_manifest", data: "manifest"},
	})

	tests := []struct {
		name         string
		options      backupOptions
		passwordPath string
		wantErr      error
	}{
		{"plain", backupOptions{version: 1}, "", nil},
		{"compressed", backupOptions{version: 5, compressed: true}, "", nil},
		{"encrypted v1", backupOptions{version: 1, encrypted: true, password: "pw"}, "/case/password.txt", nil},
		{"encrypted compressed v5", backupOptions{version: 5, compressed: true, encrypted: true, password: "pw"}, "/case/password.txt", nil},
		{"password in parent", backupOptions{version: 5, compressed: true, encrypted: true, password: "pw"}, "/password.txt", nil},
		{"password missing", backupOptions{version: 5, encrypted: true, password: "pw"}, "", ErrPasswordMissing},
		{"wrong password", backupOptions{version: 5, encrypted: true, password: "other"}, "/case/password.txt", ErrDecryptionIntegrity},
		{"corrupted master key blob", backupOptions{version: 5, encrypted: true, password: "pw", corrupt: true}, "/case/password.txt", ErrDecryptionIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/case/backup.ab", buildAndroidBackup(t, tarData, tt.options), 0644))
			if tt.passwordPath != "" {
				require.NoError(t, afero.WriteFile(fs, tt.passwordPath, []byte("pw\nsecond line\n"), 0644))
			}

			acc, err := OpenAndroidBackup("/case/backup.ab", WithFs(fs))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), err)
				return
			}
			require.NoError(t, err)
			defer acc.Close()

			plain, err := io.ReadAll(acc.Tar())
			require.NoError(t, err)
			assert.Equal(t, tarData, plain)

			files, err := acc.Files()
			require.NoError(t, err)
			assert.Equal(t, []string{"/apps/com.example/f/a.txt", "/apps/com.example/_manifest"}, paths(files))

			data, err := files[0].ReadAll()
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))

			partitions, err := acc.Partitions()
			require.NoError(t, err)
			assert.Equal(t, "Android Backup", partitions[0].Type)
		})
	}
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}
