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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{HashSizeLimit: 10, SectorSize: 4096}.WithDefaults()
	assert.Equal(t, int64(10), got.HashSizeLimit)
	assert.Equal(t, int64(4096), got.SectorSize)
	assert.Equal(t, 8, got.SignatureSize)
	assert.Equal(t, int64(64<<20), got.SpoolMemoryLimit)

	zero := Config{}.WithDefaults()
	assert.Equal(t, DefaultConfig(), zero)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero hash size limit", Config{SignatureSize: 8, SectorSize: 512, SpoolMemoryLimit: 1}, true},
		{"zero spool memory limit", Config{HashSizeLimit: 1, SignatureSize: 8, SectorSize: 512}, true},
		{"odd sector size", Config{HashSizeLimit: 1, SignatureSize: 8, SectorSize: 513, SpoolMemoryLimit: 1}, true},
		{"huge signature", Config{HashSizeLimit: 1, SignatureSize: 5000, SectorSize: 512, SpoolMemoryLimit: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
