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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
)

// Config controls hashing, caching and enumeration of evidence sources. The
// zero value is usable and is completed by DefaultConfig.
type Config struct {
	// SkipHashing disables SHA-1 and signature population.
	SkipHashing bool `json:"skip_hashing" mapstructure:"skip_hashing"`
	// SkipCache hashes in memory on every run instead of using the
	// per-evidence cache database.
	SkipCache bool `json:"skip_cache" mapstructure:"skip_cache"`
	// HashSizeLimit is the maximum file size for SHA-1 calculation. Zero
	// selects the default.
	HashSizeLimit int64 `json:"hash_size_limit" mapstructure:"hash_size_limit"`
	// SignatureSize is the number of leading bytes stored as signature.
	SignatureSize int `json:"signature_size" mapstructure:"signature_size"`
	// SpoolMemoryLimit is the number of bytes a decoded payload may hold in
	// memory before it is moved to a temporary file. Zero selects the
	// default.
	SpoolMemoryLimit int64 `json:"spool_memory_limit" mapstructure:"spool_memory_limit"`
	SectorSize       int64 `json:"sector_size" mapstructure:"sector_size"`
	// IncludeHidden keeps dot-prefixed entries of directories and archives.
	IncludeHidden bool   `json:"include_hidden" mapstructure:"include_hidden"`
	CacheDir      string `json:"cache_dir" mapstructure:"cache_dir"`
	TempDir       string `json:"temp_dir" mapstructure:"temp_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HashSizeLimit:    100000000,
		SignatureSize:    8,
		SpoolMemoryLimit: 64 << 20,
		SectorSize:       512,
	}
}

// WithDefaults fills all unset fields of c from DefaultConfig.
func (c Config) WithDefaults() Config {
	if err := mergo.Merge(&c, DefaultConfig()); err != nil {
		logger.Warn("could not merge default config", "error", err)
	}
	return c
}

const configSchema = `{
	"type": "object",
	"properties": {
		"skip_hashing": {"type": "boolean"},
		"skip_cache": {"type": "boolean"},
		"hash_size_limit": {"type": "integer", "minimum": 1},
		"signature_size": {"type": "integer", "minimum": 1, "maximum": 4096},
		"spool_memory_limit": {"type": "integer", "minimum": 1},
		"sector_size": {"type": "integer", "enum": [512, 1024, 2048, 4096]},
		"include_hidden": {"type": "boolean"},
		"cache_dir": {"type": "string"},
		"temp_dir": {"type": "string"}
	},
	"required": ["hash_size_limit", "signature_size", "sector_size"]
}`

// Validate checks the configuration against the config schema.
func (c Config) Validate() error {
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(configSchema), schema); err != nil {
		return errors.Wrap(err, "could not load config schema")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	keyErrors, err := schema.ValidateBytes(context.Background(), data)
	if err != nil {
		return err
	}
	if len(keyErrors) > 0 {
		var flaws []string
		for _, keyError := range keyErrors {
			flaws = append(flaws, fmt.Sprintf("%s: %s", keyError.PropertyPath, keyError.Message))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(flaws, ", "))
	}
	return nil
}
