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

// Package cmd implements the subcommands of the evidence command line tool.
package cmd

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forensicanalysis/evidence"
)

// configFlags maps config keys to their command line flags.
var configFlags = map[string]string{
	"skip_hashing":       "skip-hashing",
	"skip_cache":         "skip-cache",
	"hash_size_limit":    "hash-size-limit",
	"signature_size":     "signature-size",
	"spool_memory_limit": "spool-memory-limit",
	"sector_size":        "sector-size",
	"include_hidden":     "include-hidden",
	"cache_dir":          "cache-dir",
	"temp_dir":           "temp-dir",
}

// Root returns the evidence command with all subcommands.
func Root() *cobra.Command {
	var verbose bool
	var logDir string
	rootCmd := &cobra.Command{
		Use:           "evidence",
		Short:         "Access files in forensic evidence containers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			evidence.SetLogger(evidence.NewLogger(logDir, verbose))
		},
	}

	defaults := evidence.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (json, yaml or toml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flags.StringVar(&logDir, "log-dir", "", "additionally write logs to evidence.log in this directory")
	flags.Bool("skip-hashing", false, "do not calculate sha1 and signatures")
	flags.Bool("skip-cache", false, "hash in memory instead of using the evidence cache database")
	flags.Int64("hash-size-limit", defaults.HashSizeLimit, "maximum file size for sha1 calculation")
	flags.Int("signature-size", defaults.SignatureSize, "number of leading bytes stored as signature")
	flags.Int64("spool-memory-limit", defaults.SpoolMemoryLimit, "bytes of decoded archives held in memory")
	flags.Int64("sector-size", defaults.SectorSize, "sector size of disk images")
	flags.Bool("include-hidden", false, "include dot-prefixed files of directories and archives")
	flags.String("cache-dir", "", "directory for cache databases, defaults to the evidence directory")
	flags.String("temp-dir", "", "directory for temporary files")

	rootCmd.AddCommand(Ls(), Partitions(), Info(), Hash(), Export())
	return rootCmd
}

// loadConfig reads the configuration from the config file, EVIDENCE_*
// environment variables and the flags of cmd, in increasing priority.
func loadConfig(cmd *cobra.Command) (evidence.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, name := range configFlags {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return evidence.Config{}, err
			}
		}
	}

	if configFile, err := cmd.Flags().GetString("config"); err == nil && configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return evidence.Config{}, errors.Wrap(err, "could not read config")
		}
	}

	config := evidence.Config{}
	if err := v.Unmarshal(&config); err != nil {
		return evidence.Config{}, errors.Wrap(err, "could not parse config")
	}
	config = config.WithDefaults()
	return config, config.Validate()
}

// openEvidence opens the evidence at name with the configuration of cmd.
func openEvidence(cmd *cobra.Command, name string) (evidence.Accessor, evidence.Config, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, config, err
	}
	acc, err := evidence.Open(name, evidence.WithConfig(config))
	return acc, config, err
}

func requireEvidence(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return err
		}
		if _, err := os.Stat(args[0]); os.IsNotExist(err) {
			return errors.Wrap(evidence.ErrNotFound, args[0])
		}
		return nil
	}
}
