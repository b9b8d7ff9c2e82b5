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

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forensicanalysis/evidence"
	"github.com/forensicanalysis/evidence/cache"
)

// Hash is the evidence hash commandline subcommand. Several evidence
// containers are hashed in parallel, each with its own cache database.
func Hash() *cobra.Command {
	var workers int
	hashCmd := &cobra.Command{
		Use:   "hash <evidence>...",
		Short: "Calculate sha1 digests and signatures and store them in the evidence cache",
		Args:  requireEvidence(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			results := make([]cache.Stats, len(args))
			g := errgroup.Group{}
			g.SetLimit(workers)
			for i, arg := range args {
				i, arg := i, arg
				g.Go(func() error {
					acc, err := evidence.Open(arg, evidence.WithConfig(config))
					if err != nil {
						return err
					}
					defer acc.Close()
					results[i], err = cache.Populate(acc, config)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, arg := range args {
				s := results[i]
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d inserted, %d updated, %d loaded, %d hashed, %d skipped\n",
					arg, s.Inserted, s.Updated, s.Loaded, s.Hashed, s.Skipped)
			}
			return nil
		},
	}
	hashCmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "number of evidence containers hashed in parallel")
	return hashCmd
}
