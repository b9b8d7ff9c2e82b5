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
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/maruel/natural"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/evidence"
	"github.com/forensicanalysis/evidence/cache"
)

// Ls is the evidence ls commandline subcommand.
func Ls() *cobra.Command {
	var asJSON bool
	lsCmd := &cobra.Command{
		Use:   "ls <evidence>",
		Short: "List the files of an evidence container",
		Args:  requireEvidence(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, config, err := openEvidence(cmd, args[0])
			if err != nil {
				return err
			}
			defer acc.Close()

			if _, err := cache.Populate(acc, config); err != nil {
				return err
			}
			files, err := acc.Files()
			if err != nil {
				return err
			}
			files = append([]*evidence.File{}, files...)
			sort.SliceStable(files, func(i, j int) bool { return natural.Less(files[i].FullPath, files[j].FullPath) })

			out := cmd.OutOrStdout()
			if asJSON {
				var elements []map[string]interface{}
				for _, f := range files {
					elements = append(elements, f.Map())
				}
				b, err := json.Marshal(elements)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n", b)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.FullPath, humanize.Bytes(uint64(f.Size)), f.SHA1)
			}
			return w.Flush()
		},
	}
	lsCmd.Flags().BoolVar(&asJSON, "json", false, "print files as json")
	return lsCmd
}
