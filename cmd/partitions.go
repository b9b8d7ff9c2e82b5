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
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type partitionView struct {
	StartSector int64  `json:"start_sector"`
	EndSector   int64  `json:"end_sector"`
	Length      int64  `json:"length"`
	Type        string `json:"type"`
	Allocated   bool   `json:"allocated"`
	Files       int    `json:"files"`
}

// Partitions is the evidence partitions commandline subcommand.
func Partitions() *cobra.Command {
	var asJSON bool
	partitionsCmd := &cobra.Command{
		Use:   "partitions <evidence>",
		Short: "List the partitions of an evidence container",
		Args:  requireEvidence(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, _, err := openEvidence(cmd, args[0])
			if err != nil {
				return err
			}
			defer acc.Close()

			partitions, err := acc.Partitions()
			if err != nil {
				return err
			}
			views := make([]partitionView, 0, len(partitions))
			for _, p := range partitions {
				views = append(views, partitionView{
					StartSector: p.StartSector, EndSector: p.EndSector, Length: p.Length,
					Type: p.Type, Allocated: p.Allocated, Files: len(p.Files),
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.Marshal(views)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n", b)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "START\tEND\tLENGTH\tTYPE\tFILES")
			for _, v := range views {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%d\n", v.StartSector, v.EndSector, v.Length, v.Type, v.Files)
			}
			return w.Flush()
		},
	}
	partitionsCmd.Flags().BoolVar(&asJSON, "json", false, "print partitions as json")
	return partitionsCmd
}
