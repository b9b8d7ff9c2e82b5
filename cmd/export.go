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

	"github.com/spf13/cobra"

	"github.com/forensicanalysis/evidence/export"
)

// Export is the evidence export commandline subcommand.
func Export() *cobra.Command {
	var folders, paths []string
	var mode string
	exportCmd := &cobra.Command{
		Use:   "export <evidence> <directory or .sqlar file>",
		Short: "Copy files out of an evidence container",
		Args:  requireEvidence(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportMode, err := export.ParseMode(mode)
			if err != nil {
				return err
			}

			acc, _, err := openEvidence(cmd, args[0])
			if err != nil {
				return err
			}
			defer acc.Close()

			files, err := acc.Files()
			if err != nil {
				return err
			}
			files, err = export.Select(files, folders, paths)
			if err != nil {
				return err
			}

			dest, closer, err := export.OpenDestination(args[1])
			if err != nil {
				return err
			}
			defer closer.Close()

			result, err := export.New(dest, exportMode).Export(files)
			if err != nil {
				return err
			}
			for _, f := range files {
				if destination, ok := result.Exported[f.FullPath]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "export '%s' to '%s'\n", f.FullPath, destination)
				}
			}
			if len(result.Skipped) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d files could not be exported\n", len(result.Skipped))
			}
			return nil
		},
	}

	usage := `define the export filename and folder structure. can be one of:
folder (e.g. 'C/Users/user/AppData/Local/Google/Chrome/User Data/Default/Extensions/xx/1.11_1/example.json')
compact (e.g. 'C_User_user_AppD_Loca_Goog_Chro_User_Defa_Exte_xx_1.11_exam.json')
basename (e.g. 'example.json')
`
	exportCmd.Flags().StringVar(&mode, "mode", string(export.ModeCompact), usage)
	exportCmd.Flags().StringSliceVar(&folders, "folder", nil, "export files below this folder, case-insensitive")
	exportCmd.Flags().StringSliceVar(&paths, "path", nil, "export the file with this exact path")
	return exportCmd
}
