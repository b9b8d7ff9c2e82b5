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
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/forensicanalysis/evidence"
)

// Info is the evidence info commandline subcommand.
func Info() *cobra.Command {
	return &cobra.Command{
		Use:   "info <evidence>...",
		Short: "Describe evidence containers",
		Args:  requireEvidence(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if err := printInfo(cmd, arg); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printInfo(cmd *cobra.Command, name string) error {
	acc, _, err := openEvidence(cmd, name)
	if err != nil {
		return err
	}
	defer acc.Close()

	files, err := acc.Files()
	if err != nil {
		return err
	}
	partitions, err := acc.Partitions()
	if err != nil {
		return err
	}
	size, err := acc.MediaSize()
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", acc.Path())
	fmt.Fprintf(w, "Kind:\t%s\n", acc.Kind())
	fmt.Fprintf(w, "Size:\t%s (%s bytes)\n", humanize.Bytes(uint64(size)), p.Sprintf("%d", size))
	fmt.Fprintf(w, "Files:\t%s\n", p.Sprintf("%d", len(files)))
	fmt.Fprintf(w, "Partitions:\t%d\n", len(partitions))

	switch a := acc.(type) {
	case *evidence.AndroidBackup:
		h := a.Header()
		fmt.Fprintf(w, "Backup version:\t%d\n", h.Version)
		fmt.Fprintf(w, "Compressed:\t%t\n", h.Compressed)
		fmt.Fprintf(w, "Encryption:\t%s\n", h.Encryption)
	case *evidence.IOSBackup:
		fmt.Fprintf(w, "Encrypted:\t%t\n", a.Encrypted())
		printDeviceInfo(w, a)
	}
	return w.Flush()
}

func printDeviceInfo(w io.Writer, backup *evidence.IOSBackup) {
	info, err := backup.DeviceInfo()
	if err != nil {
		evidence.Logger().Debug("no device info", "path", backup.Path(), "error", err)
		return
	}
	fmt.Fprintf(w, "Device:\t%s (%s, iOS %s)\n", info.DeviceName, info.ProductType, info.ProductVersion)
	fmt.Fprintf(w, "Serial number:\t%s\n", info.SerialNumber)
	if !info.LastBackupDate.IsZero() {
		fmt.Fprintf(w, "Last backup:\t%s (%s)\n", info.LastBackupDate.UTC().Format("2006-01-02 15:04:05"), humanize.Time(info.LastBackupDate))
	}
}
