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

// Package main implements the evidence command line tool, which gives
// access to the files in forensic evidence containers.
//
//	ls          List the files of an evidence container
//	partitions  List the partitions of an evidence container
//	info        Describe evidence containers
//	hash        Calculate sha1 digests and signatures and store them in the evidence cache
//	export      Copy files out of an evidence container
//
// Usage
//
// List files with their digests
//
//	evidence ls image.E01
//	evidence ls --json --skip-cache backup.ab > files.json
//
// Hash several containers in parallel
//
//	evidence hash --hash-size-limit 50000000 image.E01 phone.tar extracted/
//
// Export registry hives
//
//	evidence export --folder Windows/System32/config --mode folder image.E01 hives/
//	evidence export --path /P_2048/Users/user/NTUSER.DAT image.E01 export.sqlar
package main

import (
	"fmt"
	"os"

	"github.com/forensicanalysis/evidence/cmd"
)

func main() {
	rootCmd := cmd.Root()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
