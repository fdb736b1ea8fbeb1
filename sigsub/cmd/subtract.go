// Copyright © 2024 sigsub authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kmer-tools/sigsub/sigsub/sketch"
	"github.com/spf13/cobra"
)

var subtractCmd = &cobra.Command{
	Use:   "subtract <query.sig> <siglist.txt>",
	Short: "Remove the hashes of a query sketch from all listed signatures",
	Long: `Remove the hashes of a query sketch from all listed signatures

For every target file in the list, the sketch matching -k/--ksize,
-s/--scaled and -m/--molecule is selected, all hash values present in the
query's matching sketch are removed from it, and the signature is written
to "<out-dir>/<k>/<original-file-name>" with only the mutated sketch kept.

Attentions:
  1. A target without a matching sketch, or an unreadable target, aborts
     the whole run. Output files already written are kept.
  2. The target list is processed as-is: it is not deduplicated, and empty
     lines are treated as (empty) paths and fail at load time.
  3. When the query file contains multiple matching records, the hashes of
     the last one are used.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		timeStart := time.Now()
		defer func() {
			if opt.Verbose {
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
		}()

		// ---------------------------------------------------------------
		// flags

		ksize := getFlagPositiveInt(cmd, "ksize")
		scaled := getFlagPositiveInt(cmd, "scaled")
		molecule := getFlagString(cmd, "molecule")
		if molecule != sketch.MoleculeDNA && molecule != sketch.MoleculeProtein {
			checkError(fmt.Errorf("invalid value of flag -m/--molecule: %s", molecule))
		}

		outDir := expandPath(getFlagString(cmd, "out-dir"))
		inDir := expandPath(getFlagString(cmd, "in-dir"))
		reStr := getFlagString(cmd, "file-regexp")

		var query, siglist string
		if inDir == "" {
			if len(args) != 2 {
				checkError(fmt.Errorf("a query file and a siglist file are needed"))
			}
			query, siglist = expandPath(args[0]), expandPath(args[1])
		} else {
			if len(args) != 1 {
				checkError(fmt.Errorf("only the query file is needed when -I/--in-dir is given"))
			}
			query = expandPath(args[0])
		}

		tmpl := sketch.NewTemplate(ksize, molecule, uint64(scaled))

		// ---------------------------------------------------------------
		// query

		if opt.Verbose {
			log.Info("loading query signature ...")
		}
		hashes, err := loadQueryHashes(query, tmpl, opt.Verbose)
		checkError(err)
		if opt.Verbose {
			log.Infof("loaded query signature, k=%d, %s hashes", ksize, humanize.Comma(int64(len(hashes))))
		}

		// ---------------------------------------------------------------
		// targets

		var targets []string
		if inDir == "" {
			if opt.Verbose {
				log.Info("loading siglist ...")
			}
			targets, err = readSigList(siglist)
			checkError(err)
		} else {
			if opt.Verbose {
				log.Infof("walking %s ...", inDir)
			}
			re, err := regexp.Compile(reStr)
			if err != nil {
				checkError(fmt.Errorf("fail to compile regular expression of flag -r/--file-regexp: %s", err))
			}
			targets, err = getFileListFromDir(inDir, re, opt.NumCPUs)
			checkError(err)
		}
		if opt.Verbose {
			log.Infof("loaded %s sig paths in siglist", humanize.Comma(int64(len(targets))))
		}

		// ---------------------------------------------------------------
		// output

		outSubDir, err := makeOutDir(outDir, strconv.Itoa(ksize))
		checkError(err)

		// ---------------------------------------------------------------

		checkError(subtractSignatures(targets, hashes, tmpl, outSubDir, opt.NumCPUs, opt.Verbose))

		checkError(writeRunInfo(filepath.Join(outSubDir, FileRunInfo), &RunInfo{
			Tool:    "sigsub",
			Version: VERSION,

			Query:    query,
			KSize:    ksize,
			Scaled:   uint64(scaled),
			Molecule: molecule,

			QueryHashes: len(hashes),
			Targets:     len(targets),
		}))

		if opt.Verbose {
			log.Infof("%s sigs saved to %s", humanize.Comma(int64(len(targets))), outSubDir)
		}
	},
}

func init() {
	RootCmd.AddCommand(subtractCmd)

	subtractCmd.Flags().IntP("ksize", "k", 31,
		formatFlagUsage(`K-mer size of the sketch to select.`))

	subtractCmd.Flags().IntP("scaled", "s", 10,
		formatFlagUsage(`Scale factor of the sketch to select.`))

	subtractCmd.Flags().StringP("molecule", "m", sketch.MoleculeDNA,
		formatFlagUsage(`Molecule type of the sketch to select ("DNA" or "protein").`))

	subtractCmd.Flags().StringP("out-dir", "o", "outputs",
		formatFlagUsage(`Output directory. Results are written below "<out-dir>/<k>/".`))

	subtractCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing target signature files, an alternative to the siglist argument. Directory symlinks are followed.`))

	subtractCmd.Flags().StringP("file-regexp", "r", `\.sig(\.gz)?$`,
		formatFlagUsage(`Regular expression for matching signature files in -I/--in-dir.`))

	subtractCmd.SetUsageTemplate(usageTemplate(""))
}
