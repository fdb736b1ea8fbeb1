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
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kmer-tools/sigsub/sigsub/sketch"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

var viewCmd = &cobra.Command{
	Use:   "view <sig file> [...]",
	Short: "View sketches in signature files",
	Long: `View sketches in signature files

One line per sketch: file, name, molecule, k, scale factor, hash count
and md5 digest. With --stats, mean and standard deviation of the spacing
between adjacent hash values are appended, a quick check of sketch
density (for a scaled sketch the mean spacing is close to the scale
factor times 2^64/max-hash-count... in practice, close to "scaled").

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		if len(args) == 0 {
			checkError(fmt.Errorf("signature files needed"))
		}

		withStats := getFlagBool(cmd, "stats")
		outFile := getFlagString(cmd, "out-file")

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		outfh.WriteString("file\tname\tmolecule\tk\tscaled\thashes\tmd5sum")
		if withStats {
			outfh.WriteString("\tspacing-mean\tspacing-stdev")
		}
		outfh.WriteString("\n")

		for _, file := range args {
			file = expandPath(file)
			sigs, err := sketch.SignaturesFromPath(file)
			checkError(err)

			for _, sig := range sigs {
				for _, mh := range sig.Sketches {
					fmt.Fprintf(outfh, "%s\t%s\t%s\t%d\t%d\t%s\t%s",
						file, sig.Name, mh.Molecule, mh.KSize, mh.Scaled(),
						humanize.Comma(int64(len(mh.Mins))), mh.MD5Sum())

					if withStats {
						mean, stdev := hashSpacingStats(mh.Mins)
						fmt.Fprintf(outfh, "\t%.1f\t%.1f", mean, stdev)
					}
					outfh.WriteString("\n")
				}
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(viewCmd)

	viewCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	viewCmd.Flags().BoolP("stats", "", false,
		formatFlagUsage(`Also compute mean/stdev of adjacent hash value spacings.`))

	viewCmd.SetUsageTemplate(usageTemplate(""))
}

// hashSpacingStats computes mean and standard deviation of the gaps
// between adjacent hash values. Mins have to be sorted ascending.
func hashSpacingStats(mins []uint64) (float64, float64) {
	if len(mins) < 2 {
		return 0, 0
	}
	gaps := make([]float64, len(mins)-1)
	for i := 1; i < len(mins); i++ {
		gaps[i-1] = float64(mins[i] - mins[i-1])
	}
	mean := stat.Mean(gaps, nil)
	stdev := stat.StdDev(gaps, nil)
	return mean, stdev
}
