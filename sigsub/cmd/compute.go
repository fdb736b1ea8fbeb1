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
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kmer-tools/sigsub/sigsub/sketch"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var computeCmd = &cobra.Command{
	Use:   "compute <fasta/q file> [...]",
	Short: "Generate scaled MinHash signatures from FASTA/Q files",
	Long: `Generate scaled MinHash signatures from FASTA/Q files

One signature file is created per input file, holding a single sketch of
all sequences of the file. DNA sequences are hashed with the canonical
ntHash rolling hash, protein sequences with seeded wyhash.

Output:
  For every input file, "<name>.sig" is written next to the input, or
  into -O/--out-dir when given. <name> is the input file name with its
  FASTA/Q (and compression) extensions trimmed.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

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
		infileList := expandPath(getFlagString(cmd, "infile-list"))

		// ---------------------------------------------------------------
		// input files

		files := make([]string, 0, len(args))
		for _, file := range args {
			files = append(files, expandPath(file))
		}
		if infileList != "" {
			_files, err := getFileListFromFile(infileList)
			checkError(err)
			files = append(files, _files...)
		}
		if len(files) == 0 {
			checkError(fmt.Errorf("FASTA/Q files needed, from positional arguments or -X/--infile-list"))
		}
		if opt.Verbose {
			log.Infof("%d input file(s) given", len(files))
		}

		if outDir != "" {
			_, err := makeOutDir(outDir, "")
			checkError(err)
		}

		// ---------------------------------------------------------------

		// process bar
		var pbs *mpb.Progress
		var bar *mpb.Bar
		var chDuration chan time.Duration
		var doneDuration chan int
		if opt.Verbose {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(len(files)),
				mpb.PrependDecorators(
					decor.Name("processed files: ", decor.WC{W: len("processed files: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
					decor.EwmaETA(decor.ET_STYLE_GO, 3),
					decor.OnComplete(decor.Name(""), ". done"),
				),
			)

			chDuration = make(chan time.Duration, opt.NumCPUs)
			doneDuration = make(chan int)
			go func() {
				for t := range chDuration {
					bar.EwmaIncrBy(1, t)
				}
				doneDuration <- 1
			}()
		}

		// ---------------------------------------------------------------

		var wg sync.WaitGroup
		tokens := make(chan int, opt.NumCPUs)
		threadsFloat := float64(opt.NumCPUs)

		for _, file := range files {
			tokens <- 1
			wg.Add(1)

			go func(file string) {
				startTime := time.Now()
				defer func() {
					wg.Done()
					<-tokens

					if opt.Verbose {
						chDuration <- time.Duration(float64(time.Since(startTime)) / threadsFloat)
					}
				}()

				outFile := sigFileName(file, outDir)
				checkError(computeOne(file, outFile, ksize, molecule, uint64(scaled)))
			}(file)
		}
		wg.Wait()

		if opt.Verbose {
			close(chDuration)
			<-doneDuration
			pbs.Wait()

			log.Infof("%d signature file(s) saved", len(files))
		}
	},
}

func init() {
	RootCmd.AddCommand(computeCmd)

	computeCmd.Flags().IntP("ksize", "k", 31,
		formatFlagUsage(`K-mer size.`))

	computeCmd.Flags().IntP("scaled", "s", 10,
		formatFlagUsage(`Scale factor: only hash values below max-hash/scaled are kept.`))

	computeCmd.Flags().StringP("molecule", "m", sketch.MoleculeDNA,
		formatFlagUsage(`Molecule type of the input sequences ("DNA" or "protein").`))

	computeCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output directory. Default is writing next to each input file.`))

	computeCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File with paths of FASTA/Q files, one per line.`))

	computeCmd.SetUsageTemplate(usageTemplate(""))
}

// sigFileName derives the output signature file path for an input file.
func sigFileName(file string, outDir string) string {
	base := filepath.Base(file)
	name, _, _ := filepathTrimExtension(base)
	if outDir == "" {
		return filepath.Join(filepath.Dir(file), name+".sig")
	}
	return filepath.Join(outDir, name+".sig")
}

// filepathTrimExtension trims one compression extension and one FASTA/Q
// extension from the file name.
func filepathTrimExtension(file string) (string, string, string) {
	var e, e1, e2 string
	f := strings.ToLower(file)
	for _, e = range []string{".gz", ".xz", ".zst", ".bz2"} {
		if strings.HasSuffix(f, e) {
			e2 = e
			file = file[0 : len(file)-len(e)]
			break
		}
	}

	e1 = filepath.Ext(file)
	name := file[0 : len(file)-len(e1)]

	return name, e1, e2
}

// computeOne sketches all sequences of one FASTA/Q file into a single
// sketch and writes it as a one-record signature file.
func computeOne(file string, outFile string, ksize int, molecule string, scaled uint64) error {
	fastxReader, err := fastx.NewDefaultReader(file)
	if err != nil {
		return errors.Wrap(err, file)
	}

	mh := sketch.NewMinHash(ksize, molecule, scaled)
	var record *fastx.Record
	var n int
	for {
		record, err = fastxReader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return errors.Wrap(err, file)
		}

		if err = mh.AddSequence(record.Seq.Seq); err != nil {
			if err == sketch.ErrShortSeq {
				continue
			}
			return errors.Wrap(err, file)
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("no sequences longer than k=%d in %s", ksize, file)
	}
	mh.Finalize()

	sig := sketch.NewSignature(filepath.Base(file), file)
	sig.PushSketch(mh)

	outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), -1)
	if err != nil {
		return err
	}

	if err = sketch.SaveSignatures(outfh, sig); err != nil {
		return errors.Wrap(err, outFile)
	}

	if err = outfh.Flush(); err != nil {
		return errors.Wrap(err, outFile)
	}
	if gw != nil {
		if err = gw.Close(); err != nil {
			return errors.Wrap(err, outFile)
		}
	}
	return w.Close()
}
