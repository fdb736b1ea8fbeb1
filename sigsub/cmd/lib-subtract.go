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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/kmer-tools/sigsub/sigsub/sketch"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/twotwotwo/sorts/sortutil"
)

// FileRunInfo is the name of the run parameter file written next to the
// output signatures.
const FileRunInfo = "info.toml"

// logChunkSize is the interval of progress log lines in the batch run.
const logChunkSize = 1000

// loadQueryHashes reads all signature records from the query file, selects
// the sketch matching the template in every record and returns the hash
// values of the last match, sorted ascending. An empty hash list of a
// matched sketch is legal, no match in any record is an error.
func loadQueryHashes(file string, tmpl *sketch.Template, verbose bool) ([]uint64, error) {
	sigs, err := sketch.SignaturesFromPath(file)
	if err != nil {
		return nil, err
	}

	var query *sketch.MinHash
	var matches int
	for _, sig := range sigs {
		if mh := sig.SelectSketch(tmpl); mh != nil {
			query = mh
			matches++
		}
	}
	if query == nil {
		return nil, fmt.Errorf("no sketch with k=%d, scaled=%d, molecule=%s in query: %s",
			tmpl.KSize, sketch.ScaledForMaxHash(tmpl.MaxHash), tmpl.Molecule, file)
	}
	if matches > 1 && verbose {
		log.Warningf("%d records in %s match, only the hashes of the last one are used", matches, file)
	}

	hashes := make([]uint64, len(query.Mins))
	copy(hashes, query.Mins)
	sortutil.Uint64s(hashes)

	return hashes, nil
}

// readSigList reads the target list, one signature file path per line.
// Lines are kept verbatim: interior empty lines stay as empty paths and
// fail later at load time. The trailing newline does not produce a
// spurious entry.
func readSigList(file string) ([]string, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}

	paths := make([]string, 0, 1024)
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 65536), 1<<20)
	for scanner.Scan() {
		paths = append(paths, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err = scanner.Err(); err != nil {
		fh.Close()
		return nil, errors.Wrap(err, file)
	}

	return paths, fh.Close()
}

// subtractSignatures applies hash-set subtraction to every target file
// with a bounded worker pool and writes results to outDir, keeping the
// original file names. The first error aborts the run: no new work is
// scheduled, in-flight targets finish, already-written files stay.
func subtractSignatures(files []string, hashes []uint64, tmpl *sketch.Template,
	outDir string, threads int, verbose bool) error {

	if threads < 1 {
		threads = 1
	}

	var wg sync.WaitGroup
	tokens := make(chan int, threads)

	var processed uint64
	var failed uint32
	var once sync.Once
	var firstErr error

	for _, file := range files {
		if atomic.LoadUint32(&failed) > 0 {
			break
		}

		tokens <- 1
		wg.Add(1)

		go func(file string) {
			defer func() {
				wg.Done()
				<-tokens
			}()

			i := atomic.AddUint64(&processed, 1) - 1
			if verbose && i%logChunkSize == 0 {
				log.Infof("processed %s sigs", humanize.Comma(int64(i)))
			}

			if err := subtractOne(file, hashes, tmpl, outDir); err != nil {
				once.Do(func() {
					firstErr = err
					atomic.StoreUint32(&failed, 1)
				})
			}
		}(file)
	}
	wg.Wait()

	return firstErr
}

// subtractOne loads one target signature file, removes the query hashes
// from the matching sketch, drops all other sketches and writes the result
// as a single-record signature file under outDir.
func subtractOne(file string, hashes []uint64, tmpl *sketch.Template, outDir string) error {
	sigs, err := sketch.SignaturesFromPath(file)
	if err != nil {
		return errors.Wrapf(err, "error processing %s", file)
	}
	sig := sigs[0]

	mh := sig.SelectSketch(tmpl)
	if mh == nil {
		return fmt.Errorf("no sketch with k=%d, scaled=%d, molecule=%s in target: %s",
			tmpl.KSize, sketch.ScaledForMaxHash(tmpl.MaxHash), tmpl.Molecule, file)
	}

	mh.RemoveMany(hashes)

	sig.ResetSketches()
	sig.PushSketch(mh)

	outFile := filepath.Join(outDir, filepath.Base(file))
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

// RunInfo records the parameters of a subtraction run.
type RunInfo struct {
	Tool    string `toml:"tool"`
	Version string `toml:"version"`

	Query    string `toml:"query"`
	KSize    int    `toml:"k"`
	Scaled   uint64 `toml:"scaled"`
	Molecule string `toml:"molecule"`

	QueryHashes int `toml:"query-hashes"`
	Targets     int `toml:"targets"`
}

func writeRunInfo(file string, info *RunInfo) error {
	data, err := toml.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0644)
}

func readRunInfo(file string) (*RunInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	info := &RunInfo{}
	err = toml.Unmarshal(data, info)
	return info, err
}
