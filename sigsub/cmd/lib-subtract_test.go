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
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kmer-tools/sigsub/sigsub/sketch"
)

func writeSigFile(t *testing.T, file string, name string, ksize int, mins []uint64) {
	t.Helper()

	mh := sketch.NewMinHash(ksize, sketch.MoleculeDNA, 1)
	mh.Mins = append(mh.Mins, mins...)
	mh.Finalize()

	sig := sketch.NewSignature(name, file)
	sig.PushSketch(mh)

	w, err := os.Create(file)
	if err != nil {
		t.Fatal(err)
	}
	if err = sketch.SaveSignatures(w, sig); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readSigMins(t *testing.T, file string, tmpl *sketch.Template) []uint64 {
	t.Helper()

	sigs, err := sketch.SignaturesFromPath(file)
	if err != nil {
		t.Fatal(err)
	}
	mh := sigs[0].SelectSketch(tmpl)
	if mh == nil {
		t.Fatalf("no matching sketch in %s", file)
	}
	return mh.Mins
}

func TestReadSigList(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "siglist.txt")

	// trailing newline must not yield a spurious empty entry,
	// interior blank lines are kept as (empty) paths
	if err := os.WriteFile(file, []byte("a.sig\n\nb.sig\n"), 0644); err != nil {
		t.Fatal(err)
	}

	paths, err := readSigList(file)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(paths, []string{"a.sig", "", "b.sig"}) {
		t.Errorf("unexpected paths: %q", paths)
	}

	if _, err = readSigList(filepath.Join(dir, "absent.txt")); err == nil {
		t.Errorf("reading an absent list should fail")
	}
}

func TestLoadQueryHashes(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)

	file := filepath.Join(dir, "query.sig")
	writeSigFile(t, file, "query", 4, []uint64{3, 1, 2})

	hashes, err := loadQueryHashes(file, tmpl, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hashes, []uint64{1, 2, 3}) {
		t.Errorf("expected sorted hashes [1 2 3], got %v", hashes)
	}

	// no matching sketch is fatal for the run
	if _, err = loadQueryHashes(file, sketch.NewTemplate(21, sketch.MoleculeDNA, 1), false); err == nil {
		t.Errorf("expected an error when no sketch matches")
	}

	// multiple matching records: the last one wins
	multi := filepath.Join(dir, "multi.sig")
	var sigs []*sketch.Signature
	for i, mins := range [][]uint64{{1, 2}, {8, 9}} {
		mh := sketch.NewMinHash(4, sketch.MoleculeDNA, 1)
		mh.Mins = append(mh.Mins, mins...)
		mh.Finalize()
		sig := sketch.NewSignature(fmt.Sprintf("record-%d", i), multi)
		sig.PushSketch(mh)
		sigs = append(sigs, sig)
	}
	w, err := os.Create(multi)
	if err != nil {
		t.Fatal(err)
	}
	if err = sketch.SaveSignatures(w, sigs...); err != nil {
		t.Fatal(err)
	}
	w.Close()

	hashes, err = loadQueryHashes(multi, tmpl, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hashes, []uint64{8, 9}) {
		t.Errorf("expected hashes of the last matching record, got %v", hashes)
	}
}

func TestSubtractScenario(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)

	target := filepath.Join(dir, "target.sig")
	writeSigFile(t, target, "target", 4, []uint64{2, 3, 4, 5})

	outDir, err := makeOutDir(filepath.Join(dir, "outputs"), "4")
	if err != nil {
		t.Fatal(err)
	}

	if err = subtractSignatures([]string{target}, []uint64{1, 2, 3}, tmpl, outDir, 1, false); err != nil {
		t.Fatal(err)
	}

	outFile := filepath.Join(outDir, "target.sig")
	if _, err = os.Stat(outFile); err != nil {
		t.Fatalf("output file not written under <out-dir>/<k>/: %v", err)
	}

	mins := readSigMins(t, outFile, tmpl)
	if !reflect.DeepEqual(mins, []uint64{4, 5}) {
		t.Errorf("expected mins [4 5], got %v", mins)
	}

	// the output signature keeps exactly one sketch
	sigs, err := sketch.SignaturesFromPath(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 1 || len(sigs[0].Sketches) != 1 {
		t.Errorf("expected a single record with a single sketch")
	}
}

func TestSubtractEmptyMaskAndFullMask(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)

	target := filepath.Join(dir, "target.sig")
	writeSigFile(t, target, "target", 4, []uint64{10, 20, 30})

	// identity: an empty mask leaves the sketch unchanged
	outDir, err := makeOutDir(filepath.Join(dir, "out-empty"), "4")
	if err != nil {
		t.Fatal(err)
	}
	if err = subtractSignatures([]string{target}, nil, tmpl, outDir, 1, false); err != nil {
		t.Fatal(err)
	}
	if mins := readSigMins(t, filepath.Join(outDir, "target.sig"), tmpl); !reflect.DeepEqual(mins, []uint64{10, 20, 30}) {
		t.Errorf("empty mask should be a no-op, got %v", mins)
	}

	// a mask covering the full hash set empties the sketch
	outDir, err = makeOutDir(filepath.Join(dir, "out-full"), "4")
	if err != nil {
		t.Fatal(err)
	}
	if err = subtractSignatures([]string{target}, []uint64{10, 20, 30}, tmpl, outDir, 1, false); err != nil {
		t.Fatal(err)
	}
	if mins := readSigMins(t, filepath.Join(outDir, "target.sig"), tmpl); len(mins) != 0 {
		t.Errorf("full mask should empty the sketch, got %v", mins)
	}
}

func TestSubtractParallelInvariance(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)
	mask := []uint64{5, 10, 15, 20, 25}

	targets := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		file := filepath.Join(dir, fmt.Sprintf("t%02d.sig", i))
		writeSigFile(t, file, fmt.Sprintf("t%02d", i), 4,
			[]uint64{uint64(i), uint64(i) + 5, uint64(i) + 10, uint64(i) + 100})
		targets = append(targets, file)
	}

	results := make([]map[string][]uint64, 0, 2)
	for _, threads := range []int{1, 4} {
		outDir, err := makeOutDir(filepath.Join(dir, fmt.Sprintf("out-j%d", threads)), "4")
		if err != nil {
			t.Fatal(err)
		}
		if err = subtractSignatures(targets, mask, tmpl, outDir, threads, false); err != nil {
			t.Fatal(err)
		}

		outs := make(map[string][]uint64, len(targets))
		for _, target := range targets {
			outFile := filepath.Join(outDir, filepath.Base(target))
			outs[filepath.Base(target)] = readSigMins(t, outFile, tmpl)
		}
		results = append(results, outs)
	}

	if !reflect.DeepEqual(results[0], results[1]) {
		t.Errorf("outputs differ between 1 and 4 workers")
	}
}

func TestSubtractIdempotence(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)
	mask := []uint64{2, 3}

	target := filepath.Join(dir, "target.sig")
	writeSigFile(t, target, "target", 4, []uint64{1, 2, 3, 4})

	outDir1, err := makeOutDir(filepath.Join(dir, "run1"), "4")
	if err != nil {
		t.Fatal(err)
	}
	if err = subtractSignatures([]string{target}, mask, tmpl, outDir1, 1, false); err != nil {
		t.Fatal(err)
	}
	first := readSigMins(t, filepath.Join(outDir1, "target.sig"), tmpl)

	// second run against the output of the first
	outDir2, err := makeOutDir(filepath.Join(dir, "run2"), "4")
	if err != nil {
		t.Fatal(err)
	}
	if err = subtractSignatures([]string{filepath.Join(outDir1, "target.sig")}, mask, tmpl, outDir2, 1, false); err != nil {
		t.Fatal(err)
	}
	second := readSigMins(t, filepath.Join(outDir2, "target.sig"), tmpl)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second run changed the hash content: %v vs %v", first, second)
	}
}

func TestSubtractEmptyTargetList(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)

	outDir, err := makeOutDir(filepath.Join(dir, "outputs"), "4")
	if err != nil {
		t.Fatal(err)
	}

	if err = subtractSignatures(nil, []uint64{1, 2}, tmpl, outDir, 4, false); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the k-size directory to be created and empty")
	}
}

func TestSubtractFatalErrors(t *testing.T) {
	dir := t.TempDir()
	tmpl := sketch.NewTemplate(4, sketch.MoleculeDNA, 1)

	outDir, err := makeOutDir(filepath.Join(dir, "outputs"), "4")
	if err != nil {
		t.Fatal(err)
	}

	// unreadable target
	absent := filepath.Join(dir, "absent.sig")
	if err = subtractSignatures([]string{absent}, []uint64{1}, tmpl, outDir, 1, false); err == nil {
		t.Errorf("an unreadable target should abort the run")
	}

	// target without a matching sketch
	wrongK := filepath.Join(dir, "wrong-k.sig")
	writeSigFile(t, wrongK, "wrong-k", 21, []uint64{1, 2})
	err = subtractSignatures([]string{wrongK}, []uint64{1}, tmpl, outDir, 1, false)
	if err == nil {
		t.Fatalf("a target without a matching sketch should abort the run")
	}
	if !strings.Contains(err.Error(), wrongK) {
		t.Errorf("error should name the offending path: %v", err)
	}
}

func TestRunInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, FileRunInfo)

	info := &RunInfo{
		Tool:        "sigsub",
		Version:     VERSION,
		Query:       "query.sig",
		KSize:       31,
		Scaled:      10,
		Molecule:    sketch.MoleculeDNA,
		QueryHashes: 1234,
		Targets:     10,
	}
	if err := writeRunInfo(file, info); err != nil {
		t.Fatal(err)
	}

	info2, err := readRunInfo(file)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(info, info2) {
		t.Errorf("expected %+v, got %+v", info, info2)
	}
}
