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

// Package sketch provides scaled MinHash sketches and the signature
// container/JSON format they are stored in.
package sketch

import (
	"crypto/md5"
	"errors"
	"fmt"
	"sort"

	"github.com/twotwotwo/sorts/sortutil"
	"github.com/will-rowe/nthash"
	"github.com/zeebo/wyhash"
)

// Molecule names the alphabet, which also decides the hash function:
// canonical ntHash for DNA, seeded wyhash for protein.
const (
	MoleculeDNA     = "DNA"
	MoleculeProtein = "protein"
)

// DefaultSeed is the seed for hashing k-mers of protein sequences.
var DefaultSeed uint64 = 42

// ErrShortSeq means the sequence is shorter than k.
var ErrShortSeq = errors.New("sketch: sequence shorter than k")

// ErrUnknownMolecule means the molecule type is neither DNA nor protein.
var ErrUnknownMolecule = errors.New("sketch: unknown molecule type")

// MaxHashForScaled converts a scale factor to the upper bound of
// retained hash values.
func MaxHashForScaled(scaled uint64) uint64 {
	if scaled <= 1 {
		return ^uint64(0)
	}
	return uint64(float64(^uint64(0)) / float64(scaled))
}

// ScaledForMaxHash is the reverse of MaxHashForScaled.
func ScaledForMaxHash(maxHash uint64) uint64 {
	if maxHash == 0 || maxHash == ^uint64(0) {
		return 1
	}
	return uint64(float64(^uint64(0)) / float64(maxHash))
}

// MinHash is a scaled hash-set sketch of the k-mer content of one or more
// sequences. Mins are unique and sorted ascending, all values <= MaxHash
// when the sketch is scaled (MaxHash < math.MaxUint64).
type MinHash struct {
	Num      uint32   `json:"num"`
	KSize    int      `json:"ksize"`
	Seed     uint64   `json:"seed"`
	MaxHash  uint64   `json:"max_hash"`
	Molecule string   `json:"molecule"`
	Mins     []uint64 `json:"mins"`
	Md5sum   string   `json:"md5sum,omitempty"`
}

// NewMinHash creates an empty scaled MinHash sketch.
func NewMinHash(ksize int, molecule string, scaled uint64) *MinHash {
	return &MinHash{
		Num:      0,
		KSize:    ksize,
		Seed:     DefaultSeed,
		MaxHash:  MaxHashForScaled(scaled),
		Molecule: molecule,
		Mins:     make([]uint64, 0, 1024),
	}
}

// Scaled returns the scale factor derived from the max-hash bound.
func (mh *MinHash) Scaled() uint64 {
	return ScaledForMaxHash(mh.MaxHash)
}

// AddHash appends a hash value, dropping values above the max-hash bound.
// Call Finalize after the last AddHash/AddSequence.
func (mh *MinHash) AddHash(h uint64) {
	if mh.MaxHash > 0 && h > mh.MaxHash {
		return
	}
	mh.Mins = append(mh.Mins, h)
}

// AddSequence hashes all k-mers of the sequence and adds those below the
// max-hash bound. DNA sequences use the canonical ntHash rolling hash,
// protein sequences hash every k-mer window with seeded wyhash.
func (mh *MinHash) AddSequence(sequence []byte) error {
	if len(sequence) < mh.KSize {
		return ErrShortSeq
	}

	switch mh.Molecule {
	case MoleculeDNA:
		hasher, err := nthash.NewHasher(&sequence, uint(mh.KSize))
		if err != nil {
			return err
		}
		for {
			h, ok := hasher.Next(true)
			if !ok {
				break
			}
			mh.AddHash(h)
		}
	case MoleculeProtein:
		end := len(sequence) - mh.KSize
		for i := 0; i <= end; i++ {
			mh.AddHash(wyhash.Hash(sequence[i:i+mh.KSize], mh.Seed))
		}
	default:
		return ErrUnknownMolecule
	}

	return nil
}

// Finalize sorts the hash values, removes duplicates and refreshes the
// md5 digest. It must be called after the last AddHash/AddSequence and
// before serialization or set operations.
func (mh *MinHash) Finalize() {
	if len(mh.Mins) > 1 {
		sortutil.Uint64s(mh.Mins)

		var last uint64 = ^uint64(0)
		mins := mh.Mins[:0]
		for _, v := range mh.Mins {
			if v == last {
				continue
			}
			last = v
			mins = append(mins, v)
		}
		mh.Mins = mins
	}
	mh.Md5sum = mh.MD5Sum()
}

// Contains reports whether the hash value is present in the sketch.
func (mh *MinHash) Contains(h uint64) bool {
	i := sort.Search(len(mh.Mins), func(i int) bool { return mh.Mins[i] >= h })
	return i < len(mh.Mins) && mh.Mins[i] == h
}

// RemoveMany removes every hash value present in hashes from the sketch,
// an exact set difference. Both min lists have to be sorted ascending.
// Hash values in hashes but not in the sketch are ignored.
func (mh *MinHash) RemoveMany(hashes []uint64) {
	if len(mh.Mins) == 0 || len(hashes) == 0 {
		return
	}

	mins := mh.Mins[:0]
	var j int
	n := len(hashes)
	for _, v := range mh.Mins {
		for j < n && hashes[j] < v {
			j++
		}
		if j < n && hashes[j] == v {
			continue
		}
		mins = append(mins, v)
	}
	mh.Mins = mins
	mh.Md5sum = mh.MD5Sum()
}

// MD5Sum computes the digest over the k-mer size followed by all hash
// values, each in decimal form.
func (mh *MinHash) MD5Sum() string {
	h := md5.New()
	fmt.Fprintf(h, "%d", mh.KSize)
	for _, v := range mh.Mins {
		fmt.Fprintf(h, "%d", v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Template holds the parameters for picking one sketch out of a
// signature's sketch list. It carries no hash values.
type Template struct {
	KSize    int
	MaxHash  uint64
	Molecule string
	Num      uint32
}

// NewTemplate creates a selection template for scaled sketches.
func NewTemplate(ksize int, molecule string, scaled uint64) *Template {
	return &Template{
		KSize:    ksize,
		MaxHash:  MaxHashForScaled(scaled),
		Molecule: molecule,
		Num:      0,
	}
}

// Matches reports whether the sketch has exactly the parameters of the
// template. Hash values are irrelevant to matching.
func (t *Template) Matches(mh *MinHash) bool {
	return mh != nil &&
		mh.KSize == t.KSize &&
		mh.MaxHash == t.MaxHash &&
		mh.Molecule == t.Molecule &&
		mh.Num == t.Num
}
