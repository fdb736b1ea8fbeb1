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

package sketch

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// SignatureClass marks a record as a signature in the JSON format.
const SignatureClass = "sketch_signature"

// FormatVersion is the version of the signature JSON format.
const FormatVersion = 0.4

// ErrNoSignatures means a signature file contains no records.
var ErrNoSignatures = errors.New("sketch: no signatures found")

// Signature is a named container of one or more sketches plus metadata.
// A signature file holds a JSON array of signature records.
type Signature struct {
	Class        string     `json:"class"`
	Email        string     `json:"email"`
	HashFunction string     `json:"hash_function"`
	Filename     string     `json:"filename,omitempty"`
	Name         string     `json:"name,omitempty"`
	License      string     `json:"license"`
	Sketches     []*MinHash `json:"signatures"`
	Version      float64    `json:"version"`
}

// NewSignature creates an empty signature record with default metadata.
func NewSignature(name string, filename string) *Signature {
	return &Signature{
		Class:    SignatureClass,
		Name:     name,
		Filename: filename,
		License:  "CC0",
		Version:  FormatVersion,
	}
}

// SelectSketch returns the first sketch matching the template, or nil
// when no sketch matches.
func (s *Signature) SelectSketch(tmpl *Template) *MinHash {
	for _, mh := range s.Sketches {
		if tmpl.Matches(mh) {
			return mh
		}
	}
	return nil
}

// ResetSketches drops all sketches from the signature.
func (s *Signature) ResetSketches() {
	s.Sketches = s.Sketches[:0]
}

// PushSketch appends a sketch to the signature and updates the
// hash-function label from the sketch's molecule type.
func (s *Signature) PushSketch(mh *MinHash) {
	s.Sketches = append(s.Sketches, mh)
	switch mh.Molecule {
	case MoleculeProtein:
		s.HashFunction = "0.wyhash"
	default:
		s.HashFunction = "0.nthash"
	}
}

// SignaturesFromReader parses a JSON array of signature records.
func SignaturesFromReader(r io.Reader) ([]*Signature, error) {
	sigs := make([]*Signature, 0, 1)
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&sigs); err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}
	return sigs, nil
}

// SignaturesFromPath reads all signature records from a file.
// Gzip-compressed files are handled transparently.
func SignaturesFromPath(file string) ([]*Signature, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}

	sigs, err := SignaturesFromReader(fh)
	if err != nil {
		fh.Close()
		return nil, errors.Wrap(err, file)
	}

	return sigs, fh.Close()
}

// SaveSignatures serializes signature records as a JSON array.
func SaveSignatures(w io.Writer, sigs ...*Signature) error {
	encoder := json.NewEncoder(w)
	return encoder.Encode(sigs)
}
