/*
 *     Copyright 2022 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package digest computes and verifies content digests like sha256:<hex>.
package digest

import (
	"bufio"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	godigest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"d7y.io/rangeloader/pkg/unit"
)

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmMD5    = "md5"
)

var (
	// ErrDigestNotMatch is returned when the content does not hash to the expected digest.
	ErrDigestNotMatch = errors.New("digest not match")

	// ErrUnsupportedAlgorithm is returned for algorithms other than sha256 and md5.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
)

// Digest is an algorithm qualified, hex encoded hash.
type Digest struct {
	Algorithm string
	Encoded   string
}

// Parse parses a digest in format of <algorithm>:<hex>.
func Parse(s string) (*Digest, error) {
	values := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(values) != 2 {
		return nil, errors.Errorf("invalid digest %s", s)
	}

	d := &Digest{
		Algorithm: strings.ToLower(values[0]),
		Encoded:   strings.ToLower(values[1]),
	}
	switch d.Algorithm {
	case AlgorithmSHA256:
		if err := godigest.Digest(d.String()).Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid digest %s", s)
		}
	case AlgorithmMD5:
		if _, err := hex.DecodeString(d.Encoded); err != nil || len(d.Encoded) != md5.Size*2 {
			return nil, errors.Errorf("invalid digest %s", s)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%s", values[0])
	}
	return d, nil
}

func (d *Digest) String() string {
	return d.Algorithm + ":" + d.Encoded
}

// NewHash returns the hash of algorithm, nil if it is not supported.
func NewHash(algorithm string) hash.Hash {
	switch algorithm {
	case AlgorithmSHA256:
		return sha256.New()
	case AlgorithmMD5:
		return md5.New()
	default:
		return nil
	}
}

// HashFile computes the hex encoded hash of the file at path.
func HashFile(path string, algorithm string) (string, error) {
	h := NewHash(algorithm)
	if h == nil {
		return "", errors.Wrapf(ErrUnsupportedAlgorithm, "%s", algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", errors.Errorf("%s is not a regular file", path)
	}

	if _, err := io.Copy(h, bufio.NewReaderSize(f, int(4*unit.MB))); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks that the file at path hashes to d.
func VerifyFile(path string, d *Digest) error {
	encoded, err := HashFile(path, d.Algorithm)
	if err != nil {
		return err
	}
	if encoded != d.Encoded {
		return errors.Wrapf(ErrDigestNotMatch, "desired %s, actual %s:%s", d, d.Algorithm, encoded)
	}
	return nil
}
