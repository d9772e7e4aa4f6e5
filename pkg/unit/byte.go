/*
 *     Copyright 2020 The Dragonfly Authors
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

// Package unit provides a byte size usable as a command flag and a yaml value.
package unit

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Bytes is a size in bytes written in binary units, e.g. 64KB or 1.5MB.
type Bytes int64

const (
	B  Bytes = 1
	KB       = 1024 * B
	MB       = 1024 * KB
	GB       = 1024 * MB
	TB       = 1024 * GB
	PB       = 1024 * TB
)

var symbols = []struct {
	unit   Bytes
	symbol string
}{
	{PB, "PB"},
	{TB, "TB"},
	{GB, "GB"},
	{MB, "MB"},
	{KB, "KB"},
}

func (f Bytes) ToNumber() int64 {
	return int64(f)
}

func ToBytes(size int64) Bytes {
	return Bytes(size)
}

// Set is used for command flag var
func (f *Bytes) Set(s string) (err error) {
	*f, err = parseSize(s)
	return
}

func (f Bytes) Type() string {
	return "bytes"
}

// String picks the largest unit that still represents f exactly with one
// decimal, so that parsing the result gives f back.
func (f Bytes) String() string {
	for _, s := range symbols {
		if f >= s.unit && (f*10)%s.unit == 0 {
			return fmt.Sprintf("%.1f%s", float64(f)/float64(s.unit), s.symbol)
		}
	}
	return fmt.Sprintf("%.1fB", float64(f))
}

func parseSize(fsize string) (Bytes, error) {
	fsize = strings.TrimSpace(fsize)
	if fsize == "" {
		return 0, nil
	}

	size, err := units.RAMInBytes(fsize)
	if err != nil {
		return 0, errors.Wrapf(err, "parse size %s", fsize)
	}
	return ToBytes(size), nil
}

// ParseBytes parses sizes like 64KB, 1.5m or 1024.
func ParseBytes(s string) (Bytes, error) {
	return parseSize(s)
}

func (f Bytes) MarshalYAML() (any, error) {
	return f.String(), nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (f *Bytes) UnmarshalYAML(node *yaml.Node) error {
	var fsizeStr string
	if err := node.Decode(&fsizeStr); err != nil {
		return err
	}

	fsize, err := parseSize(fsizeStr)
	if err != nil {
		return err
	}
	*f = fsize
	return nil
}
