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

package http

import (
	"errors"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	// RangePrefix is prefix of range header.
	RangePrefix = "bytes="

	// RangeSeparator is separator of range header.
	RangeSeparator = "-"

	// ContentRangePrefix is prefix of content range header.
	ContentRangePrefix = "bytes "
)

var (
	// ErrInvalidRange is returned when a range string can not be parsed.
	ErrInvalidRange = errors.New("invalid range")

	// ErrNoOverlap is returned when a range starts beyond the end of the resource.
	ErrNoOverlap = errors.New("invalid range: failed to overlap")
)

// Range is a byte range resolved against a resource of known size.
type Range struct {
	Start, Length int64
}

func (r Range) String() string {
	return FormatRange(r.Start, r.Start+r.Length-1)
}

// FormatRange returns the value of a Range header covering [from, to].
// A to of -1 leaves the range open-ended, e.g. "bytes=100-".
func FormatRange(from, to int64) string {
	if to < 0 {
		return RangePrefix + strconv.FormatInt(from, 10) + RangeSeparator
	}
	return RangePrefix + strconv.FormatInt(from, 10) + RangeSeparator + strconv.FormatInt(to, 10)
}

// ParseSpan parses a single "from-to" or "from-" span without knowing
// the size of the resource. An open end is returned as -1.
// Example:
//
//	"100-200" => 100, 200
//	"150-"    => 150, -1
//	"bytes=0-9" => 0, 9
func ParseSpan(s string) (from, to int64, err error) {
	s = textproto.TrimString(strings.TrimPrefix(textproto.TrimString(s), RangePrefix))
	i := strings.Index(s, RangeSeparator)
	if i <= 0 {
		return 0, 0, ErrInvalidRange
	}

	start, end := textproto.TrimString(s[:i]), textproto.TrimString(s[i+1:])
	from, err = strconv.ParseInt(start, 10, 64)
	if err != nil || from < 0 {
		return 0, 0, ErrInvalidRange
	}

	if end == "" {
		return from, -1, nil
	}

	to, err = strconv.ParseInt(end, 10, 64)
	if err != nil || to < from {
		return 0, 0, ErrInvalidRange
	}

	return from, to, nil
}

// ParseOneRange resolves a Range header holding exactly one byte-range-spec
// against a resource of size bytes. The suffix form "bytes=-n" selects the
// last n bytes, and an end past the resource is clipped to its last byte.
func ParseOneRange(s string, size int64) (Range, error) {
	s = textproto.TrimString(s)
	if !strings.HasPrefix(s, RangePrefix) {
		return Range{}, ErrInvalidRange
	}

	spec := textproto.TrimString(s[len(RangePrefix):])
	if strings.Contains(spec, ",") {
		return Range{}, errors.New("parse range length must be 1")
	}

	if strings.HasPrefix(spec, RangeSeparator) {
		n, err := strconv.ParseInt(textproto.TrimString(spec[1:]), 10, 64)
		if err != nil || n <= 0 {
			return Range{}, ErrInvalidRange
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, Length: n}, nil
	}

	from, to, err := ParseSpan(spec)
	if err != nil {
		return Range{}, err
	}
	if from >= size {
		return Range{}, ErrNoOverlap
	}
	if to == -1 || to >= size {
		to = size - 1
	}
	return Range{Start: from, Length: to - from + 1}, nil
}

// ParseContentRange parses the Content-Range header of a partial response,
// e.g. "bytes 0-9/100". An unknown complete length "*" is returned as -1.
func ParseContentRange(s string) (Range, int64, error) {
	s = textproto.TrimString(s)
	if !strings.HasPrefix(s, ContentRangePrefix) {
		return Range{}, 0, ErrInvalidRange
	}

	span, total, ok := strings.Cut(s[len(ContentRangePrefix):], "/")
	if !ok {
		return Range{}, 0, ErrInvalidRange
	}
	from, to, err := ParseSpan(span)
	if err != nil || to == -1 {
		return Range{}, 0, ErrInvalidRange
	}

	size := int64(-1)
	if total = textproto.TrimString(total); total != "*" {
		if size, err = strconv.ParseInt(total, 10, 64); err != nil || size <= to {
			return Range{}, 0, ErrInvalidRange
		}
	}
	return Range{Start: from, Length: to - from + 1}, size, nil
}
