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

package source

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/mock/gomock"
)

// RequestEq matches a *Request for url whose header holds every pair of want.
func RequestEq(url string, want ...Header) gomock.Matcher {
	m := requestMatcher{url: url, header: Header{}}
	for _, h := range want {
		for k, v := range h {
			m.header.Set(k, v)
		}
	}
	return m
}

type requestMatcher struct {
	url    string
	header Header
}

func (m requestMatcher) Matches(x any) bool {
	r, ok := x.(*Request)
	if !ok || r == nil || r.URL == nil || r.URL.String() != m.url {
		return false
	}

	for k, v := range m.header {
		if r.Header.Get(k) != v {
			return false
		}
	}
	return true
}

func (m requestMatcher) String() string {
	if len(m.header) == 0 {
		return fmt.Sprintf("is a request for %s", m.url)
	}

	pairs := make([]string, 0, len(m.header))
	for k, v := range m.header {
		pairs = append(pairs, k+": "+v)
	}
	sort.Strings(pairs)
	return fmt.Sprintf("is a request for %s with header %s", m.url, strings.Join(pairs, ", "))
}
