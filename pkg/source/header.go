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

import "net/textproto"

// Header is the request header of a source request, keys are canonicalized.
type Header map[string]string

// Get returns the value of key.
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Set sets key to value.
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Del deletes key.
func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// Clone returns a copy of h.
func (h Header) Clone() Header {
	h2 := make(Header, len(h))
	for k, v := range h {
		h2[k] = v
	}
	return h2
}
