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

import "net/http"

// MapToHeader converts a flat header map into request headers with
// canonical keys. Entries with an empty key are skipped.
func MapToHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		h.Set(k, v)
	}
	return h
}
