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
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Request is a GET request sent to a source.
type Request struct {
	URL    *url.URL
	Header Header

	// Timeout is the inactivity timeout of the exchange, zero disables it.
	Timeout time.Duration
}

// NewRequest returns a request for rawURL.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse url %s", rawURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("url %s must be absolute", rawURL)
	}

	return &Request{
		URL:    u,
		Header: make(Header),
	}, nil
}
