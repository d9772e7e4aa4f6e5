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

package config

import (
	"os"
	"path/filepath"
	"time"

	"d7y.io/rangeloader/pkg/unit"
)

const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultChunkSize       = 64 * unit.KB
	DefaultRetryAttempts   = 3
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultRetryMaxBackoff = 5 * time.Second
)

// DefaultLogDir returns the log directory under the user home, or the temp dir.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "rangeloader", "logs")
	}
	return filepath.Join(home, ".rangeloader", "logs")
}
