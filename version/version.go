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
package version

import "runtime"

const (
	Major      = "0"
	Minor      = "1"
	GitVersion = "v0.1.0"
	Platform   = runtime.GOOS + "/" + runtime.GOARCH
	BuildDay   = "2026-10-19"
)

// GoVersion is the version of the go toolchain the binary is built with.
var GoVersion = runtime.Version()
