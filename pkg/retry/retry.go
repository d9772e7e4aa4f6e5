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

// Package retry repeats an operation with randomized exponential backoff.
package retry

import (
	"context"
	"time"

	"d7y.io/rangeloader/pkg/math"
)

// DefaultFactor is the backoff growth between two attempts.
const DefaultFactor = 2.0

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the maximum number of calls, values below one mean one call.
	Attempts int

	// Backoff is the delay before the second call.
	Backoff time.Duration

	// MaxBackoff caps the delay between calls.
	MaxBackoff time.Duration
}

// Run calls f with the 1-based attempt number until f succeeds, f asks to stop
// or the attempts of p are used up. The last error of f is returned, or the
// context error when ctx ends first.
func Run(ctx context.Context, p Policy, f func(attempt int) (stop bool, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		var stop bool
		if stop, err = f(attempt); err == nil || stop || attempt >= p.Attempts {
			return err
		}

		timer := time.NewTimer(math.RandBackoffSeconds(p.Backoff.Seconds(), p.MaxBackoff.Seconds(), DefaultFactor, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
