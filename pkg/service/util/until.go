// Copyright 2021 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package util

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	minRetryDelay = time.Millisecond * 10
	maxRetryDelay = time.Second * 5
)

// UntilCanceled calls the given callback over and over until the given
// context is canceled. Failures are logged and retried with a growing delay.
// A canceled context is not an error, so nil is always returned.
func UntilCanceled(ctx context.Context, log zerolog.Logger, description string, cb func() error) error {
	delay := minRetryDelay
	failures := 0
	for ctx.Err() == nil {
		if err := cb(); err != nil {
			failures++
			delay = min(delay*3/2, maxRetryDelay)
			log.Warn().Err(err).
				Int("failures", failures).
				Dur("retry-in", delay).
				Msgf("%s failed", description)
		} else {
			failures = 0
			delay = minRetryDelay
		}
		select {
		case <-ctx.Done():
			log.Info().Msgf("Stopping %s; context canceled", description)
		case <-time.After(delay):
			// Continue
		}
	}
	return nil
}
