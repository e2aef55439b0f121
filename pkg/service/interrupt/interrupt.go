// Copyright 2024 Ewout Prangsma
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

package interrupt

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

// Flags specify on which level changes a pin interrupt triggers.
type Flags int

const (
	// Falling triggers when the pin goes from high to low
	Falling Flags = 1
	// Rising triggers when the pin goes from low to high
	Rising Flags = 2
	// Change triggers on every level change
	Change = Falling | Rising
)

// Matches returns true when a level change between the given levels triggers.
func (f Flags) Matches(from, to bool) bool {
	switch {
	case from && !to:
		return f&Falling != 0
	case !from && to:
		return f&Rising != 0
	default:
		return false
	}
}

// Handler is called when an interrupt triggers.
type Handler func()

// Controller registers interrupt handlers for GPIO pins and timers.
type Controller interface {
	// Attach a handler to the given GPIO pin.
	Attach(pin int, flags Flags, h Handler) error
	// Detach the handler of the given GPIO pin.
	Detach(pin int) error
	// AttachTimer calls the given handler with the given frequency.
	AttachTimer(name string, freqHz int, h Handler) error
	// DetachTimer stops the timer with given name.
	DetachTimer(name string) error
	// Poll checks pins & timers and calls the handlers that are due.
	// Only the polling backend does work here.
	Poll()
	// Close detaches all handlers.
	Close() error
}

// Backend names
const (
	BackendHardware = "hardware"
	BackendPolling  = "polling"
)

// New creates a controller with the given backend.
func New(backend string, log zerolog.Logger, inputs InputSource) (Controller, error) {
	switch backend {
	case BackendHardware:
		return NewHardware(clock.New(), log)
	case BackendPolling, "":
		return NewPoller(clock.New(), inputs), nil
	default:
		return nil, errors.Wrapf(InvalidArgumentError, "unknown interrupt backend '%s'", backend)
	}
}

// InputSource provides GPIO input pins.
// Implemented by bridge.API.
type InputSource interface {
	Input(pin int, activeLow bool) (bridge.InputPin, error)
}

// timerPeriod returns the interval of a timer with given frequency.
func timerPeriod(freqHz int) time.Duration {
	if freqHz <= 0 {
		return time.Millisecond
	}
	return max(time.Second/time.Duration(freqHz), time.Millisecond)
}
