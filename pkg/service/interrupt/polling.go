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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

type polledPin struct {
	input   bridge.InputPin
	flags   Flags
	handler Handler
	level   bool
}

type polledTimer struct {
	period  time.Duration
	handler Handler
	lastHit time.Time
}

// Poller is the cooperative interrupt backend.
// Pins & timers are only checked when Poll is called.
type Poller struct {
	mutex  sync.Mutex
	clock  clock.Clock
	inputs InputSource
	pins   map[int]*polledPin
	timers map[string]*polledTimer
}

var _ Controller = &Poller{}

// NewPoller creates a polling backend.
// inputs may be nil when only timers and simulated interrupts are used.
func NewPoller(clk clock.Clock, inputs InputSource) *Poller {
	return &Poller{
		clock:  clk,
		inputs: inputs,
		pins:   make(map[int]*polledPin),
		timers: make(map[string]*polledTimer),
	}
}

// Attach a handler to the given GPIO pin.
func (p *Poller) Attach(pin int, flags Flags, h Handler) error {
	if flags&Change == 0 {
		return errors.Wrapf(InvalidArgumentError, "no edge selected for pin %d", pin)
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, found := p.pins[pin]; found {
		return errors.Wrapf(AlreadyAttachedError, "pin %d", pin)
	}
	pp := &polledPin{flags: flags, handler: h}
	if p.inputs != nil {
		input, err := p.inputs.Input(pin, false)
		if err != nil {
			return errors.Wrapf(err, "failed to open input pin %d", pin)
		}
		level, err := input.Read()
		if err != nil {
			return errors.Wrapf(err, "failed to read input pin %d", pin)
		}
		pp.input = input
		pp.level = level
	}
	p.pins[pin] = pp
	return nil
}

// Detach the handler of the given GPIO pin.
func (p *Poller) Detach(pin int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.pins, pin)
	return nil
}

// AttachTimer calls the given handler with the given frequency,
// as far as Poll is called often enough.
func (p *Poller) AttachTimer(name string, freqHz int, h Handler) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, found := p.timers[name]; found {
		return errors.Wrapf(AlreadyAttachedError, "timer %s", name)
	}
	p.timers[name] = &polledTimer{
		period:  timerPeriod(freqHz),
		handler: h,
		lastHit: p.clock.Now(),
	}
	return nil
}

// DetachTimer stops the timer with given name.
func (p *Poller) DetachTimer(name string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.timers, name)
	return nil
}

// Poll reads all attached pins and checks all timers.
// Handlers are called from the calling goroutine.
func (p *Poller) Poll() {
	var due []Handler
	p.mutex.Lock()
	for _, pp := range p.pins {
		if pp.input == nil {
			continue
		}
		level, err := pp.input.Read()
		if err != nil {
			continue
		}
		if pp.flags.Matches(pp.level, level) {
			due = append(due, pp.handler)
		}
		pp.level = level
	}
	now := p.clock.Now()
	for _, t := range p.timers {
		if now.Sub(t.lastHit) >= t.period {
			t.lastHit = now
			due = append(due, t.handler)
		}
	}
	p.mutex.Unlock()

	for _, h := range due {
		h()
	}
}

// Simulate a level change of the given pin.
// The handler of the pin is called when the change matches its flags.
func (p *Poller) Simulate(pin int, level bool) {
	p.mutex.Lock()
	pp, found := p.pins[pin]
	if !found {
		p.mutex.Unlock()
		return
	}
	trigger := pp.flags.Matches(pp.level, level)
	pp.level = level
	p.mutex.Unlock()

	if trigger {
		pp.handler()
	}
}

// Close detaches all handlers.
func (p *Poller) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pins = make(map[int]*polledPin)
	p.timers = make(map[string]*polledTimer)
	return nil
}
