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
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	// Maximum time a pin watcher waits for an edge before checking
	// whether it has been detached.
	edgeWaitTimeout = time.Millisecond * 250
)

type watchedPin struct {
	pin  gpio.PinIO
	stop chan struct{}
	done chan struct{}
}

type hardwareTimer struct {
	ticker *clock.Ticker
	stop   chan struct{}
}

// Hardware is the interrupt backend that uses GPIO edge detection
// of the host. Handlers are called from a goroutine per pin or timer.
type Hardware struct {
	mutex  sync.Mutex
	log    zerolog.Logger
	clock  clock.Clock
	pins   map[int]*watchedPin
	timers map[string]*hardwareTimer
}

var _ Controller = &Hardware{}

// NewHardware creates a hardware interrupt backend.
// Timers are driven by the given clock.
func NewHardware(clk clock.Clock, log zerolog.Logger) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host.Init failed")
	}
	return newHardware(clk, log), nil
}

func newHardware(clk clock.Clock, log zerolog.Logger) *Hardware {
	return &Hardware{
		log:    log.With().Str("component", "interrupts").Logger(),
		clock:  clk,
		pins:   make(map[int]*watchedPin),
		timers: make(map[string]*hardwareTimer),
	}
}

// Attach a handler to the given GPIO pin.
func (hw *Hardware) Attach(pin int, flags Flags, h Handler) error {
	var edge gpio.Edge
	switch flags & Change {
	case Falling:
		edge = gpio.FallingEdge
	case Rising:
		edge = gpio.RisingEdge
	case Change:
		edge = gpio.BothEdges
	default:
		return errors.Wrapf(InvalidArgumentError, "no edge selected for pin %d", pin)
	}
	hw.mutex.Lock()
	defer hw.mutex.Unlock()

	if _, found := hw.pins[pin]; found {
		return errors.Wrapf(AlreadyAttachedError, "pin %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return errors.Wrapf(InvalidPinError, "unknown pin %s", name)
	}
	if err := p.In(gpio.PullUp, edge); err != nil {
		return errors.Wrapf(err, "failed to configure %s for edge detection", name)
	}
	wp := &watchedPin{
		pin:  p,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	hw.pins[pin] = wp
	go hw.watchPin(wp, h)
	hw.log.Debug().Int("pin", pin).Int("flags", int(flags)).Msg("Attached pin interrupt")
	return nil
}

// watchPin calls the handler on every detected edge until stopped.
func (hw *Hardware) watchPin(wp *watchedPin, h Handler) {
	defer close(wp.done)
	for {
		select {
		case <-wp.stop:
			return
		default:
		}
		if wp.pin.WaitForEdge(edgeWaitTimeout) {
			h()
		}
	}
}

// Detach the handler of the given GPIO pin.
func (hw *Hardware) Detach(pin int) error {
	hw.mutex.Lock()
	wp, found := hw.pins[pin]
	delete(hw.pins, pin)
	hw.mutex.Unlock()
	if !found {
		return nil
	}
	return hw.stopPin(wp)
}

func (hw *Hardware) stopPin(wp *watchedPin) error {
	close(wp.stop)
	<-wp.done
	if err := wp.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return errors.Wrapf(err, "failed to disable edge detection of %s", wp.pin.Name())
	}
	return nil
}

// AttachTimer calls the given handler with the given frequency.
func (hw *Hardware) AttachTimer(name string, freqHz int, h Handler) error {
	hw.mutex.Lock()
	defer hw.mutex.Unlock()

	if _, found := hw.timers[name]; found {
		return errors.Wrapf(AlreadyAttachedError, "timer %s", name)
	}
	t := &hardwareTimer{
		ticker: hw.clock.Ticker(timerPeriod(freqHz)),
		stop:   make(chan struct{}),
	}
	hw.timers[name] = t
	go func() {
		defer t.ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-t.ticker.C:
				h()
			}
		}
	}()
	return nil
}

// DetachTimer stops the timer with given name.
func (hw *Hardware) DetachTimer(name string) error {
	hw.mutex.Lock()
	defer hw.mutex.Unlock()
	if t, found := hw.timers[name]; found {
		close(t.stop)
		delete(hw.timers, name)
	}
	return nil
}

// Poll does nothing; handlers are called by the pin & timer goroutines.
func (hw *Hardware) Poll() {}

// Close detaches all handlers.
func (hw *Hardware) Close() error {
	hw.mutex.Lock()
	pins := hw.pins
	hw.pins = make(map[int]*watchedPin)
	for name, t := range hw.timers {
		close(t.stop)
		delete(hw.timers, name)
	}
	hw.mutex.Unlock()

	var ae aerr.AggregateError
	for _, wp := range pins {
		if err := hw.stopPin(wp); err != nil {
			ae.Add(err)
		}
	}
	return ae.AsError()
}
