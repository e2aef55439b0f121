//    Copyright 2017 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecc1/gpio"
	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	greenLedPin = 23
	redLedPin   = 24
)

type statusLed struct {
	sync.Mutex
	pin         gpio.OutputPin
	cancelBlink func()
}

// Turn led on/off, cancel blink
func (l *statusLed) Set(on bool) error {
	l.Mutex.Lock()
	defer l.Mutex.Unlock()

	if cancel := l.cancelBlink; cancel != nil {
		l.cancelBlink = nil
		cancel()
	}
	if err := l.pin.Write(on); err != nil {
		return errors.Wrap(err, "Write failed")
	}
	return nil
}

// Blink led on/off
func (l *statusLed) Blink(delay time.Duration) error {
	l.Mutex.Lock()
	defer l.Mutex.Unlock()

	if cancel := l.cancelBlink; cancel != nil {
		l.cancelBlink = nil
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelBlink = cancel
	go func() {
		value := true
		for {
			l.Mutex.Lock()
			if ctx.Err() == nil {
				l.pin.Write(value)
				value = !value
			}
			l.Mutex.Unlock()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

type piBridge struct {
	mutex    sync.Mutex
	log      zerolog.Logger
	greenLed statusLed
	redLed   statusLed
	i2cBuses map[int]I2CBus
	spiBuses map[int]SPIBus
}

var _ API = &piBridge{}

// NewRaspberryPiBridge implements the bridge for Raspberry PI's
func NewRaspberryPiBridge(log zerolog.Logger) (API, error) {
	activeLow := true
	initialValue := false
	greenLed, err := gpio.Output(greenLedPin, activeLow, initialValue)
	if err != nil {
		return nil, errors.Wrap(err, "Output[greenLed] failed")
	}
	redLed, err := gpio.Output(redLedPin, activeLow, initialValue)
	if err != nil {
		return nil, errors.Wrap(err, "Output[redLed] failed")
	}
	return &piBridge{
		log:      log.With().Str("component", "rpi-bridge").Logger(),
		greenLed: statusLed{pin: greenLed},
		redLed:   statusLed{pin: redLed},
		i2cBuses: make(map[int]I2CBus),
		spiBuses: make(map[int]SPIBus),
	}, nil
}

// Input initializes a GPIO input pin with the given pin number.
func (p *piBridge) Input(pinNumber int, activeLow bool) (InputPin, error) {
	return gpio.Input(pinNumber, activeLow)
}

// Turn Green status led on/off
func (p *piBridge) SetGreenLED(on bool) error {
	if err := p.greenLed.Set(on); err != nil {
		return errors.Wrap(err, "Set[greenLed] failed")
	}
	return nil
}

// Turn Red status led on/off
func (p *piBridge) SetRedLED(on bool) error {
	if err := p.redLed.Set(on); err != nil {
		return errors.Wrap(err, "Set[redLed] failed")
	}
	return nil
}

// Blink Green status led with given duration between on/off
func (p *piBridge) BlinkGreenLED(delay time.Duration) error {
	if err := p.greenLed.Blink(delay); err != nil {
		return errors.Wrap(err, "Blink[greenLed] failed")
	}
	return nil
}

// Blink Red status led with given duration between on/off
func (p *piBridge) BlinkRedLED(delay time.Duration) error {
	if err := p.redLed.Blink(delay); err != nil {
		return errors.Wrap(err, "Blink[redLed] failed")
	}
	return nil
}

// Open the SPI bus with given number
func (p *piBridge) SPIBus(busNr int) (SPIBus, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if bus, found := p.spiBuses[busNr]; found {
		return bus, nil
	}
	bus, err := NewSPIBus(busNr)
	if err != nil {
		return nil, errors.Wrap(err, "NewSPIBus failed")
	}
	p.spiBuses[busNr] = bus
	return bus, nil
}

// Open the I2C bus with given number
func (p *piBridge) I2CBus(busNr int, sclPin int) (I2CBus, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if bus, found := p.i2cBuses[busNr]; found {
		return bus, nil
	}
	bus, err := NewI2CBus(p.log, fmt.Sprintf("/dev/i2c-%d", busNr), sclPin)
	if err != nil {
		return nil, errors.Wrap(err, "NewI2CBus failed")
	}
	p.i2cBuses[busNr] = bus
	return bus, nil
}

// Close all buses and turn off the status leds.
func (p *piBridge) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var ae aerr.AggregateError
	for nr, bus := range p.i2cBuses {
		if err := bus.Close(); err != nil {
			ae.Add(errors.Wrapf(err, "Close[i2c-%d] failed", nr))
		}
	}
	clear(p.i2cBuses)
	for nr, bus := range p.spiBuses {
		if err := bus.Close(); err != nil {
			ae.Add(errors.Wrapf(err, "Close[spi-%d] failed", nr))
		}
	}
	clear(p.spiBuses)
	p.greenLed.Set(false)
	p.redLed.Set(false)
	return ae.AsError()
}
