// Copyright 2020 Ewout Prangsma
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

package devices

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

const (
	pca9685MODE1Reg     = 0x00
	pca9685MODE2Reg     = 0x01
	pca9685LEDBaseReg   = 0x06
	pca9685PRESCALEReg  = 0xFE
	pca9685RegIncrement = 4

	// MODE1 bits
	pca9685Restart = 0x80
	pca9685AI      = 0x20
	pca9685Sleep   = 0x10
	pca9685AllCall = 0x01
	// MODE2 bits
	pca9685OutDrv = 0x04
	// Full on/off bit in ON_H/OFF_H
	pca9685Full = 0x10

	pca9685Channels       = 16
	pca9685MaxValue       = 4095
	pca9685OscillatorHz   = 25000000.0
	pca9685DefaultPWMFreq = 50
)

type pca9685State int

const (
	pca9685NotInitialized pca9685State = iota
	pca9685InitStarting
	pca9685InitModeQuery
	pca9685SetPWMFreq
	pca9685SetPWMFreq2
	pca9685InitFinished
)

type pca9685Record struct {
	// Only touched by the bus worker
	state    pca9685State
	mode1    byte
	prescale byte
	current  int
	writing  int

	// Guarded by mutex, written by Set
	mutex      sync.Mutex
	duty       [pca9685Channels]int
	pending    uint16
	configured uint16
}

// pca9685 drives PCA9685 16 channel 12-bit I2C PWM chips.
type pca9685 struct {
	pool *devicebus.Arena[pca9685Record]
}

var _ devicebus.Driver = &pca9685{}

// newPCA9685 creates the driver for at most maxDevices chips.
func newPCA9685(maxDevices int) *pca9685 {
	return &pca9685{
		pool: devicebus.NewArena[pca9685Record]("pca9685", maxDevices),
	}
}

func (d *pca9685) Name() string  { return "pca9685" }
func (d *pca9685) Channels() int { return pca9685Channels }

// Attach allocates the state of the given device.
// The PWM frequency is taken from the pwm-frequency parameter of the pin.
func (d *pca9685) Attach(dev *devicebus.Device) error {
	freq := dev.Pin.GetOrDefault(model.PinPWMFrequency, pca9685DefaultPWMFreq)
	if freq <= 0 {
		return errors.Wrapf(devicebus.InvalidArgumentError, "invalid pwm frequency %d", freq)
	}
	h, rec, err := d.pool.Alloc()
	if err != nil {
		return err
	}
	rec.state = pca9685NotInitialized
	rec.prescale = pca9685Prescale(freq)
	dev.Ext = h
	return nil
}

// pca9685Prescale returns the PRE_SCALE register value for the given
// PWM frequency.
func pca9685Prescale(freq int) byte {
	v := math.Round(pca9685OscillatorHz/(4096.0*float64(freq))) - 1
	// The chip clamps values below 3
	return byte(min(max(v, 3), 255))
}

// GenerateRequest prepares the next step of the init sequence, or
// the next pending channel update once initialized.
func (d *pca9685) GenerateRequest(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	buf := bus.Buffer()
	switch rec.state {
	case pca9685NotInitialized:
		// Reset to a known state
		buf[0] = pca9685MODE1Reg
		buf[1] = pca9685Sleep | pca9685AI | pca9685AllCall
		bus.SetRequest(2, 0)
	case pca9685InitStarting:
		buf[0] = pca9685MODE1Reg
		bus.SetRequest(1, 1)
	case pca9685InitModeQuery:
		buf[0] = pca9685PRESCALEReg
		buf[1] = rec.prescale
		bus.SetRequest(2, 0)
	case pca9685SetPWMFreq:
		buf[0] = pca9685MODE2Reg
		buf[1] = pca9685OutDrv
		bus.SetRequest(2, 0)
	case pca9685SetPWMFreq2:
		buf[0] = pca9685MODE1Reg
		buf[1] = (rec.mode1 &^ pca9685Sleep) | pca9685Restart | pca9685AI | pca9685AllCall
		bus.SetRequest(2, 0)
	default:
		ch, duty, found := rec.nextPending(rec.current)
		if !found {
			rec.current = 0
			return devicebus.StatusCompleted
		}
		rec.writing = ch
		rec.current = ch + 1
		on, off := pca9685Registers(duty)
		buf[0] = byte(pca9685LEDBaseReg + ch*pca9685RegIncrement)
		buf[1] = byte(on)
		buf[2] = byte(on >> 8)
		buf[3] = byte(off)
		buf[4] = byte(off >> 8)
		bus.SetRequest(5, 0)
	}
	return devicebus.StatusSuccess
}

// ProcessResponse moves the init sequence forward.
// Any failed transfer restarts the init sequence, since the chip
// may have lost power.
func (d *pca9685) ProcessResponse(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	if bus.TransferError() != nil {
		wasInitialized := rec.state == pca9685InitFinished
		if wasInitialized {
			rec.markPending(rec.writing)
		}
		rec.reset()
		if wasInitialized {
			return devicebus.StatusTransferFailed
		}
		return devicebus.StatusNotConnected
	}
	switch rec.state {
	case pca9685NotInitialized:
		rec.state = pca9685InitStarting
	case pca9685InitStarting:
		reply := bus.Reply()
		if len(reply) < 1 {
			rec.reset()
			return devicebus.StatusNotConnected
		}
		rec.mode1 = reply[0]
		rec.state = pca9685InitModeQuery
	case pca9685InitModeQuery:
		rec.state = pca9685SetPWMFreq
	case pca9685SetPWMFreq:
		rec.state = pca9685SetPWMFreq2
	case pca9685SetPWMFreq2:
		rec.state = pca9685InitFinished
		rec.current = 0
		// All outputs are off after a reset, send configured duty cycles again
		rec.mutex.Lock()
		rec.pending |= rec.configured
		rec.mutex.Unlock()
		dev.Log().Debug().Uint8("prescale", rec.prescale).Msg("PCA9685 initialized")
		return devicebus.StatusCompleted
	default:
		if rec.current >= pca9685Channels {
			rec.current = 0
			return devicebus.StatusCompleted
		}
	}
	return devicebus.StatusPending
}

// reset restarts the init sequence.
func (r *pca9685Record) reset() {
	r.state = pca9685NotInitialized
	r.current = 0
}

// nextPending returns the first channel >= from with a pending change
// and clears its pending flag.
func (r *pca9685Record) nextPending(from int) (int, int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for ch := from; ch < pca9685Channels; ch++ {
		mask := uint16(1) << uint(ch)
		if r.pending&mask != 0 {
			r.pending &^= mask
			return ch, r.duty[ch], true
		}
	}
	return 0, 0, false
}

func (r *pca9685Record) markPending(ch int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.pending |= uint16(1) << uint(ch)
}

// pca9685Registers returns the 13-bit ON & OFF register values for
// the given duty cycle.
func pca9685Registers(duty int) (on, off uint16) {
	switch {
	case duty > pca9685MaxValue:
		return pca9685Full << 8, 0
	case duty <= 0:
		return 0, pca9685Full << 8
	default:
		return 0, uint16(duty)
	}
}

// Set the duty cycle (0..4096) of the given channel (0..15).
// 0 is full off, 4096 (or more) is full on.
func (d *pca9685) Set(dev *devicebus.Device, addr int, value int) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return errors.Wrapf(devicebus.NotConnectedError, "device %s", dev.Name)
	}
	if addr < 0 || addr >= pca9685Channels {
		return errors.Wrapf(devicebus.InvalidArgumentError, "channel must be in 0..15 range, got %d", addr)
	}
	value = min(max(value, 0), pca9685MaxValue+1)
	mask := uint16(1) << uint(addr)
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if rec.configured&mask != 0 && rec.duty[addr] == value {
		return nil
	}
	rec.duty[addr] = value
	rec.configured |= mask
	rec.pending |= mask
	return nil
}

// Get the last set duty cycle of the given channel.
func (d *pca9685) Get(dev *devicebus.Device, addr int) (int, error) {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return 0, errors.Wrapf(devicebus.NotConnectedError, "device %s", dev.Name)
	}
	if addr < 0 || addr >= pca9685Channels {
		return 0, errors.Wrapf(devicebus.InvalidArgumentError, "channel must be in 0..15 range, got %d", addr)
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return rec.duty[addr], nil
}

// Close puts the chip in sleep mode, turning all outputs off.
func (d *pca9685) Close(dev *devicebus.Device) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return nil
	}
	rec.reset()
	if err := dev.Tx([]byte{pca9685MODE1Reg, pca9685Sleep | pca9685AI | pca9685AllCall}, nil); err != nil {
		return errors.Wrap(err, "failed to put pca9685 to sleep")
	}
	return nil
}
