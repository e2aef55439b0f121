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
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

const (
	// Registry addresses with IOCON.BANK=0
	mcp23008RegIODIR = 0x00
	mcp23008RegIOCON = 0x05
	mcp23008RegGPIO  = 0x09
	mcp23008RegOLAT  = 0x0a

	// Sequential operation disabled
	mcp23008IOCONSeqOp = 0x20

	mcp23008Pins = 8
)

type mcp23008Step int

const (
	mcp23008WriteIOCON mcp23008Step = iota
	mcp23008WriteInitialIODIR
	mcp23008WriteIODIR
	mcp23008WriteOLAT
	mcp23008ReadGPIO
)

type mcp23008Record struct {
	// Only touched by the bus worker
	step        mcp23008Step
	initialized bool

	// Guarded by mutex, written by Set
	mutex    sync.Mutex
	iodir    byte
	olat     byte
	dirtyDir bool
	dirtyOut bool

	// Last read GPIO register, -1 when not yet read
	gpio atomic.Int32
}

// mcp23008 drives MCP23008 8-bit I2C GPIO expanders.
// All pins start as input. Setting a pin makes it an output.
type mcp23008 struct {
	pool *devicebus.Arena[mcp23008Record]
}

var _ devicebus.Driver = &mcp23008{}

// newMCP23008 creates the driver for at most maxDevices chips.
func newMCP23008(maxDevices int) *mcp23008 {
	return &mcp23008{
		pool: devicebus.NewArena[mcp23008Record]("mcp23008", maxDevices),
	}
}

func (d *mcp23008) Name() string  { return "mcp23008" }
func (d *mcp23008) Channels() int { return mcp23008Pins }

// Attach allocates the state of the given device.
func (d *mcp23008) Attach(dev *devicebus.Device) error {
	h, rec, err := d.pool.Alloc()
	if err != nil {
		return err
	}
	rec.iodir = 0xff
	rec.gpio.Store(-1)
	rec.step = mcp23008WriteIOCON
	dev.Ext = h
	return nil
}

// GenerateRequest writes IOCON & IODIR once, then writes changed
// directions & outputs and reads the GPIO register every round.
func (d *mcp23008) GenerateRequest(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	buf := bus.Buffer()
	if rec.initialized && rec.step == mcp23008WriteIODIR {
		rec.step = rec.nextSteadyStep()
	}
	switch rec.step {
	case mcp23008WriteIOCON:
		buf[0] = mcp23008RegIOCON
		buf[1] = mcp23008IOCONSeqOp
		bus.SetRequest(2, 0)
	case mcp23008WriteInitialIODIR, mcp23008WriteIODIR:
		rec.mutex.Lock()
		buf[1] = rec.iodir
		rec.dirtyDir = false
		rec.mutex.Unlock()
		buf[0] = mcp23008RegIODIR
		bus.SetRequest(2, 0)
	case mcp23008WriteOLAT:
		rec.mutex.Lock()
		buf[1] = rec.olat
		rec.dirtyOut = false
		rec.mutex.Unlock()
		buf[0] = mcp23008RegOLAT
		bus.SetRequest(2, 0)
	case mcp23008ReadGPIO:
		buf[0] = mcp23008RegGPIO
		bus.SetRequest(1, 1)
	}
	return devicebus.StatusSuccess
}

// nextSteadyStep returns the first step of a steady state round.
func (r *mcp23008Record) nextSteadyStep() mcp23008Step {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	switch {
	case r.dirtyDir:
		return mcp23008WriteIODIR
	case r.dirtyOut:
		return mcp23008WriteOLAT
	default:
		return mcp23008ReadGPIO
	}
}

// ProcessResponse stores the GPIO register and completes the round.
// A failed transfer during init starts the init over.
func (d *mcp23008) ProcessResponse(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	if bus.TransferError() != nil {
		// Resend everything once the chip responds again
		rec.mutex.Lock()
		rec.dirtyDir, rec.dirtyOut = true, true
		rec.mutex.Unlock()
		if !rec.initialized {
			rec.step = mcp23008WriteIOCON
			return devicebus.StatusNotConnected
		}
		rec.initialized = false
		rec.step = mcp23008WriteIOCON
		return devicebus.StatusTransferFailed
	}
	switch rec.step {
	case mcp23008WriteIOCON:
		rec.step = mcp23008WriteInitialIODIR
	case mcp23008WriteInitialIODIR:
		rec.initialized = true
		rec.mutex.Lock()
		rec.dirtyOut = true
		rec.mutex.Unlock()
		rec.step = mcp23008WriteOLAT
	case mcp23008WriteIODIR:
		rec.step = mcp23008WriteOLAT
		rec.mutex.Lock()
		if !rec.dirtyOut {
			rec.step = mcp23008ReadGPIO
		}
		rec.mutex.Unlock()
	case mcp23008WriteOLAT:
		rec.step = mcp23008ReadGPIO
	case mcp23008ReadGPIO:
		reply := bus.Reply()
		if len(reply) < 1 {
			rec.step = mcp23008WriteIODIR
			return devicebus.StatusTransferFailed
		}
		rec.gpio.Store(int32(reply[0]))
		rec.step = mcp23008WriteIODIR
		return devicebus.StatusCompleted
	}
	return devicebus.StatusPending
}

// Set the output level of the given pin (0..7).
// The pin is turned into an output.
func (d *mcp23008) Set(dev *devicebus.Device, addr int, value int) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return errors.Wrapf(devicebus.NotConnectedError, "device %s", dev.Name)
	}
	mask, err := mcp23008BitMask(addr)
	if err != nil {
		return err
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if rec.iodir&mask != 0 {
		rec.iodir &^= mask
		rec.dirtyDir = true
	}
	olat := rec.olat
	if value != 0 {
		olat |= mask
	} else {
		olat &^= mask
	}
	if olat != rec.olat {
		rec.olat = olat
		rec.dirtyOut = true
	}
	return nil
}

// Get the level of the given pin (0..7) as last read from the chip.
// Returns -1 when the chip has not been read yet.
func (d *mcp23008) Get(dev *devicebus.Device, addr int) (int, error) {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return -1, errors.Wrapf(devicebus.NotConnectedError, "device %s", dev.Name)
	}
	mask, err := mcp23008BitMask(addr)
	if err != nil {
		return -1, err
	}
	gpio := rec.gpio.Load()
	if gpio < 0 {
		return -1, nil
	}
	if byte(gpio)&mask != 0 {
		return 1, nil
	}
	return 0, nil
}

// Close restores all pins to input.
func (d *mcp23008) Close(dev *devicebus.Device) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return nil
	}
	rec.initialized = false
	rec.step = mcp23008WriteIOCON
	if err := dev.Tx([]byte{mcp23008RegIODIR, 0xff}, nil); err != nil {
		return errors.Wrap(err, "failed to restore mcp23008 inputs")
	}
	return nil
}

// mcp23008BitMask returns the bit of the given pin.
func mcp23008BitMask(pin int) (byte, error) {
	if pin < 0 || pin >= mcp23008Pins {
		return 0, errors.Wrapf(devicebus.InvalidPinError, "pin must be between 0 and 7, got %d", pin)
	}
	return 1 << uint(pin), nil
}
