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

const pcf8574Pins = 8

type pcf8574Record struct {
	// Only touched by the bus worker
	seen bool

	// Guarded by mutex, written by Set
	mutex     sync.Mutex
	direction byte // 1/0 per bit means read/write
	output    byte // 1/0 bit per pin

	// Last read port value, -1 when not yet read
	port atomic.Int32
}

// mergeDirectionAndOutput creates the value to write to the device.
// Per bit the following applies:
// - Direction is input -> bit is set to 1 (weak pull up)
// - Direction is output -> bit is set to output bit
func (r *pcf8574Record) mergeDirectionAndOutput() byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.direction | r.output
}

// pcf8574 drives PCF8574 8-bit quasi-bidirectional I2C GPIO expanders.
// The chip has no registers: every round writes the port and reads it back
// in a single transaction.
type pcf8574 struct {
	pool *devicebus.Arena[pcf8574Record]
}

var _ devicebus.Driver = &pcf8574{}

// newPCF8574 creates the driver for at most maxDevices chips.
func newPCF8574(maxDevices int) *pcf8574 {
	return &pcf8574{
		pool: devicebus.NewArena[pcf8574Record]("pcf8574", maxDevices),
	}
}

func (d *pcf8574) Name() string  { return "pcf8574" }
func (d *pcf8574) Channels() int { return pcf8574Pins }

// Attach allocates the state of the given device. All pins start as input.
func (d *pcf8574) Attach(dev *devicebus.Device) error {
	h, rec, err := d.pool.Alloc()
	if err != nil {
		return err
	}
	rec.direction = 0xff
	rec.port.Store(-1)
	dev.Ext = h
	return nil
}

func (d *pcf8574) GenerateRequest(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	bus.Buffer()[0] = rec.mergeDirectionAndOutput()
	bus.SetRequest(1, 1)
	return devicebus.StatusSuccess
}

func (d *pcf8574) ProcessResponse(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	reply := bus.Reply()
	if bus.TransferError() != nil || len(reply) < 1 {
		if !rec.seen {
			return devicebus.StatusNotConnected
		}
		return devicebus.StatusTransferFailed
	}
	rec.seen = true
	rec.port.Store(int32(reply[0]))
	return devicebus.StatusCompleted
}

// Set the output level of the given pin (0..7).
// The pin is turned into an output. A negative value turns it back into an input.
func (d *pcf8574) Set(dev *devicebus.Device, addr int, value int) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return errors.Wrapf(devicebus.NotConnectedError, "device %s", dev.Name)
	}
	mask, err := pcf8574BitMask(addr)
	if err != nil {
		return err
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	rec.output &^= mask
	switch {
	case value < 0:
		rec.direction |= mask
	case value > 0:
		rec.direction &^= mask
		rec.output |= mask
	default:
		rec.direction &^= mask
	}
	return nil
}

// Get the level of the given pin (0..7) as last read from the chip.
// Returns -1 when the chip has not been read yet.
func (d *pcf8574) Get(dev *devicebus.Device, addr int) (int, error) {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return -1, errors.Wrapf(devicebus.NotConnectedError, "device %s", dev.Name)
	}
	mask, err := pcf8574BitMask(addr)
	if err != nil {
		return -1, err
	}
	port := rec.port.Load()
	if port < 0 {
		return -1, nil
	}
	if byte(port)&mask != 0 {
		return 1, nil
	}
	return 0, nil
}

// Close sets all pins to INPUT HIGH.
func (d *pcf8574) Close(dev *devicebus.Device) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return nil
	}
	rec.mutex.Lock()
	rec.direction, rec.output = 0xff, 0
	rec.mutex.Unlock()
	if err := dev.Tx([]byte{0xff}, nil); err != nil {
		return errors.Wrap(err, "failed to restore pcf8574 inputs")
	}
	return nil
}

// pcf8574BitMask calculates a bit map (bit set for the given pin)
func pcf8574BitMask(pin int) (byte, error) {
	if pin < 0 || pin >= pcf8574Pins {
		return 0, errors.Wrapf(devicebus.InvalidPinError, "pin must be between 0 and 7, got %d", pin)
	}
	return 1 << uint(pin), nil
}
