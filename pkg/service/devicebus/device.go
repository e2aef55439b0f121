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

package devicebus

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

const (
	// DefaultSPIFrequency is used when a SPI device has no frequency configured.
	DefaultSPIFrequency = 2000000
	// DefaultI2CFrequency is used when an I2C device has no frequency configured.
	DefaultI2CFrequency = 100000
)

// Device is a single chip on a bus.
type Device struct {
	Name   string
	Pin    model.Pin
	Driver Driver
	// Ext is the handle of the extension record in the pool of the driver.
	Ext Handle

	// Requested clock speed
	SpeedHz int64
	// SPI addressing
	CS       int
	Flags    int
	DeviceNr int
	// I2C addressing
	Address uint16

	log     zerolog.Logger
	bus     *Bus
	index   int
	enabled atomic.Bool
	spiConn bridge.SPIConn

	// Sticky "already reported" flags
	reportedNotConnected   bool
	reportedTransferFailed bool

	connected    atomic.Bool
	lastStatus   atomic.Int32
	transactions atomic.Uint64
	rounds       atomic.Uint64
}

// newDevice creates a device that is not yet initialized.
func newDevice(name string, pin model.Pin, drv Driver) *Device {
	d := &Device{
		Name:     name,
		Pin:      pin,
		Driver:   drv,
		Ext:      NoHandle,
		CS:       -1,
		DeviceNr: -1,
	}
	d.lastStatus.Store(int32(StatusNotConnected))
	return d
}

// Bus returns the bus the device is on.
func (d *Device) Bus() *Bus {
	return d.bus
}

// Index returns the position of the device on its bus.
func (d *Device) Index() int {
	return d.index
}

// Log returns the logger of the device.
func (d *Device) Log() *zerolog.Logger {
	return &d.log
}

// Enabled returns true when the device has been initialized successfully.
func (d *Device) Enabled() bool {
	return d.enabled.Load()
}

// Connected returns true when the last transaction with the device succeeded.
func (d *Device) Connected() bool {
	return d.connected.Load()
}

// LastStatus returns the status of the last transaction with the device.
func (d *Device) LastStatus() Status {
	return Status(d.lastStatus.Load())
}

// Transactions returns the number of transfers with the device.
func (d *Device) Transactions() uint64 {
	return d.transactions.Load()
}

// Rounds returns the number of completed protocol rounds of the device.
func (d *Device) Rounds() uint64 {
	return d.rounds.Load()
}

// Tx performs a transfer with the device outside of the scheduler,
// using private buffers.
// Only call this while the scheduler is not running (e.g. from Driver.Close).
func (d *Device) Tx(w, r []byte) error {
	if !d.enabled.Load() {
		return errors.Wrapf(NotConnectedError, "device %s", d.Name)
	}
	switch d.bus.Type {
	case model.BusTypeSPI:
		return d.spiConn.Tx(w, r)
	case model.BusTypeI2C:
		return d.bus.i2c.Tx(d.Address, w, r)
	default:
		return errors.Wrapf(InvalidArgumentError, "unknown bus type '%s'", d.bus.Type)
	}
}
