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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

// BufferSize is the size of the transfer buffer of a bus.
const BufferSize = 32

// Bus is a single physical SPI or I2C channel shared by one or more devices.
type Bus struct {
	Name string
	Type model.BusType
	// Number of the bus (taken from the bank of the first device)
	Number int

	// SPI bus role pins (-1 when using the default pins of the bus)
	MISO, MOSI, SCLK int
	// MultiDevice is set when more than one device shares the SPI bus.
	MultiDevice bool

	// I2C bus role pins (-1 when using the default pins of the bus)
	SDA, SCL int

	log     zerolog.Logger
	devices []*Device
	current int

	// Shared request/reply buffer
	buf     [BufferSize]byte
	scratch [BufferSize]byte
	outN    int
	inN     int
	lastErr error

	spi bridge.SPIBus
	i2c bridge.I2CBus

	transactions atomic.Uint64
	replyWrites  atomic.Uint64
	txCounter    prometheus.Counter
}

// newBus creates a bus without devices.
func newBus(log zerolog.Logger, name string, busType model.BusType) *Bus {
	return &Bus{
		Name:      name,
		Type:      busType,
		MISO:      -1,
		MOSI:      -1,
		SCLK:      -1,
		SDA:       -1,
		SCL:       -1,
		log:       log.With().Str("bus", name).Logger(),
		txCounter: busTransactionsTotal.WithLabelValues(name),
	}
}

// addDevice appends a device to the bus.
// Only valid while the device bus is being built.
func (b *Bus) addDevice(dev *Device) {
	dev.bus = b
	dev.index = len(b.devices)
	b.devices = append(b.devices, dev)
}

// Devices returns the devices on the bus in registration order.
func (b *Bus) Devices() []*Device {
	return b.devices
}

// Current returns the device that has the turn, or nil
// when the bus has no devices.
func (b *Bus) Current() *Device {
	if len(b.devices) == 0 {
		return nil
	}
	return b.devices[b.current]
}

// advance moves the cursor to the next device.
// Returns true when the cursor wrapped to the first device.
func (b *Bus) advance() bool {
	b.current++
	if b.current >= len(b.devices) {
		b.current = 0
		return true
	}
	return false
}

// Buffer returns the shared transfer buffer of the bus.
func (b *Bus) Buffer() []byte {
	return b.buf[:]
}

// SetRequest sets the number of bytes to send from the buffer and
// the number of reply bytes expected.
func (b *Bus) SetRequest(outN, inN int) {
	b.outN = min(outN, BufferSize)
	b.inN = min(inN, BufferSize)
}

// Reply returns the received bytes of the last transaction.
// It is empty when the transfer failed.
func (b *Bus) Reply() []byte {
	return b.buf[:b.inN]
}

// TransferError returns the error of the last transfer (if any).
func (b *Bus) TransferError() error {
	return b.lastErr
}

// Transactions returns the number of transfers performed on the bus.
func (b *Bus) Transactions() uint64 {
	return b.transactions.Load()
}

// ReplyWrites returns the number of times a reply was written into
// the shared buffer.
func (b *Bus) ReplyWrites() uint64 {
	return b.replyWrites.Load()
}

// transfer sends the prepared request to the given device and
// stores the reply in the shared buffer.
func (b *Bus) transfer(dev *Device) error {
	w := b.scratch[:b.outN]
	copy(w, b.buf[:b.outN])
	b.transactions.Add(1)
	b.txCounter.Inc()
	var err error
	switch b.Type {
	case model.BusTypeSPI:
		// Full duplex; clock out as many bytes as needed for the reply
		n := max(b.outN, b.inN)
		for i := b.outN; i < n; i++ {
			b.scratch[i] = 0
		}
		b.inN = n
		err = dev.spiConn.Tx(b.scratch[:n], b.buf[:n])
	case model.BusTypeI2C:
		err = b.i2c.Tx(dev.Address, w, b.buf[:b.inN])
	}
	b.replyWrites.Add(1)
	if err != nil {
		b.inN = 0
		b.lastErr = err
		return err
	}
	return nil
}

// DetectAddresses probes all addresses of an I2C bus and returns
// those that respond.
func (b *Bus) DetectAddresses() ([]byte, error) {
	if b.Type != model.BusTypeI2C {
		return nil, errors.Wrapf(InvalidArgumentError, "bus '%s' is not an i2c bus", b.Name)
	}
	if b.i2c == nil {
		return nil, errors.Wrapf(NotConnectedError, "bus '%s' is not open", b.Name)
	}
	return b.i2c.DetectSlaveAddresses(), nil
}
