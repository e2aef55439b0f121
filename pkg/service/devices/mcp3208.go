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
	"sync/atomic"

	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

const (
	mcp3208Channels = 8
	// Start bit & single ended mode in the first request byte
	mcp3208StartSingle = 0x06
	mcp3208ValueMask   = 0x0FFF
)

type mcp3208Record struct {
	// Last sample per channel, -1 when not yet read.
	values  [mcp3208Channels]atomic.Int32
	current int
}

// mcp3208 reads all channels of MCP3208 12-bit SPI ADC chips cyclically.
type mcp3208 struct {
	pool *devicebus.Arena[mcp3208Record]
}

var _ devicebus.Driver = &mcp3208{}

// newMCP3208 creates the driver for at most maxDevices chips.
func newMCP3208(maxDevices int) *mcp3208 {
	return &mcp3208{
		pool: devicebus.NewArena[mcp3208Record]("mcp3208", maxDevices),
	}
}

func (d *mcp3208) Name() string  { return "mcp3208" }
func (d *mcp3208) Channels() int { return mcp3208Channels }

// Attach allocates the channel values of the given device.
func (d *mcp3208) Attach(dev *devicebus.Device) error {
	h, rec, err := d.pool.Alloc()
	if err != nil {
		return err
	}
	for i := range rec.values {
		rec.values[i].Store(-1)
	}
	rec.current = 0
	dev.Ext = h
	return nil
}

// GenerateRequest requests a single ended conversion of the current channel.
func (d *mcp3208) GenerateRequest(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	ch := rec.current
	buf := dev.Bus().Buffer()
	buf[0] = mcp3208StartSingle | byte((ch&0x04)>>2)
	buf[1] = byte((ch & 0x03) << 6)
	buf[2] = 0
	dev.Bus().SetRequest(3, 3)
	return devicebus.StatusSuccess
}

// ProcessResponse stores the sample and moves to the next channel.
// The round is completed when all channels have been read.
func (d *mcp3208) ProcessResponse(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	reply := dev.Bus().Reply()
	if len(reply) < 3 {
		return devicebus.StatusTransferFailed
	}
	value := (int32(reply[1]&0x0F) << 8) | int32(reply[2])
	rec.values[rec.current].Store(value & mcp3208ValueMask)
	rec.current++
	if rec.current < mcp3208Channels {
		return devicebus.StatusSuccess
	}
	rec.current = 0
	return devicebus.StatusCompleted
}

// Set is ignored, the chip is read only.
func (d *mcp3208) Set(dev *devicebus.Device, addr int, value int) error {
	return nil
}

// Get returns the last sample of the given channel (0..4095),
// or -1 if none has been read or the channel is out of range.
func (d *mcp3208) Get(dev *devicebus.Device, addr int) (int, error) {
	rec := d.pool.Get(dev.Ext)
	if rec == nil || addr < 0 || addr >= mcp3208Channels {
		return -1, nil
	}
	return int(rec.values[addr].Load()), nil
}

// Close has nothing to restore.
func (d *mcp3208) Close(dev *devicebus.Device) error {
	return nil
}
