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
	// Registry addresses
	ads1115RegConversion = 0x00
	ads1115RegConfig     = 0x01

	ads1115Channels = 4
	// Number of busy polls before a conversion is given up.
	// A conversion at 250 SPS takes 4ms.
	ads1115MaxBusyPolls = 64
)

const (
	// Config mode flags
	ADS1X15_REG_CONFIG_OS_MASK    = (0x8000) ///< OS Mask
	ADS1X15_REG_CONFIG_OS_SINGLE  = (0x8000) ///< Write: Set to start a single-conversion
	ADS1X15_REG_CONFIG_OS_NOTBUSY = (0x8000) ///< Read: Bit = 1 when device is not performing a conversion

	ADS1X15_REG_CONFIG_MUX_SINGLE_0 = (0x4000) ///< Single-ended AIN0
	ADS1X15_REG_CONFIG_MUX_SINGLE_1 = (0x5000) ///< Single-ended AIN1
	ADS1X15_REG_CONFIG_MUX_SINGLE_2 = (0x6000) ///< Single-ended AIN2
	ADS1X15_REG_CONFIG_MUX_SINGLE_3 = (0x7000) ///< Single-ended AIN3

	ADS1X15_REG_CONFIG_PGA_6_144V = (0x0000) ///< +/-6.144V range = Gain 2/3

	ADS1X15_REG_CONFIG_MODE_SINGLE = (0x0100) ///< Power-down single-shot mode (default)

	ADS1X15_REG_CONFIG_CMODE_TRAD   = (0x0000) ///< Traditional comparator with hysteresis (default)
	ADS1X15_REG_CONFIG_CPOL_ACTVLOW = (0x0000) ///< ALERT/RDY pin is low when active (default)
	ADS1X15_REG_CONFIG_CLAT_NONLAT  = (0x0000) ///< Non-latching comparator (default)
	ADS1X15_REG_CONFIG_CQUE_NONE    = (0x0003) ///< Disable the comparator and put ALERT/RDY in high state (default)

	RATE_ADS1115_250SPS = (0x00A0) ///< 250 samples per second
)

var (
	MUX_BY_CHANNEL = []uint16{
		ADS1X15_REG_CONFIG_MUX_SINGLE_0, ///< Single-ended AIN0
		ADS1X15_REG_CONFIG_MUX_SINGLE_1, ///< Single-ended AIN1
		ADS1X15_REG_CONFIG_MUX_SINGLE_2, ///< Single-ended AIN2
		ADS1X15_REG_CONFIG_MUX_SINGLE_3, ///< Single-ended AIN3
	} ///< MUX config by channel
)

type ads1115Step int

const (
	ads1115StartConversion ads1115Step = iota
	ads1115PollConfig
	ads1115ReadConversion
)

type ads1115Record struct {
	values  [ads1115Channels]atomic.Int32
	current   int
	step      ads1115Step
	busyPolls int
}

// ads1115 reads all channels of ADS1115 16-bit I2C ADC chips cyclically,
// using single shot conversions.
type ads1115 struct {
	pool *devicebus.Arena[ads1115Record]
}

var _ devicebus.Driver = &ads1115{}

// newADS1115 creates the driver for at most maxDevices chips.
func newADS1115(maxDevices int) *ads1115 {
	return &ads1115{
		pool: devicebus.NewArena[ads1115Record]("ads1115", maxDevices),
	}
}

func (d *ads1115) Name() string  { return "ads1115" }
func (d *ads1115) Channels() int { return ads1115Channels }

// Attach allocates the channel values of the given device.
func (d *ads1115) Attach(dev *devicebus.Device) error {
	h, rec, err := d.pool.Alloc()
	if err != nil {
		return err
	}
	for i := range rec.values {
		rec.values[i].Store(-1)
	}
	rec.current = 0
	rec.step = ads1115StartConversion
	rec.busyPolls = 0
	dev.Ext = h
	return nil
}

// GenerateRequest starts a conversion, polls for its completion or
// reads its result.
func (d *ads1115) GenerateRequest(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	buf := bus.Buffer()
	switch rec.step {
	case ads1115StartConversion:
		// ADS115 transfer MSB first, then LSB
		configBits := createConfigBits(rec.current) | ADS1X15_REG_CONFIG_OS_SINGLE
		buf[0] = ads1115RegConfig
		buf[1] = byte(configBits >> 8)
		buf[2] = byte(configBits)
		bus.SetRequest(3, 0)
	case ads1115PollConfig:
		buf[0] = ads1115RegConfig
		bus.SetRequest(1, 2)
	case ads1115ReadConversion:
		buf[0] = ads1115RegConversion
		bus.SetRequest(1, 2)
	}
	return devicebus.StatusSuccess
}

// ProcessResponse moves to the next step once the conversion completed.
// The round is completed when all channels have been converted.
func (d *ads1115) ProcessResponse(dev *devicebus.Device) devicebus.Status {
	rec := d.pool.Get(dev.Ext)
	bus := dev.Bus()
	if bus.TransferError() != nil {
		rec.step = ads1115StartConversion
		return devicebus.StatusTransferFailed
	}
	reply := bus.Reply()
	switch rec.step {
	case ads1115StartConversion:
		rec.step = ads1115PollConfig
		rec.busyPolls = 0
	case ads1115PollConfig:
		if len(reply) < 2 {
			rec.step = ads1115StartConversion
			return devicebus.StatusTransferFailed
		}
		status := uint16(reply[0])<<8 | uint16(reply[1])
		if status&ADS1X15_REG_CONFIG_OS_MASK == ADS1X15_REG_CONFIG_OS_NOTBUSY {
			rec.step = ads1115ReadConversion
			break
		}
		rec.busyPolls++
		if rec.busyPolls >= ads1115MaxBusyPolls {
			// Conversion never finishes, give the bus to the next device
			rec.step = ads1115StartConversion
			rec.busyPolls = 0
			return devicebus.StatusNotConnected
		}
	case ads1115ReadConversion:
		if len(reply) < 2 {
			rec.step = ads1115StartConversion
			return devicebus.StatusTransferFailed
		}
		value := int16(uint16(reply[0])<<8 | uint16(reply[1]))
		rec.values[rec.current].Store(int32(value))
		rec.step = ads1115StartConversion
		rec.current++
		if rec.current >= ads1115Channels {
			rec.current = 0
			return devicebus.StatusCompleted
		}
	}
	return devicebus.StatusPending
}

// Set is ignored, the chip is read only.
func (d *ads1115) Set(dev *devicebus.Device, addr int, value int) error {
	return nil
}

// Get returns the last conversion result of the given channel,
// or -1 if none has been read or the channel is out of range.
// Conversion results are signed, so -1 is also a valid reading.
// Use the connected state or round count of the device to tell
// an unsampled channel apart.
func (d *ads1115) Get(dev *devicebus.Device, addr int) (int, error) {
	rec := d.pool.Get(dev.Ext)
	if rec == nil || addr < 0 || addr >= ads1115Channels {
		return -1, nil
	}
	return int(rec.values[addr].Load()), nil
}

// Close restores the default config.
func (d *ads1115) Close(dev *devicebus.Device) error {
	rec := d.pool.Get(dev.Ext)
	if rec == nil {
		return nil
	}
	rec.step = ads1115StartConversion
	configBits := createConfigBits(0)
	return dev.Tx([]byte{ads1115RegConfig, byte(configBits >> 8), byte(configBits)}, nil)
}

// createConfigBits creates bits for the Config registry for a single shot
// on channel 0..3.
// Note that the start for a single conversion bit is not included.
func createConfigBits(ch int) uint16 {
	return ADS1X15_REG_CONFIG_CQUE_NONE |
		ADS1X15_REG_CONFIG_CLAT_NONLAT |
		ADS1X15_REG_CONFIG_CPOL_ACTVLOW |
		ADS1X15_REG_CONFIG_CMODE_TRAD |
		RATE_ADS1115_250SPS |
		ADS1X15_REG_CONFIG_MODE_SINGLE |
		ADS1X15_REG_CONFIG_PGA_6_144V |
		MUX_BY_CHANNEL[ch]
}
