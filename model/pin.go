//    Copyright 2024 Ewout Prangsma
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

package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PinPrm identifies a numeric parameter of a pin.
type PinPrm string

const (
	// SPI bus role pins
	PinMISO PinPrm = "miso"
	PinMOSI PinPrm = "mosi"
	PinSCLK PinPrm = "sclk"
	// SPI chip select pin
	PinCS PinPrm = "cs"
	// I2C bus role pins
	PinSDA PinPrm = "sda"
	PinSCL PinPrm = "scl"
	// Requested clock frequency of the device in Hz
	PinFrequency PinPrm = "frequency"
	// Requested clock frequency of the device in kHz
	PinFrequencyKHz PinPrm = "frequency-khz"
	// Protocol flags (SPI mode in lower 2 bits)
	PinFlags PinPrm = "flags"
	// PWM frequency in Hz (PWM expanders only)
	PinPWMFrequency PinPrm = "pwm-frequency"
	// Interrupt line of the device (GPIO number)
	PinInterrupt PinPrm = "int"
)

// Pin holds the addressing record of a device on a bus.
type Pin struct {
	// Name of the pin, used in logs
	Name string `json:"name"`
	// Bank is the bus number
	Bank int `json:"bank"`
	// Address of the device on the bus. For SPI devices this is the
	// device number, for I2C devices the slave address.
	// Accepts decimal and 0x prefixed hexadecimal notation.
	Address string `json:"address"`
	// Numeric parameters
	Prm map[PinPrm]int `json:"prm,omitempty"`
}

// Get a parameter of the pin.
// Returns false if not set.
func (p Pin) Get(prm PinPrm) (int, bool) {
	v, found := p.Prm[prm]
	return v, found
}

// GetOrDefault returns the parameter of the pin or the given default
// value if not set.
func (p Pin) GetOrDefault(prm PinPrm, defaultValue int) int {
	if v, found := p.Prm[prm]; found {
		return v
	}
	return defaultValue
}

// FrequencyHz returns the requested clock frequency in Hz,
// or the given default if no frequency is configured.
func (p Pin) FrequencyHz(defaultValue int64) int64 {
	if v, found := p.Get(PinFrequency); found && v > 0 {
		return int64(v)
	}
	if v, found := p.Get(PinFrequencyKHz); found && v > 0 {
		return int64(v) * 1000
	}
	return defaultValue
}

// ParsedAddress returns the numeric address of the pin.
func (p Pin) ParsedAddress() (int, error) {
	if p.Address == "" {
		return 0, nil
	}
	result, err := ParseAddress(p.Address)
	if err != nil {
		return 0, errors.Wrapf(ValidationError, "invalid address '%s' in pin '%s'", p.Address, p.Name)
	}
	return result, nil
}

// ParseAddress parses a string containing a numeric address.
func ParseAddress(addr string) (int, error) {
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		addr = addr[2:]
		result, err := strconv.ParseUint(addr, 16, 32)
		if err != nil {
			return 0, err
		}
		return int(result), nil
	}
	result, err := strconv.ParseUint(addr, 10, 32)
	if err != nil {
		return 0, err
	}
	return int(result), nil
}
