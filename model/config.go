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
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// BusType identifies the kind of a physical bus.
type BusType string

const (
	BusTypeSPI BusType = "spi"
	BusTypeI2C BusType = "i2c"
)

// Validate the given type, returning nil on ok,
// or an error upon validation issues.
func (t BusType) Validate() error {
	switch t {
	case BusTypeSPI, BusTypeI2C:
		return nil
	default:
		return errors.Wrapf(ValidationError, "invalid bus type '%s'", string(t))
	}
}

// DriverType identifies a chip family (typically chip name).
type DriverType string

const (
	DriverTypeMCP3208  DriverType = "mcp3208"
	DriverTypePCA9685  DriverType = "pca9685"
	DriverTypeMCP23008 DriverType = "mcp23008"
	DriverTypeADS1115  DriverType = "ads1115"
	DriverTypePCF8574  DriverType = "pcf8574"
)

// BusType returns the type of bus the chip family is connected to.
func (t DriverType) BusType() BusType {
	switch t {
	case DriverTypeMCP3208:
		return BusTypeSPI
	default:
		return BusTypeI2C
	}
}

// Validate the given type, returning nil on ok,
// or an error upon validation issues.
func (t DriverType) Validate() error {
	switch t {
	case DriverTypeMCP3208, DriverTypePCA9685, DriverTypeMCP23008, DriverTypeADS1115, DriverTypePCF8574:
		return nil
	default:
		return errors.Wrapf(ValidationError, "invalid driver type '%s'", string(t))
	}
}

// Configuration holds the static bus & device configuration.
type Configuration struct {
	// Buses in scheduling order
	Buses []BusConfig `json:"buses"`
}

// BusConfig holds the configuration of a single physical bus.
type BusConfig struct {
	// Name of the bus
	Name string `json:"name"`
	// Type of the bus
	Type BusType `json:"type"`
	// Devices on the bus in registration order.
	// Bus role pins and the bus number are taken from the first device.
	Devices []DeviceConfig `json:"devices"`
}

// DeviceConfig holds the configuration of a single chip on a bus.
type DeviceConfig struct {
	// Name of the device
	Name string `json:"name"`
	// Driver (chip family) of the device
	Driver DriverType `json:"driver"`
	// Addressing record
	Pin Pin `json:"pin"`
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c Configuration) Validate() error {
	busNames := make(map[string]struct{})
	for _, b := range c.Buses {
		if err := b.Validate(); err != nil {
			return maskAny(err)
		}
		if _, found := busNames[b.Name]; found {
			return errors.Wrapf(ValidationError, "duplicate bus name '%s'", b.Name)
		}
		busNames[b.Name] = struct{}{}
	}
	return nil
}

// Validate the given bus configuration, returning nil on ok,
// or an error upon validation issues.
func (b BusConfig) Validate() error {
	if b.Name == "" {
		return errors.Wrap(ValidationError, "Name is empty")
	}
	if err := b.Type.Validate(); err != nil {
		return errors.Wrapf(ValidationError, "Error in Type of '%s': %s", b.Name, err.Error())
	}
	if len(b.Devices) == 0 {
		return errors.Wrapf(ValidationError, "Bus '%s' has no devices", b.Name)
	}
	names := make(map[string]struct{})
	for _, d := range b.Devices {
		if d.Name == "" {
			return errors.Wrapf(ValidationError, "Device without name on bus '%s'", b.Name)
		}
		if _, found := names[d.Name]; found {
			return errors.Wrapf(ValidationError, "Duplicate device '%s' on bus '%s'", d.Name, b.Name)
		}
		names[d.Name] = struct{}{}
		if err := d.Driver.Validate(); err != nil {
			return errors.Wrapf(ValidationError, "Error in Driver of '%s': %s", d.Name, err.Error())
		}
		if d.Driver.BusType() != b.Type {
			return errors.Wrapf(ValidationError, "Driver '%s' of '%s' cannot be used on %s bus '%s'", d.Driver, d.Name, b.Type, b.Name)
		}
	}
	return nil
}

// LoadConfiguration reads a configuration from a JSON file
// and validates it.
func LoadConfiguration(path string) (Configuration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, errors.Wrapf(err, "failed to read %s", path)
	}
	var result Configuration
	if err := json.Unmarshal(content, &result); err != nil {
		return Configuration{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	if err := result.Validate(); err != nil {
		return Configuration{}, maskAny(err)
	}
	return result, nil
}
