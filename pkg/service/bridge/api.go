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
	"time"

	"tinygo.org/x/drivers"
)

// API of the bridge, the hardware used to connect the host
// to the SPI & I2C buses that the chips are connected to.
type API interface {
	// Turn Green status led on/off
	SetGreenLED(on bool) error
	// Turn Red status led on/off
	SetRedLED(on bool) error
	// Blink Green status led with given duration between on/off
	BlinkGreenLED(delay time.Duration) error
	// Blink Red status led with given duration between on/off
	BlinkRedLED(delay time.Duration) error

	// Open the SPI bus with given number
	SPIBus(busNr int) (SPIBus, error)
	// Open the I2C bus with given number.
	// If sclPin >= 0, the bus tries to recover from lockups by
	// clocking the SCL pin.
	I2CBus(busNr int, sclPin int) (I2CBus, error)

	// Input initializes a GPIO input pin with the given pin number.
	Input(pinNumber int, activeLow bool) (InputPin, error)

	Close() error
}

// SPIBus gives access to the devices on a single SPI bus.
type SPIBus interface {
	// Connect to the device with given chip select number using
	// given clock speed and SPI mode (0..3).
	Connect(deviceNr int, speedHz int64, mode int) (SPIConn, error)
	// Close the bus
	Close() error
}

// SPIConn is a full duplex connection to a single SPI device.
type SPIConn interface {
	// Tx writes w while reading into r.
	Tx(w, r []byte) error
	// Close the connection
	Close() error
}

// I2CBus gives access to the devices on a single I2C bus.
type I2CBus interface {
	// Tx writes w to the device with given address, then reads
	// len(r) bytes from it.
	drivers.I2C
	// DetectSlaveAddresses probes the bus to detect available addresses.
	DetectSlaveAddresses() []byte
	// Close the bus and all devices on it
	Close() error
}

// InputPin is the interface satisfied by GPIO input pins.
type InputPin interface {
	Read() (bool, error)
}
