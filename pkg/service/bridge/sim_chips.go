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

package bridge

import (
	"fmt"
	"sync"
)

// ErrSimNoAck is returned by simulated I2C chips that are disconnected.
var ErrSimNoAck = fmt.Errorf("no acknowledge from simulated chip")

// SimMCP3208 simulates an 8 channel 12-bit SPI ADC.
type SimMCP3208 struct {
	mutex  sync.Mutex
	values [8]uint16
}

// NewSimMCP3208 creates a simulated MCP3208 with all inputs at 0.
func NewSimMCP3208() *SimMCP3208 {
	return &SimMCP3208{}
}

func (c *SimMCP3208) Name() string { return "mcp3208" }

// SetValue sets the analog input value (0..4095) of the given channel.
func (c *SimMCP3208) SetValue(ch int, value uint16) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.values[ch&7] = value & 0x0FFF
}

// Exchange decodes a single ended conversion request.
func (c *SimMCP3208) Exchange(w, r []byte) error {
	if len(w) < 3 || len(r) < 3 {
		return fmt.Errorf("mcp3208 needs 3 byte frames, got %d/%d", len(w), len(r))
	}
	if w[0]&0x06 != 0x06 {
		// No start bit or differential mode
		r[0], r[1], r[2] = 0, 0, 0
		return nil
	}
	ch := int((w[0]&0x01)<<2) | int(w[1]>>6)
	c.mutex.Lock()
	v := c.values[ch]
	c.mutex.Unlock()
	r[0] = 0
	r[1] = byte(v>>8) & 0x0F
	r[2] = byte(v)
	return nil
}

const (
	simPCA9685Mode1    = 0x00
	simPCA9685Mode2    = 0x01
	simPCA9685LED0     = 0x06
	simPCA9685Prescale = 0xFE

	simPCA9685Restart = 0x80
	simPCA9685AI      = 0x20
	simPCA9685Sleep   = 0x10
)

// SimPCA9685 simulates a 16 channel 12-bit I2C PWM expander.
type SimPCA9685 struct {
	mutex        sync.Mutex
	regs         [256]byte
	disconnected bool
	muteReads    bool
	writes       int
}

// NewSimPCA9685 creates a simulated PCA9685 in its power-up state.
func NewSimPCA9685() *SimPCA9685 {
	c := &SimPCA9685{}
	c.regs[simPCA9685Mode1] = 0x11
	c.regs[simPCA9685Mode2] = 0x04
	c.regs[simPCA9685Prescale] = 0x1E
	for ch := 0; ch < 16; ch++ {
		c.regs[simPCA9685LED0+4*ch+3] = 0x10
	}
	return c
}

func (c *SimPCA9685) Name() string { return "pca9685" }

// SetConnected simulates (dis)connecting the chip.
func (c *SimPCA9685) SetConnected(connected bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disconnected = !connected
}

// SetMuteReads makes the chip accept writes but fail all reads.
func (c *SimPCA9685) SetMuteReads(mute bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.muteReads = mute
}

// Tx handles a register write followed by an optional read.
func (c *SimPCA9685) Tx(w, r []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disconnected {
		return ErrSimNoAck
	}
	if len(w) == 0 {
		return fmt.Errorf("pca9685 needs a register pointer")
	}
	ptr := w[0]
	for _, v := range w[1:] {
		c.writeReg(ptr, v)
		ptr = c.next(ptr)
	}
	if len(r) > 0 {
		if c.muteReads {
			return ErrSimNoAck
		}
		for i := range r {
			r[i] = c.regs[ptr]
			ptr = c.next(ptr)
		}
	}
	return nil
}

func (c *SimPCA9685) writeReg(reg, v byte) {
	c.writes++
	switch reg {
	case simPCA9685Mode1:
		if v&simPCA9685Restart != 0 {
			// Writing a 1 clears the restart bit
			v &^= simPCA9685Restart
		}
		c.regs[reg] = v
	case simPCA9685Prescale:
		// Prescale can only be written in sleep mode
		if c.regs[simPCA9685Mode1]&simPCA9685Sleep != 0 {
			c.regs[reg] = v
		}
	default:
		c.regs[reg] = v
	}
}

func (c *SimPCA9685) next(ptr byte) byte {
	if c.regs[simPCA9685Mode1]&simPCA9685AI == 0 {
		return ptr
	}
	return ptr + 1
}

// Mode1 returns the MODE1 register.
func (c *SimPCA9685) Mode1() byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.regs[simPCA9685Mode1]
}

// Mode2 returns the MODE2 register.
func (c *SimPCA9685) Mode2() byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.regs[simPCA9685Mode2]
}

// Prescale returns the PRE_SCALE register.
func (c *SimPCA9685) Prescale() byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.regs[simPCA9685Prescale]
}

// Output returns the raw ON & OFF register values of the given channel.
func (c *SimPCA9685) Output(ch int) (on, off uint16) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	base := simPCA9685LED0 + 4*ch
	on = uint16(c.regs[base]) | uint16(c.regs[base+1])<<8
	off = uint16(c.regs[base+2]) | uint16(c.regs[base+3])<<8
	return on, off
}

// Writes returns the number of register writes.
func (c *SimPCA9685) Writes() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.writes
}

const (
	simMCP23008IODIR = 0x00
	simMCP23008IOCON = 0x05
	simMCP23008GPIO  = 0x09
	simMCP23008OLAT  = 0x0A

	simMCP23008SEQOP = 0x20
)

// SimMCP23008 simulates an 8-bit I2C GPIO expander.
type SimMCP23008 struct {
	mutex        sync.Mutex
	regs         [11]byte
	inputs       byte
	disconnected bool
}

// NewSimMCP23008 creates a simulated MCP23008 in its power-up state.
func NewSimMCP23008() *SimMCP23008 {
	c := &SimMCP23008{}
	c.regs[simMCP23008IODIR] = 0xFF
	return c
}

func (c *SimMCP23008) Name() string { return "mcp23008" }

// SetConnected simulates (dis)connecting the chip.
func (c *SimMCP23008) SetConnected(connected bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disconnected = !connected
}

// SetInputs sets the external levels of the pins.
func (c *SimMCP23008) SetInputs(v byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inputs = v
}

// IODIR returns the direction register.
func (c *SimMCP23008) IODIR() byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.regs[simMCP23008IODIR]
}

// OLAT returns the output latch register.
func (c *SimMCP23008) OLAT() byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.regs[simMCP23008OLAT]
}

// Tx handles a register write followed by an optional read.
func (c *SimMCP23008) Tx(w, r []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disconnected {
		return ErrSimNoAck
	}
	if len(w) == 0 {
		return fmt.Errorf("mcp23008 needs a register pointer")
	}
	ptr := w[0]
	for _, v := range w[1:] {
		if int(ptr) < len(c.regs) {
			switch ptr {
			case simMCP23008GPIO:
				c.regs[simMCP23008OLAT] = v
			default:
				c.regs[ptr] = v
			}
		}
		ptr = c.next(ptr)
	}
	for i := range r {
		switch {
		case ptr == simMCP23008GPIO:
			iodir := c.regs[simMCP23008IODIR]
			r[i] = (c.inputs & iodir) | (c.regs[simMCP23008OLAT] &^ iodir)
		case int(ptr) < len(c.regs):
			r[i] = c.regs[ptr]
		default:
			r[i] = 0
		}
		ptr = c.next(ptr)
	}
	return nil
}

func (c *SimMCP23008) next(ptr byte) byte {
	if c.regs[simMCP23008IOCON]&simMCP23008SEQOP != 0 {
		return ptr
	}
	ptr++
	if int(ptr) >= len(c.regs) {
		ptr = 0
	}
	return ptr
}

const (
	simADS1115Conversion = 0x00
	simADS1115Config     = 0x01

	simADS1115OS = 0x8000
)

// SimADS1115 simulates a 4 channel 16-bit I2C ADC in single shot mode.
type SimADS1115 struct {
	mutex      sync.Mutex
	ptr        byte
	config     uint16
	conversion uint16
	values     [4]int16
	busyReads  int
	// Number of config reads that report busy after a conversion start
	BusyPolls int
}

// NewSimADS1115 creates a simulated ADS1115 in its power-up state.
func NewSimADS1115() *SimADS1115 {
	return &SimADS1115{
		config:    0x8583,
		BusyPolls: 1,
	}
}

func (c *SimADS1115) Name() string { return "ads1115" }

// SetValue sets the conversion result of the given single ended channel.
func (c *SimADS1115) SetValue(ch int, value int16) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.values[ch&3] = value
}

// Tx handles a pointer (and register) write followed by an optional read.
func (c *SimADS1115) Tx(w, r []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(w) > 0 {
		c.ptr = w[0] & 0x03
	}
	if len(w) >= 3 {
		v := uint16(w[1])<<8 | uint16(w[2])
		if c.ptr == simADS1115Config {
			c.config = v &^ simADS1115OS
			if v&simADS1115OS != 0 {
				// Start single shot conversion
				mux := (v >> 12) & 0x07
				if mux >= 4 {
					c.conversion = uint16(c.values[mux-4])
				}
				c.busyReads = c.BusyPolls
			}
		}
	}
	if len(r) >= 2 {
		var v uint16
		switch c.ptr {
		case simADS1115Conversion:
			v = c.conversion
		case simADS1115Config:
			v = c.config
			if c.busyReads > 0 {
				c.busyReads--
			} else {
				v |= simADS1115OS
			}
		}
		r[0] = byte(v >> 8)
		r[1] = byte(v)
	}
	return nil
}

// SimPCF8574 simulates an 8-bit quasi-bidirectional I2C GPIO expander.
type SimPCF8574 struct {
	mutex        sync.Mutex
	latch        byte
	inputs       byte
	disconnected bool
}

// NewSimPCF8574 creates a simulated PCF8574 with all pins high.
func NewSimPCF8574() *SimPCF8574 {
	return &SimPCF8574{latch: 0xFF, inputs: 0xFF}
}

func (c *SimPCF8574) Name() string { return "pcf8574" }

// SetConnected simulates (dis)connecting the chip.
func (c *SimPCF8574) SetConnected(connected bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disconnected = !connected
}

// SetInputs sets the external levels of the pins.
// A low input pulls the pin low regardless of the latch.
func (c *SimPCF8574) SetInputs(v byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inputs = v
}

// Port returns the last written port value.
func (c *SimPCF8574) Port() byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.latch
}

// Tx latches the last written byte and reads the pin levels.
func (c *SimPCF8574) Tx(w, r []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.disconnected {
		return ErrSimNoAck
	}
	if len(w) > 0 {
		c.latch = w[len(w)-1]
	}
	for i := range r {
		r[i] = c.latch & c.inputs
	}
	return nil
}
