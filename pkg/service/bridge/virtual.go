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
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/binkynet/DeviceBus/model"
)

// SimSPIChip is a chip simulated on a virtual SPI bus.
type SimSPIChip interface {
	// Name of the chip family
	Name() string
	// Exchange w for r (full duplex).
	Exchange(w, r []byte) error
}

// SimI2CChip is a chip simulated on a virtual I2C bus.
type SimI2CChip interface {
	// Name of the chip family
	Name() string
	// Tx handles a write of w followed by a read into r.
	Tx(w, r []byte) error
}

// VirtualBridge implements the bridge without hardware.
// Chips are simulated in process.
type VirtualBridge struct {
	mutex    sync.Mutex
	spiChips map[int]map[int]SimSPIChip
	i2cChips map[int]map[uint16]SimI2CChip
	inputs   map[int]*SimInputPin
}

var _ API = &VirtualBridge{}

// NewVirtualBridge implements the bridge for a virtual device bus.
func NewVirtualBridge() *VirtualBridge {
	return &VirtualBridge{
		spiChips: make(map[int]map[int]SimSPIChip),
		i2cChips: make(map[int]map[uint16]SimI2CChip),
		inputs:   make(map[int]*SimInputPin),
	}
}

// AddSPIChip places a simulated chip on the given SPI bus & chip select.
func (p *VirtualBridge) AddSPIChip(busNr, deviceNr int, chip SimSPIChip) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	m, found := p.spiChips[busNr]
	if !found {
		m = make(map[int]SimSPIChip)
		p.spiChips[busNr] = m
	}
	m[deviceNr] = chip
}

// AddI2CChip places a simulated chip on the given I2C bus & address.
func (p *VirtualBridge) AddI2CChip(busNr int, address uint16, chip SimI2CChip) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	m, found := p.i2cChips[busNr]
	if !found {
		m = make(map[uint16]SimI2CChip)
		p.i2cChips[busNr] = m
	}
	m[address] = chip
}

// AddSimulatedChips places a simulated chip for every device
// in the given configuration.
func (p *VirtualBridge) AddSimulatedChips(conf model.Configuration) error {
	for _, b := range conf.Buses {
		if len(b.Devices) == 0 {
			continue
		}
		busNr := b.Devices[0].Pin.Bank
		for _, d := range b.Devices {
			addr, err := d.Pin.ParsedAddress()
			if err != nil {
				return errors.Wrapf(err, "device '%s'", d.Name)
			}
			switch d.Driver {
			case model.DriverTypeMCP3208:
				chip := NewSimMCP3208()
				for ch := 0; ch < 8; ch++ {
					chip.SetValue(ch, uint16(ch*512))
				}
				p.AddSPIChip(busNr, addr, chip)
			case model.DriverTypePCA9685:
				p.AddI2CChip(busNr, uint16(addr), NewSimPCA9685())
			case model.DriverTypeMCP23008:
				p.AddI2CChip(busNr, uint16(addr), NewSimMCP23008())
			case model.DriverTypeADS1115:
				p.AddI2CChip(busNr, uint16(addr), NewSimADS1115())
			case model.DriverTypePCF8574:
				p.AddI2CChip(busNr, uint16(addr), NewSimPCF8574())
			default:
				return fmt.Errorf("no simulated chip for driver '%s'", d.Driver)
			}
		}
	}
	return nil
}

// SetInput sets the level of a simulated input pin.
func (p *VirtualBridge) SetInput(pinNumber int, value bool) {
	pin, _ := p.Input(pinNumber, false)
	pin.(*SimInputPin).Set(value)
}

// Input initializes a GPIO input pin with the given pin number.
func (p *VirtualBridge) Input(pinNumber int, activeLow bool) (InputPin, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	pin, found := p.inputs[pinNumber]
	if !found {
		pin = &SimInputPin{}
		p.inputs[pinNumber] = pin
	}
	return pin, nil
}

// Turn Green status led on/off
func (p *VirtualBridge) SetGreenLED(on bool) error {
	return nil
}

// Turn Red status led on/off
func (p *VirtualBridge) SetRedLED(on bool) error {
	return nil
}

// Blink Green status led with given duration between on/off
func (p *VirtualBridge) BlinkGreenLED(delay time.Duration) error {
	return nil
}

// Blink Red status led with given duration between on/off
func (p *VirtualBridge) BlinkRedLED(delay time.Duration) error {
	return nil
}

// Open the SPI bus with given number
func (p *VirtualBridge) SPIBus(busNr int) (SPIBus, error) {
	return &virtualSPIBus{bridge: p, busNr: busNr}, nil
}

// Open the I2C bus with given number
func (p *VirtualBridge) I2CBus(busNr int, sclPin int) (I2CBus, error) {
	return &virtualI2CBus{bridge: p, busNr: busNr}, nil
}

func (p *VirtualBridge) Close() error {
	return nil
}

func (p *VirtualBridge) spiChip(busNr, deviceNr int) (SimSPIChip, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	chip, found := p.spiChips[busNr][deviceNr]
	return chip, found
}

func (p *VirtualBridge) i2cChip(busNr int, address uint16) (SimI2CChip, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	chip, found := p.i2cChips[busNr][address]
	return chip, found
}

type virtualSPIBus struct {
	bridge *VirtualBridge
	busNr  int
}

// Connect to the device with given chip select number.
// The chip is looked up on every transfer, so chips can be
// added or removed while running.
func (b *virtualSPIBus) Connect(deviceNr int, speedHz int64, mode int) (SPIConn, error) {
	return &virtualSPIConn{bus: b, deviceNr: deviceNr}, nil
}

func (b *virtualSPIBus) Close() error {
	return nil
}

type virtualSPIConn struct {
	bus      *virtualSPIBus
	deviceNr int
}

// Tx writes w while reading into r.
func (c *virtualSPIConn) Tx(w, r []byte) error {
	chip, found := c.bus.bridge.spiChip(c.bus.busNr, c.deviceNr)
	if !found {
		return fmt.Errorf("device %d not found on spi bus %d", c.deviceNr, c.bus.busNr)
	}
	simTxCounters.WithLabelValues(strconv.Itoa(c.bus.busNr), chip.Name()).Inc()
	return chip.Exchange(w, r)
}

func (c *virtualSPIConn) Close() error {
	return nil
}

type virtualI2CBus struct {
	bridge *VirtualBridge
	busNr  int
}

// Tx writes w to the device with given address, then reads len(r) bytes.
func (b *virtualI2CBus) Tx(addr uint16, w, r []byte) error {
	chip, found := b.bridge.i2cChip(b.busNr, addr)
	if !found {
		return fmt.Errorf("device %0x not found", addr)
	}
	simTxCounters.WithLabelValues(strconv.Itoa(b.busNr), chip.Name()).Inc()
	return chip.Tx(w, r)
}

// DetectSlaveAddresses returns the addresses of all simulated chips on the bus.
func (b *virtualI2CBus) DetectSlaveAddresses() []byte {
	b.bridge.mutex.Lock()
	addrs := lo.Keys(b.bridge.i2cChips[b.busNr])
	b.bridge.mutex.Unlock()

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return lo.Map(addrs, func(a uint16, _ int) byte { return byte(a) })
}

func (b *virtualI2CBus) Close() error {
	return nil
}

// SimInputPin is a GPIO input of the virtual bridge.
type SimInputPin struct {
	mutex sync.Mutex
	value bool
}

// Read the current level
func (p *SimInputPin) Read() (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.value, nil
}

// Set the current level
func (p *SimInputPin) Set(value bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.value = value
}
