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
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

// RunFlags modify the behavior of the scheduler.
// Reserved, pass RunFlagsNone.
type RunFlags int

const (
	RunFlagsNone RunFlags = 0
)

const (
	modeNone int32 = iota
	modeCooperative
	modeThreaded
)

const (
	// Interval used to poll for stopped bus workers
	stopPollInterval = time.Millisecond * 50
	// Delay of a bus worker after a round without any connected device
	defaultIdleDelay = time.Millisecond * 10
)

// DriverLookup returns the driver for the given chip family.
type DriverLookup func(t model.DriverType) (Driver, error)

// Dependencies of a DeviceBus.
type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
}

// DeviceBus schedules transactions to all devices on all buses.
type DeviceBus struct {
	Dependencies

	buses   []*Bus
	current int

	mode      atomic.Int32
	terminate atomic.Bool
	running   atomic.Int32
	idleDelay time.Duration
	// Called after every completed device round
	onActive func()
}

// New creates an empty DeviceBus.
func New(deps Dependencies) *DeviceBus {
	deps.Log = deps.Log.With().Str("component", "devicebus").Logger()
	return &DeviceBus{
		Dependencies: deps,
		idleDelay:    defaultIdleDelay,
		onActive:     func() {},
	}
}

// SetOnActive sets a callback that is invoked when a device completes a round.
// Must be called before scheduling starts.
func (db *DeviceBus) SetOnActive(cb func()) {
	if cb == nil {
		cb = func() {}
	}
	db.onActive = cb
}

// Build creates all buses & devices from the given configuration and
// initializes them. Invalid bus or device configurations are logged
// and leave the affected devices disabled.
func (db *DeviceBus) Build(conf model.Configuration, lookup DriverLookup) error {
	if len(db.buses) > 0 {
		return errors.Wrap(InvalidArgumentError, "device bus already built")
	}
	buses := make([]*Bus, 0, len(conf.Buses))
	for _, bc := range conf.Buses {
		if len(bc.Devices) == 0 {
			db.Log.Warn().Str("bus", bc.Name).Msg("Bus has no devices; skipping")
			continue
		}
		b := newBus(db.Log, bc.Name, bc.Type)
		for _, dc := range bc.Devices {
			drv, err := lookup(dc.Driver)
			if err != nil {
				return errors.Wrapf(err, "no driver for device '%s'", dc.Name)
			}
			b.addDevice(newDevice(dc.Name, dc.Pin, drv))
		}
		buses = append(buses, b)
	}
	db.buses = buses

	enabled := 0
	for _, b := range db.buses {
		if err := db.InitBus(b); err != nil {
			b.log.Error().Err(err).Msg("Failed to initialize bus; all devices on it are disabled")
			continue
		}
		for _, dev := range b.devices {
			if err := db.InitDevice(dev); err != nil {
				dev.log.Error().Err(err).Msg("Failed to initialize device")
				continue
			}
			enabled++
		}
	}
	devicesEnabledGauge.Set(float64(enabled))
	db.Log.Info().
		Int("buses", len(db.buses)).
		Int("enabled-devices", enabled).
		Msg("Built device bus")
	return nil
}

// Buses returns all buses in scheduling order.
func (db *DeviceBus) Buses() []*Bus {
	return db.buses
}

// DeviceByName returns the device with given name on the bus with given name.
func (db *DeviceBus) DeviceByName(busName, deviceName string) (*Device, bool) {
	for _, b := range db.buses {
		if b.Name != busName {
			continue
		}
		for _, d := range b.devices {
			if d.Name == deviceName {
				return d, true
			}
		}
	}
	return nil, false
}

// InitBus resolves the bus role pins from the first device on the bus
// and opens the underlying bus.
func (db *DeviceBus) InitBus(b *Bus) error {
	b.current = 0
	b.outN, b.inN = 0, 0
	b.lastErr = nil
	for _, dev := range b.devices {
		dev.log = b.log.With().Str("device", dev.Name).Str("driver", dev.Driver.Name()).Logger()
	}
	if len(b.devices) == 0 {
		return errors.Wrapf(InvalidArgumentError, "bus '%s' has no devices", b.Name)
	}
	first := b.devices[0].Pin
	b.Number = first.Bank

	switch b.Type {
	case model.BusTypeSPI:
		b.MISO = first.GetOrDefault(model.PinMISO, -1)
		b.MOSI = first.GetOrDefault(model.PinMOSI, -1)
		b.SCLK = first.GetOrDefault(model.PinSCLK, -1)
		if err := validateRolePins(map[string]int{"miso": b.MISO, "mosi": b.MOSI, "sclk": b.SCLK}); err != nil {
			return errors.Wrapf(err, "spi bus '%s'", b.Name)
		}
		b.MultiDevice = len(b.devices) > 1
		bus, err := db.Bridge.SPIBus(b.Number)
		if err != nil {
			return errors.Wrapf(err, "failed to open spi bus %d", b.Number)
		}
		b.spi = bus
	case model.BusTypeI2C:
		b.SDA = first.GetOrDefault(model.PinSDA, -1)
		b.SCL = first.GetOrDefault(model.PinSCL, -1)
		if err := validateRolePins(map[string]int{"sda": b.SDA, "scl": b.SCL}); err != nil {
			return errors.Wrapf(err, "i2c bus '%s'", b.Name)
		}
		bus, err := db.Bridge.I2CBus(b.Number, b.SCL)
		if err != nil {
			return errors.Wrapf(err, "failed to open i2c bus %d", b.Number)
		}
		b.i2c = bus
	default:
		return errors.Wrapf(InvalidArgumentError, "unknown bus type '%s'", b.Type)
	}
	b.log.Debug().
		Int("number", b.Number).
		Int("devices", len(b.devices)).
		Msg("Initialized bus")
	return nil
}

// validateRolePins checks that bus role pins are either all unset
// (default pins of the bus) or all set to distinct pins.
func validateRolePins(pins map[string]int) error {
	set := 0
	seen := make(map[int]string)
	for name, pin := range pins {
		if pin < 0 {
			continue
		}
		set++
		if other, found := seen[pin]; found {
			return errors.Wrapf(InvalidPinError, "pins %s and %s both use %d", other, name, pin)
		}
		seen[pin] = name
	}
	if set != 0 && set != len(pins) {
		return errors.Wrapf(InvalidPinError, "either all or none of the bus pins must be set")
	}
	return nil
}

// InitDevice resolves the addressing of the device, opens a handle
// on its bus and allocates the extension record of its driver.
func (db *DeviceBus) InitDevice(dev *Device) error {
	dev.enabled.Store(false)
	b := dev.bus
	addr, err := dev.Pin.ParsedAddress()
	if err != nil {
		return maskAny(err)
	}
	dev.Flags = dev.Pin.GetOrDefault(model.PinFlags, 0)

	switch b.Type {
	case model.BusTypeSPI:
		dev.DeviceNr = addr
		dev.CS = dev.Pin.GetOrDefault(model.PinCS, addr)
		for _, rolePin := range []int{b.MISO, b.MOSI, b.SCLK} {
			if rolePin >= 0 && dev.Pin.GetOrDefault(model.PinCS, -1) == rolePin {
				return errors.Wrapf(InvalidPinError, "chip select %d conflicts with bus pins", dev.CS)
			}
		}
		dev.SpeedHz = dev.Pin.FrequencyHz(DefaultSPIFrequency)
		if b.spi == nil {
			return errors.Wrap(NotConnectedError, "spi bus not open")
		}
		conn, err := b.spi.Connect(dev.DeviceNr, dev.SpeedHz, dev.Flags&0x03)
		if err != nil {
			return errors.Wrapf(err, "failed to connect to spi device %d", dev.DeviceNr)
		}
		dev.spiConn = conn
	case model.BusTypeI2C:
		if addr < 0x03 || addr > 0x77 {
			return errors.Wrapf(InvalidPinError, "i2c address 0x%02x out of range", addr)
		}
		dev.Address = uint16(addr)
		dev.SpeedHz = dev.Pin.FrequencyHz(DefaultI2CFrequency)
		if b.i2c == nil {
			return errors.Wrap(NotConnectedError, "i2c bus not open")
		}
	}

	if err := dev.Driver.Attach(dev); err != nil {
		dev.lastStatus.Store(int32(StatusAllocationFailed))
		db.closeConn(dev)
		return maskAny(err)
	}
	dev.enabled.Store(true)
	dev.log.Debug().
		Int64("speed", dev.SpeedHz).
		Str("address", dev.Pin.Address).
		Msg("Initialized device")
	return nil
}

// CloseDevice brings the chip back to a safe state and releases
// the handle on its bus.
func (db *DeviceBus) CloseDevice(dev *Device) error {
	if !dev.enabled.Load() {
		return nil
	}
	var ae aerr.AggregateError
	if err := dev.Driver.Close(dev); err != nil {
		ae.Add(errors.Wrapf(err, "failed to close device '%s'", dev.Name))
	}
	if err := db.closeConn(dev); err != nil {
		ae.Add(err)
	}
	dev.enabled.Store(false)
	dev.connected.Store(false)
	return ae.AsError()
}

func (db *DeviceBus) closeConn(dev *Device) error {
	if conn := dev.spiConn; conn != nil {
		dev.spiConn = nil
		if err := conn.Close(); err != nil {
			return errors.Wrapf(err, "failed to close spi connection of '%s'", dev.Name)
		}
	}
	return nil
}

// Close stops the bus workers (if running) and closes all devices.
func (db *DeviceBus) Close() error {
	db.StopMultithreadDeviceBus()
	var ae aerr.AggregateError
	for _, b := range db.buses {
		for _, dev := range b.devices {
			if err := db.CloseDevice(dev); err != nil {
				ae.Add(err)
			}
		}
	}
	return ae.AsError()
}

// RunDeviceBus performs a single transaction with the current device
// of the current bus. When the device completes its round (or fails)
// both the device cursor of the bus and the bus cursor advance.
// It never blocks longer than a single transfer.
func (db *DeviceBus) RunDeviceBus(flags RunFlags) (Status, error) {
	if !db.mode.CompareAndSwap(modeNone, modeCooperative) && db.mode.Load() != modeCooperative {
		return StatusPending, maskAny(ModeConflictError)
	}
	if len(db.buses) == 0 {
		return StatusCompleted, nil
	}
	b := db.buses[db.current]
	s, _ := db.runOneBus(b)
	if s == StatusCompleted || s.IsFailure() {
		db.current++
		if db.current >= len(db.buses) {
			db.current = 0
		}
	}
	return s, nil
}

// runOneBus performs a single transaction with the current device of
// the given bus. Returns the status of the device and true when the
// device cursor wrapped to the first device.
func (db *DeviceBus) runOneBus(b *Bus) (Status, bool) {
	dev := b.Current()
	if dev == nil {
		return StatusNotConnected, true
	}
	s := db.transact(b, dev)
	db.report(dev, s)
	if s == StatusCompleted || s.IsFailure() {
		if s == StatusCompleted {
			dev.rounds.Add(1)
			db.onActive()
		}
		return s, b.advance()
	}
	return s, false
}

// transact runs one request/transfer/response cycle.
func (db *DeviceBus) transact(b *Bus, dev *Device) Status {
	if !dev.enabled.Load() {
		return StatusNotConnected
	}
	b.outN, b.inN = 0, 0
	b.lastErr = nil
	s := dev.Driver.GenerateRequest(dev)
	if s == StatusCompleted || s.IsFailure() {
		return s
	}
	dev.transactions.Add(1)
	transferErr := b.transfer(dev)
	s = dev.Driver.ProcessResponse(dev)
	if transferErr != nil && !s.IsFailure() {
		s = StatusTransferFailed
	}
	return s
}

// report logs failures once per device and keeps statistics.
func (db *DeviceBus) report(dev *Device, s Status) {
	dev.lastStatus.Store(int32(s))
	switch s {
	case StatusNotConnected:
		dev.connected.Store(false)
		if !dev.reportedNotConnected {
			dev.reportedNotConnected = true
			dev.log.Warn().Msg("Device not connected")
		}
	case StatusTransferFailed:
		dev.connected.Store(false)
		if !dev.reportedTransferFailed {
			dev.reportedTransferFailed = true
			ev := dev.log.Warn()
			if err := dev.bus.lastErr; err != nil {
				ev = ev.Err(err)
			}
			ev.Msg("Transfer to device failed")
		}
	case StatusAllocationFailed:
		dev.connected.Store(false)
	default:
		dev.connected.Store(true)
		if dev.reportedNotConnected || dev.reportedTransferFailed {
			dev.reportedNotConnected = false
			dev.reportedTransferFailed = false
			dev.log.Info().Msg("Device connected")
		}
	}
	if s.IsFailure() {
		deviceFailuresTotal.WithLabelValues(dev.bus.Name, dev.Name, s.String()).Inc()
	}
}
