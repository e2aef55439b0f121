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

package bridge

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/ecc1/gpio"
	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/rs/zerolog"
	"tinygo.org/x/drivers"

	"github.com/binkynet/DeviceBus/pkg/service/util"
)

type i2cBus struct {
	log                  zerolog.Logger
	location             string
	label                string
	devices              map[uint8]*i2cDevice
	queue                chan func()
	cancel               context.CancelFunc
	sclPin               int
	tryRecoverFromLockup bool
}

var _ drivers.I2C = &i2cBus{}

const (
	I2C_RECOVER_NUM_CLOCKS = 10    /* # clock cycles for recovery  */
	I2C_RECOVER_CLOCK_FREQ = 50000 /* clock frequency for recovery */

	I2C_RECOVER_CLOCK_DELAY_US = (1000000 / (2 * I2C_RECOVER_CLOCK_FREQ))
)

// NewI2CBus returns accessors the the I2C bus at the given location.
// Bus requests are processed by a single goroutine pinned to its own
// OS thread.
func NewI2CBus(log zerolog.Logger, location string, sclPin int) (I2CBus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &i2cBus{
		log:                  log.With().Str("i2c", location).Logger(),
		location:             location,
		label:                location,
		devices:              make(map[uint8]*i2cDevice),
		queue:                make(chan func()),
		cancel:               cancel,
		sclPin:               sclPin,
		tryRecoverFromLockup: sclPin >= 0,
	}
	go b.queueProcessor(ctx)
	if b.tryRecoverFromLockup {
		if err := b.recoverFromLockup(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to recover bus at startup: %w", err)
		}
		time.Sleep(time.Second * 2)
	}
	return b, nil
}

// Tx writes w to the device with given address, then reads len(r) bytes.
func (b *i2cBus) Tx(addr uint16, w, r []byte) error {
	return b.Execute(context.Background(), uint8(addr), func(ctx context.Context, dev *i2cDevice) error {
		if len(w) > 0 {
			if err := dev.WriteDevice(w); err != nil {
				return err
			}
		}
		if len(r) > 0 {
			if err := dev.ReadDevice(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Execute an option on the bus.
func (b *i2cBus) Execute(ctx context.Context, address uint8, op func(context.Context, *i2cDevice) error) error {
	var c util.Completion
	req := func() {
		c.Complete(b.execute(ctx, address, op))
	}

	// Put request in queue
	select {
	case b.queue <- req:
		// Request is on the queue
	case <-ctx.Done():
		// Context canceled
		return ctx.Err()
	}
	return c.Wait()
}

// Process bus requests from the queue until the given context is canceled.
func (b *i2cBus) queueProcessor(ctx context.Context) {
	// Ensure we're always using the same OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Process the queue
	for {
		select {
		case req := <-b.queue:
			// Execute the given request
			req()
		case <-ctx.Done():
			// Context canceled
			return
		}
	}
}

// Execute an option on the bus.
func (b *i2cBus) execute(ctx context.Context, address uint8, op func(context.Context, *i2cDevice) error) error {
	addrLabel := strconv.Itoa(int(address))
	i2cExecuteCounters.WithLabelValues(b.label, addrLabel).Inc()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		// Open device
		var dev *i2cDevice
		dev, err = b.openDevice(address)
		if err != nil {
			i2cExecuteErrorCounters.WithLabelValues(b.label, addrLabel).Inc()
			return fmt.Errorf("openDevice(%d) failed: %w", address, err)
		}

		// Execute operation
		err = op(ctx, dev)
		if err == nil {
			// Success
			return nil
		}

		// Device call failed, close all devices
		for _, d := range b.devices {
			d.closeFile()
		}
		clear(b.devices)

		// Perform recovery (if configured)
		if b.tryRecoverFromLockup {
			i2cRecoveryAttemptsTotal.Inc()
			if err := b.recoverFromLockup(); err != nil {
				i2cRecoveryFailedTotal.Inc()
				return fmt.Errorf("i2c recovery failed: %w", err)
			}
			i2cRecoverySucceededTotal.Inc()
		} else {
			i2cRecoverySkippedTotal.Inc()
		}
	}
	// Return error
	i2cExecuteErrorCounters.WithLabelValues(b.label, addrLabel).Inc()
	return fmt.Errorf("execute operation in i2c bus failed: %w", err)
}

// Open a connection to a device at the given address.
func (b *i2cBus) openDevice(address uint8) (*i2cDevice, error) {
	// Did we already open the device?
	if d, found := b.devices[address]; found {
		return d, nil
	}

	// Open new device
	d, err := newI2CDevice(b.location, address)
	if err != nil {
		return nil, err
	}

	// Register device
	b.devices[address] = d

	return d, nil
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (b *i2cBus) DetectSlaveAddresses() []byte {
	var result []byte
	b.runOnQueue(func() {
		for addr := uint8(1); addr < 128; addr++ {
			if d, err := newI2CDevice(b.location, addr); err == nil {
				if err := d.DetectDevice(); err == nil {
					result = append(result, addr)
				}
				d.closeFile()
			}
		}
	})
	return result
}

// Close the bus and all devices on it
func (b *i2cBus) Close() error {
	var ae aerr.AggregateError
	b.runOnQueue(func() {
		// Capture all devices
		devices := make([]*i2cDevice, 0, len(b.devices))
		for _, d := range b.devices {
			devices = append(devices, d)
		}

		// Close all collected devices
		for _, d := range devices {
			if err := d.closeFile(); err != nil {
				ae.Add(err)
			}
			delete(b.devices, d.address)
		}
	})
	b.cancel()
	return ae.AsError()
}

// runOnQueue executes the given function on the queue processor
// and waits until it has finished.
func (b *i2cBus) runOnQueue(fn func()) {
	var c util.Completion
	b.queue <- func() {
		defer c.Complete(nil)
		fn()
	}
	c.Wait()
}

// Try to recover the i2c bus from lockup.
func (b *i2cBus) recoverFromLockup() error {
	b.log.Info().Int("scl", b.sclPin).Msg("Performing i2c recovery ...")
	activeLow := true
	initialValue := true
	scl, err := gpio.Output(b.sclPin, activeLow, initialValue)
	if err != nil {
		return fmt.Errorf("failed to set scl pin to output: %w", err)
	}
	for i := 0; i < I2C_RECOVER_NUM_CLOCKS; i++ {
		time.Sleep(time.Microsecond * I2C_RECOVER_CLOCK_DELAY_US)
		if err := scl.Write(false); err != nil {
			return fmt.Errorf("failed to lower scl during i2c recovery: %w", err)
		}
		time.Sleep(time.Microsecond * I2C_RECOVER_CLOCK_DELAY_US)
		if err := scl.Write(true); err != nil {
			return fmt.Errorf("failed to raise scl during i2c recovery: %w", err)
		}
	}
	// Reset pin to be input
	if _, err := gpio.Input(b.sclPin, activeLow); err != nil {
		return fmt.Errorf("failed to reset scl pin to input: %w", err)
	}
	// Unexport the pin
	unexportPath := "/sys/class/gpio/unexport"
	unexportContent := strconv.Itoa(b.sclPin)
	if err := os.WriteFile(unexportPath, []byte(unexportContent), 0644); err != nil {
		return fmt.Errorf("failed to unexport scl pin to input: %w", err)
	}

	b.log.Info().Msg("Performed i2c recovery.")
	return nil
}
