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
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

// initHost loads the periph host drivers once.
func initHost() error {
	hostInitOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInitErr = errors.Wrap(err, "host.Init failed")
		}
	})
	return hostInitErr
}

type spiBus struct {
	busNr int
	label string
}

// NewSPIBus returns accessors to the SPI bus with given number.
func NewSPIBus(busNr int) (SPIBus, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	return &spiBus{
		busNr: busNr,
		label: strconv.Itoa(busNr),
	}, nil
}

// Connect to the device with given chip select number.
func (b *spiBus) Connect(deviceNr int, speedHz int64, mode int) (SPIConn, error) {
	name := fmt.Sprintf("SPI%d.%d", b.busNr, deviceNr)
	port, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", name)
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(speedHz), spi.Mode(mode&0x03), 8)
	if err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", name)
	}
	return &spiConn{
		port:   port,
		conn:   conn,
		bus:    b.label,
		device: strconv.Itoa(deviceNr),
	}, nil
}

// Close the bus. Connections are closed individually.
func (b *spiBus) Close() error {
	return nil
}

type spiConn struct {
	port   spi.PortCloser
	conn   spi.Conn
	bus    string
	device string
}

// Tx writes w while reading into r.
func (c *spiConn) Tx(w, r []byte) error {
	spiTxCounters.WithLabelValues(c.bus, c.device).Inc()
	if err := c.conn.Tx(w, r); err != nil {
		spiTxErrorCounters.WithLabelValues(c.bus, c.device).Inc()
		return errors.Wrap(err, "spi Tx failed")
	}
	return nil
}

// Close the connection
func (c *spiConn) Close() error {
	return c.port.Close()
}
