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
	"sync"

	"github.com/pkg/errors"

	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

// echoChip returns the request bytes as reply.
type echoChip struct {
	mutex        sync.Mutex
	disconnected bool
}

func (c *echoChip) Name() string { return "echo" }

func (c *echoChip) setConnected(connected bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disconnected = !connected
}

func (c *echoChip) Tx(w, r []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.disconnected {
		return bridge.ErrSimNoAck
	}
	copy(r, w)
	return nil
}

func (c *echoChip) Exchange(w, r []byte) error {
	return c.Tx(w, r)
}

var (
	_ bridge.SimI2CChip = &echoChip{}
	_ bridge.SimSPIChip = &echoChip{}
)

type fakeExt struct {
	tag        byte
	step       int
	mismatches int
	requests   int
}

// fakeDriver needs txPerRound transactions per device round and
// verifies that replies are not mixed up between devices.
type fakeDriver struct {
	pool       *Arena[fakeExt]
	txPerRound int
	nextTag    byte
	served     []string
}

func newFakeDriver(capacity, txPerRound int) *fakeDriver {
	return &fakeDriver{
		pool:       NewArena[fakeExt]("fake", capacity),
		txPerRound: txPerRound,
		nextTag:    1,
	}
}

func (d *fakeDriver) Name() string  { return "fake" }
func (d *fakeDriver) Channels() int { return 1 }

func (d *fakeDriver) Attach(dev *Device) error {
	h, ext, err := d.pool.Alloc()
	if err != nil {
		return err
	}
	ext.tag = d.nextTag
	d.nextTag++
	dev.Ext = h
	return nil
}

func (d *fakeDriver) ext(dev *Device) *fakeExt {
	return d.pool.Get(dev.Ext)
}

func (d *fakeDriver) GenerateRequest(dev *Device) Status {
	ext := d.ext(dev)
	buf := dev.Bus().Buffer()
	buf[0] = ext.tag
	buf[1] = byte(ext.step)
	dev.Bus().SetRequest(2, 2)
	ext.requests++
	return StatusSuccess
}

func (d *fakeDriver) ProcessResponse(dev *Device) Status {
	ext := d.ext(dev)
	reply := dev.Bus().Reply()
	if len(reply) < 2 {
		// Let the scheduler report the failed transfer
		return StatusPending
	}
	if reply[0] != ext.tag || reply[1] != byte(ext.step) {
		ext.mismatches++
	}
	ext.step++
	if ext.step >= d.txPerRound {
		ext.step = 0
		d.served = append(d.served, dev.Name)
		return StatusCompleted
	}
	return StatusPending
}

func (d *fakeDriver) Set(dev *Device, addr int, value int) error {
	return errors.Wrap(InvalidArgumentError, "read only")
}

func (d *fakeDriver) Get(dev *Device, addr int) (int, error) {
	return d.ext(dev).requests, nil
}

func (d *fakeDriver) Close(dev *Device) error {
	return nil
}
