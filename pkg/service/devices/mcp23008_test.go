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

package devices

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/bridge"
	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

func TestMCP23008(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimMCP23008()
	chip.SetInputs(0xF0)
	vb.AddI2CChip(1, 0x20, chip)
	db := newTestDeviceBus(t, vb, model.BusConfig{
		Name: "i2c-1", Type: model.BusTypeI2C,
		Devices: []model.DeviceConfig{{
			Name: "gpio", Driver: model.DriverTypeMCP23008,
			Pin: model.Pin{Bank: 1, Address: "0x20"},
		}},
	})
	dev, _ := db.DeviceByName("i2c-1", "gpio")
	drv := dev.Driver

	if v, _ := drv.Get(dev, 4); v != -1 {
		t.Errorf("expected -1 before first read, got %d", v)
	}

	// IOCON, IODIR, OLAT, GPIO
	expected := []devicebus.Status{
		devicebus.StatusPending, devicebus.StatusPending,
		devicebus.StatusPending, devicebus.StatusCompleted,
	}
	if diff := cmp.Diff(expected, run(t, db, 4)); diff != "" {
		t.Errorf("unexpected init statuses (-want +got):\n%s", diff)
	}
	if v, _ := drv.Get(dev, 4); v != 1 {
		t.Errorf("expected pin 4 high, got %d", v)
	}

	// Steady state only reads GPIO
	if diff := cmp.Diff(repeat(devicebus.StatusCompleted, 2), run(t, db, 2)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}

	drv.Set(dev, 0, 1)
	drv.Set(dev, 1, 0)
	if diff := cmp.Diff(expected[1:], run(t, db, 3)); diff != "" {
		t.Errorf("unexpected statuses after set (-want +got):\n%s", diff)
	}
	if d := chip.IODIR(); d != 0xFC {
		t.Errorf("expected IODIR 0xFC, got 0x%02x", d)
	}
	if o := chip.OLAT(); o != 0x01 {
		t.Errorf("expected OLAT 0x01, got 0x%02x", o)
	}
	values := dev.Snapshot().Values
	if diff := cmp.Diff([]int{1, 0, 0, 0, 1, 1, 1, 1}, values); diff != "" {
		t.Errorf("unexpected pin values (-want +got):\n%s", diff)
	}

	if err := drv.Set(dev, 8, 1); !devicebus.IsInvalidPin(err) {
		t.Errorf("expected invalid pin, got %v", err)
	}
}

func TestMCP23008Reconnect(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimMCP23008()
	vb.AddI2CChip(1, 0x20, chip)
	db := newTestDeviceBus(t, vb, model.BusConfig{
		Name: "i2c-1", Type: model.BusTypeI2C,
		Devices: []model.DeviceConfig{{
			Name: "gpio", Driver: model.DriverTypeMCP23008,
			Pin: model.Pin{Bank: 1, Address: "0x20"},
		}},
	})
	dev, _ := db.DeviceByName("i2c-1", "gpio")
	dev.Driver.Set(dev, 2, 1)
	run(t, db, 4)

	chip.SetConnected(false)
	if s := run(t, db, 1)[0]; s != devicebus.StatusTransferFailed {
		t.Errorf("expected transfer-failed, got %s", s)
	}
	// Init fails while disconnected
	if s := run(t, db, 1)[0]; s != devicebus.StatusNotConnected {
		t.Errorf("expected not-connected, got %s", s)
	}

	replacement := bridge.NewSimMCP23008()
	vb.AddI2CChip(1, 0x20, replacement)
	run(t, db, 4)
	if d := replacement.IODIR(); d != 0xFB {
		t.Errorf("expected IODIR 0xFB after reconnect, got 0x%02x", d)
	}
	if o := replacement.OLAT(); o != 0x04 {
		t.Errorf("expected OLAT 0x04 after reconnect, got 0x%02x", o)
	}
	if !dev.Connected() {
		t.Error("expected device connected")
	}
}
