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

func TestADS1115(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimADS1115()
	for ch := 0; ch < 4; ch++ {
		chip.SetValue(ch, int16(1000*(ch+1)))
	}
	vb.AddI2CChip(1, 0x48, chip)
	db := newTestDeviceBus(t, vb, model.BusConfig{
		Name: "i2c-1", Type: model.BusTypeI2C,
		Devices: []model.DeviceConfig{{
			Name: "adc", Driver: model.DriverTypeADS1115,
			Pin: model.Pin{Bank: 1, Address: "0x48"},
		}},
	})
	dev, _ := db.DeviceByName("i2c-1", "adc")

	if v, _ := dev.Driver.Get(dev, 0); v != -1 || dev.Rounds() != 0 {
		t.Errorf("expected -1 & no rounds before first sample, got %d, %d", v, dev.Rounds())
	}

	// Start, busy poll, ready poll & read per channel
	expected := append(repeat(devicebus.StatusPending, 15), devicebus.StatusCompleted)
	if diff := cmp.Diff(expected, run(t, db, 16)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1000, 2000, 3000, 4000}, dev.Snapshot().Values); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
}

func TestADS1115ConfigBits(t *testing.T) {
	if bits := createConfigBits(2); bits != 0x61A3 {
		t.Errorf("expected 0x61A3, got 0x%04x", bits)
	}
}

// busyADS1115 acknowledges every transfer and always reports
// a conversion in progress.
type busyADS1115 struct{}

func (c *busyADS1115) Name() string { return "busy-ads1115" }

func (c *busyADS1115) Tx(w, r []byte) error {
	for i := range r {
		r[i] = 0
	}
	return nil
}

func TestADS1115BusyConversionIsBounded(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	vb.AddI2CChip(1, 0x48, &busyADS1115{})
	db := newTestDeviceBus(t, vb, model.BusConfig{
		Name: "i2c-1", Type: model.BusTypeI2C,
		Devices: []model.DeviceConfig{{
			Name: "adc", Driver: model.DriverTypeADS1115,
			Pin: model.Pin{Bank: 1, Address: "0x48"},
		}},
	})

	// Start followed by busy polls until the conversion is given up
	expected := append(repeat(devicebus.StatusPending, ads1115MaxBusyPolls), devicebus.StatusNotConnected)
	if diff := cmp.Diff(expected, run(t, db, ads1115MaxBusyPolls+1)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}
	// Next round starts a new conversion
	if diff := cmp.Diff([]devicebus.Status{devicebus.StatusPending}, run(t, db, 1)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}
}

func TestADS1115BusyConversionDoesNotStallBus(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	vb.AddI2CChip(1, 0x48, &busyADS1115{})
	vb.AddI2CChip(1, 0x20, bridge.NewSimPCF8574())
	db := newTestDeviceBus(t, vb, model.BusConfig{
		Name: "i2c-1", Type: model.BusTypeI2C,
		Devices: []model.DeviceConfig{
			{Name: "adc", Driver: model.DriverTypeADS1115, Pin: model.Pin{Bank: 1, Address: "0x48"}},
			{Name: "io", Driver: model.DriverTypePCF8574, Pin: model.Pin{Bank: 1, Address: "0x20"}},
		},
	})
	run(t, db, 10*(ads1115MaxBusyPolls+2))

	adc, _ := db.DeviceByName("i2c-1", "adc")
	io, _ := db.DeviceByName("i2c-1", "io")
	if n := io.Rounds(); n != 10 {
		t.Errorf("expected 10 io rounds, got %d", n)
	}
	if n := adc.Rounds(); n != 0 {
		t.Errorf("expected no adc rounds, got %d", n)
	}
	if s := adc.LastStatus(); s != devicebus.StatusNotConnected {
		t.Errorf("expected adc not connected, got %s", s)
	}
}
