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

func pca9685Bus(prm map[model.PinPrm]int) model.BusConfig {
	return model.BusConfig{
		Name: "i2c-1", Type: model.BusTypeI2C,
		Devices: []model.DeviceConfig{{
			Name: "pwm", Driver: model.DriverTypePCA9685,
			Pin: model.Pin{Bank: 1, Address: "0x40", Prm: prm},
		}},
	}
}

func TestPCA9685Prescale(t *testing.T) {
	tests := []struct {
		freq     int
		prescale byte
	}{
		{50, 0x79},
		{60, 0x65},
		{1526, 3},
		{3000, 3},
		{20, 0xFF},
	}
	for _, test := range tests {
		if p := pca9685Prescale(test.freq); p != test.prescale {
			t.Errorf("freq %d: expected prescale 0x%02x, got 0x%02x", test.freq, test.prescale, p)
		}
	}
}

func TestPCA9685InitSequence(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimPCA9685()
	vb.AddI2CChip(1, 0x40, chip)
	db := newTestDeviceBus(t, vb, pca9685Bus(nil))
	dev, _ := db.DeviceByName("i2c-1", "pwm")

	expected := append(repeat(devicebus.StatusPending, 4), devicebus.StatusCompleted)
	if diff := cmp.Diff(expected, run(t, db, 5)); diff != "" {
		t.Errorf("unexpected init statuses (-want +got):\n%s", diff)
	}
	if dev.Transactions() != 5 {
		t.Errorf("expected 5 init transactions, got %d", dev.Transactions())
	}
	if m := chip.Mode1(); m != 0x21 {
		t.Errorf("expected MODE1 0x21, got 0x%02x", m)
	}
	if m := chip.Mode2(); m != 0x04 {
		t.Errorf("expected MODE2 0x04, got 0x%02x", m)
	}
	if p := chip.Prescale(); p != 0x79 {
		t.Errorf("expected prescale 0x79, got 0x%02x", p)
	}

	// Nothing pending; rounds complete without transfers
	if diff := cmp.Diff(repeat(devicebus.StatusCompleted, 3), run(t, db, 3)); diff != "" {
		t.Errorf("unexpected idle statuses (-want +got):\n%s", diff)
	}
	if dev.Transactions() != 5 {
		t.Errorf("expected no idle transactions, got %d", dev.Transactions())
	}
}

func TestPCA9685SetOutputs(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimPCA9685()
	vb.AddI2CChip(1, 0x40, chip)
	db := newTestDeviceBus(t, vb, pca9685Bus(map[model.PinPrm]int{model.PinPWMFrequency: 60}))
	dev, _ := db.DeviceByName("i2c-1", "pwm")
	drv := dev.Driver
	run(t, db, 5)
	if p := chip.Prescale(); p != 0x65 {
		t.Errorf("expected prescale 0x65, got 0x%02x", p)
	}

	if err := drv.Set(dev, 3, 2048); err != nil {
		t.Fatal(err)
	}
	if err := drv.Set(dev, 7, 5000); err != nil {
		t.Fatal(err)
	}
	if err := drv.Set(dev, 16, 1); !devicebus.IsInvalidArgument(err) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	expected := []devicebus.Status{devicebus.StatusPending, devicebus.StatusPending, devicebus.StatusCompleted}
	if diff := cmp.Diff(expected, run(t, db, 3)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}
	if on, off := chip.Output(3); on != 0 || off != 2048 {
		t.Errorf("channel 3: unexpected on=%04x off=%04x", on, off)
	}
	if on, off := chip.Output(7); on != 0x1000 || off != 0 {
		t.Errorf("channel 7: expected full on, got on=%04x off=%04x", on, off)
	}
	if v, _ := drv.Get(dev, 7); v != 4096 {
		t.Errorf("expected clamped duty 4096, got %d", v)
	}

	// Full off
	drv.Set(dev, 3, 0)
	run(t, db, 2)
	if on, off := chip.Output(3); on != 0 || off != 0x1000 {
		t.Errorf("channel 3: expected full off, got on=%04x off=%04x", on, off)
	}

	// Unchanged values are not sent again
	writes := chip.Writes()
	drv.Set(dev, 3, 0)
	run(t, db, 2)
	if chip.Writes() != writes {
		t.Errorf("expected no writes for unchanged duty cycle")
	}
}

func TestPCA9685SelfHealing(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimPCA9685()
	chip.SetMuteReads(true)
	vb.AddI2CChip(1, 0x40, chip)
	db := newTestDeviceBus(t, vb, pca9685Bus(nil))
	dev, _ := db.DeviceByName("i2c-1", "pwm")
	drv := dev.Driver

	// Mode query fails every round
	for i := 0; i < 3; i++ {
		expected := []devicebus.Status{devicebus.StatusPending, devicebus.StatusNotConnected}
		if diff := cmp.Diff(expected, run(t, db, 2)); diff != "" {
			t.Fatalf("attempt %d: unexpected statuses (-want +got):\n%s", i, diff)
		}
	}
	if dev.Connected() {
		t.Error("expected device not connected")
	}

	// Chip answers again; init completes in 5 transactions
	chip.SetMuteReads(false)
	expected := append(repeat(devicebus.StatusPending, 4), devicebus.StatusCompleted)
	if diff := cmp.Diff(expected, run(t, db, 5)); diff != "" {
		t.Fatalf("unexpected init statuses (-want +got):\n%s", diff)
	}
	if !dev.Connected() {
		t.Error("expected device connected")
	}

	// Lose the chip while running
	drv.Set(dev, 0, 1000)
	chip.SetConnected(false)
	if s := run(t, db, 1)[0]; s != devicebus.StatusTransferFailed {
		t.Errorf("expected transfer-failed, got %s", s)
	}

	// After reconnect the init runs again and the duty cycle is restored
	replacement := bridge.NewSimPCA9685()
	vb.AddI2CChip(1, 0x40, replacement)
	run(t, db, 5)
	if m := replacement.Mode1(); m != 0x21 {
		t.Errorf("expected MODE1 0x21 after re-init, got 0x%02x", m)
	}
	expectedRound := []devicebus.Status{devicebus.StatusPending, devicebus.StatusCompleted}
	if diff := cmp.Diff(expectedRound, run(t, db, 2)); diff != "" {
		t.Errorf("unexpected statuses (-want +got):\n%s", diff)
	}
	if on, off := replacement.Output(0); on != 0 || off != 1000 {
		t.Errorf("expected restored duty cycle, got on=%04x off=%04x", on, off)
	}
}

func TestPCA9685CloseSleeps(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	chip := bridge.NewSimPCA9685()
	vb.AddI2CChip(1, 0x40, chip)
	db := newTestDeviceBus(t, vb, pca9685Bus(nil))
	run(t, db, 5)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if m := chip.Mode1(); m&0x10 == 0 {
		t.Errorf("expected SLEEP after close, got MODE1 0x%02x", m)
	}
}
