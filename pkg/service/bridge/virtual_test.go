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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/binkynet/DeviceBus/model"
)

func TestVirtualSPIMCP3208(t *testing.T) {
	vb := NewVirtualBridge()
	chip := NewSimMCP3208()
	chip.SetValue(5, 0x0A3C)
	vb.AddSPIChip(0, 1, chip)

	bus, err := vb.SPIBus(0)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := bus.Connect(1, 1000000, 0)
	if err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 3)
	if err := conn.Tx([]byte{0x07, 0x40, 0x00}, r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x00, 0x0A, 0x3C}, r); diff != "" {
		t.Errorf("unexpected reply (-want +got):\n%s", diff)
	}

	// Unknown chip select
	other, _ := bus.Connect(2, 1000000, 0)
	if err := other.Tx([]byte{0x07, 0x40, 0x00}, r); err == nil {
		t.Error("expected error for missing chip")
	}
}

func TestVirtualI2CPCA9685AutoIncrement(t *testing.T) {
	vb := NewVirtualBridge()
	chip := NewSimPCA9685()
	vb.AddI2CChip(1, 0x40, chip)
	bus, _ := vb.I2CBus(1, -1)

	// Without auto increment only the pointed register is written
	if err := bus.Tx(0x40, []byte{0x06, 0x01, 0x02, 0x03, 0x04}, nil); err != nil {
		t.Fatal(err)
	}
	on, off := chip.Output(0)
	if on != 0x0004 || off != 0x1000 {
		t.Errorf("unexpected output without AI: on=%04x off=%04x", on, off)
	}

	// Enable auto increment
	if err := bus.Tx(0x40, []byte{0x00, 0x21}, nil); err != nil {
		t.Fatal(err)
	}
	if err := bus.Tx(0x40, []byte{0x0A, 0x00, 0x00, 0x00, 0x08}, nil); err != nil {
		t.Fatal(err)
	}
	on, off = chip.Output(1)
	if on != 0 || off != 0x0800 {
		t.Errorf("unexpected output with AI: on=%04x off=%04x", on, off)
	}

	r := make([]byte, 1)
	if err := bus.Tx(0x40, []byte{0x00}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0x21 {
		t.Errorf("expected MODE1 0x21, got 0x%02x", r[0])
	}

	chip.SetConnected(false)
	if err := bus.Tx(0x40, []byte{0x00}, r); err == nil {
		t.Error("expected error from disconnected chip")
	}
}

func TestVirtualPCA9685PrescaleRequiresSleep(t *testing.T) {
	chip := NewSimPCA9685()
	if err := chip.Tx([]byte{0xFE, 0x79}, nil); err != nil {
		t.Fatal(err)
	}
	if chip.Prescale() != 0x79 {
		t.Errorf("prescale not written in sleep mode")
	}
	chip.Tx([]byte{0x00, 0x01}, nil)
	chip.Tx([]byte{0xFE, 0x03}, nil)
	if chip.Prescale() != 0x79 {
		t.Errorf("prescale written while awake")
	}
}

func TestVirtualMCP23008(t *testing.T) {
	chip := NewSimMCP23008()
	chip.SetInputs(0xF0)
	// Lower nibble output
	chip.Tx([]byte{0x00, 0xF0}, nil)
	chip.Tx([]byte{0x0A, 0x05}, nil)
	r := make([]byte, 1)
	if err := chip.Tx([]byte{0x09}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0xF5 {
		t.Errorf("expected GPIO 0xF5, got 0x%02x", r[0])
	}
}

func TestVirtualADS1115Conversion(t *testing.T) {
	chip := NewSimADS1115()
	chip.SetValue(2, 1234)
	// Start conversion on AIN2
	if err := chip.Tx([]byte{0x01, 0xE1, 0x83}, nil); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 2)
	chip.Tx([]byte{0x01}, r)
	if r[0]&0x80 != 0 {
		t.Errorf("expected busy on first poll")
	}
	chip.Tx([]byte{0x01}, r)
	if r[0]&0x80 == 0 {
		t.Errorf("expected not busy on second poll")
	}
	chip.Tx([]byte{0x00}, r)
	if v := int16(uint16(r[0])<<8 | uint16(r[1])); v != 1234 {
		t.Errorf("expected 1234, got %d", v)
	}
}

func TestVirtualAddSimulatedChips(t *testing.T) {
	vb := NewVirtualBridge()
	conf := model.Configuration{
		Buses: []model.BusConfig{
			{Name: "i2c", Type: model.BusTypeI2C, Devices: []model.DeviceConfig{
				{Name: "pwm", Driver: model.DriverTypePCA9685, Pin: model.Pin{Bank: 1, Address: "0x40"}},
				{Name: "gpio", Driver: model.DriverTypeMCP23008, Pin: model.Pin{Bank: 1, Address: "0x20"}},
			}},
		},
	}
	if err := vb.AddSimulatedChips(conf); err != nil {
		t.Fatal(err)
	}
	bus, _ := vb.I2CBus(1, -1)
	if diff := cmp.Diff([]byte{0x20, 0x40}, bus.DetectSlaveAddresses()); diff != "" {
		t.Errorf("unexpected addresses (-want +got):\n%s", diff)
	}
}
