//    Copyright 2024 Ewout Prangsma
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

package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0x40", 0x40, false},
		{"0X20", 0x20, false},
		{"72", 72, false},
		{"0xzz", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseAddress(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseAddress(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAddress(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPinFrequency(t *testing.T) {
	p := Pin{Prm: map[PinPrm]int{PinFrequencyKHz: 400}}
	if got := p.FrequencyHz(100000); got != 400000 {
		t.Errorf("FrequencyHz = %d, want 400000", got)
	}
	p = Pin{Prm: map[PinPrm]int{PinFrequency: 1000000, PinFrequencyKHz: 400}}
	if got := p.FrequencyHz(100000); got != 1000000 {
		t.Errorf("FrequencyHz = %d, want 1000000", got)
	}
	if got := (Pin{}).FrequencyHz(2000000); got != 2000000 {
		t.Errorf("FrequencyHz default = %d, want 2000000", got)
	}
}

func TestConfigurationValidate(t *testing.T) {
	valid := Configuration{
		Buses: []BusConfig{
			{
				Name: "spi0",
				Type: BusTypeSPI,
				Devices: []DeviceConfig{
					{Name: "adc", Driver: DriverTypeMCP3208, Pin: Pin{Bank: 0, Address: "0"}},
				},
			},
			{
				Name: "i2c1",
				Type: BusTypeI2C,
				Devices: []DeviceConfig{
					{Name: "pwm", Driver: DriverTypePCA9685, Pin: Pin{Bank: 1, Address: "0x40"}},
				},
			},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid configuration, got %v", err)
	}

	wrongBus := valid
	wrongBus.Buses = []BusConfig{{
		Name:    "spi0",
		Type:    BusTypeSPI,
		Devices: []DeviceConfig{{Name: "pwm", Driver: DriverTypePCA9685}},
	}}
	if err := wrongBus.Validate(); !IsValidation(err) {
		t.Errorf("expected validation error for driver on wrong bus type, got %v", err)
	}

	duplicate := Configuration{Buses: []BusConfig{valid.Buses[0], valid.Buses[0]}}
	if err := duplicate.Validate(); !IsValidation(err) {
		t.Errorf("expected validation error for duplicate bus, got %v", err)
	}

	empty := Configuration{Buses: []BusConfig{{Name: "x", Type: BusTypeI2C}}}
	if err := empty.Validate(); !IsValidation(err) {
		t.Errorf("expected validation error for empty bus, got %v", err)
	}
}

func TestLoadConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buses.json")
	content := `{
  "buses": [
    {"name": "i2c1", "type": "i2c", "devices": [
      {"name": "servo", "driver": "pca9685", "pin": {"bank": 1, "address": "0x40", "prm": {"pwm-frequency": 50}}}
    ]}
  ]
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration failed: %v", err)
	}
	if len(c.Buses) != 1 || len(c.Buses[0].Devices) != 1 {
		t.Fatalf("unexpected configuration %+v", c)
	}
	pin := c.Buses[0].Devices[0].Pin
	if addr, err := pin.ParsedAddress(); err != nil || addr != 0x40 {
		t.Errorf("ParsedAddress = %d, %v", addr, err)
	}
	if v := pin.GetOrDefault(PinPWMFrequency, 0); v != 50 {
		t.Errorf("pwm-frequency = %d, want 50", v)
	}
}
