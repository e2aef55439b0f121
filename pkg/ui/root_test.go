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

package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

type staticSource []devicebus.BusStatus

func (s staticSource) Snapshot() []devicebus.BusStatus { return s }

func testSource() staticSource {
	return staticSource{{
		Name: "i2c-1", Type: "i2c", Transactions: 12345,
		Devices: []devicebus.DeviceStatus{
			{Name: "pwm", Driver: "pca9685", Address: "0x40", Enabled: true, Connected: true, Transactions: 12000, Values: []int{0, 4096}},
			{Name: "gpio", Driver: "mcp23008", Address: "0x20", Enabled: true, LastStatus: "not-connected"},
		},
	}}
}

func TestDeviceRows(t *testing.T) {
	rows := deviceRows(testSource())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "pwm" || rows[0][4] != "connected" || rows[0][5] != "12,000" || rows[0][7] != "0 4096" {
		t.Errorf("unexpected row %v", rows[0])
	}
	if !strings.Contains(rows[1][4], "not-connected") {
		t.Errorf("expected not-connected state, got %q", rows[1][4])
	}
}

func TestRootView(t *testing.T) {
	r := NewRoot(testSource(), time.Now())
	view := r.View()
	for _, s := range []string{"Device bus", "12,345 transactions on 1 buses", "pwm", "gpio"} {
		if !strings.Contains(view, s) {
			t.Errorf("expected view to contain %q", s)
		}
	}
	_, cmd := r.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected quit message")
	}
}
