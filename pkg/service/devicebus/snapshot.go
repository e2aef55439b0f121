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
	"github.com/samber/lo"
)

// BusStatus is a point in time view of a bus.
type BusStatus struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Number       int            `json:"number"`
	Transactions uint64         `json:"transactions"`
	Devices      []DeviceStatus `json:"devices"`
}

// DeviceStatus is a point in time view of a device.
type DeviceStatus struct {
	Name         string `json:"name"`
	Driver       string `json:"driver"`
	Address      string `json:"address"`
	Enabled      bool   `json:"enabled"`
	Connected    bool   `json:"connected"`
	LastStatus   string `json:"last_status"`
	Transactions uint64 `json:"transactions"`
	Rounds       uint64 `json:"rounds"`
	Values       []int  `json:"values,omitempty"`
}

// Snapshot returns the status of all buses & devices.
// It is safe to call while the scheduler is running.
func (db *DeviceBus) Snapshot() []BusStatus {
	return lo.Map(db.buses, func(b *Bus, _ int) BusStatus {
		return BusStatus{
			Name:         b.Name,
			Type:         string(b.Type),
			Number:       b.Number,
			Transactions: b.Transactions(),
			Devices:      lo.Map(b.devices, func(d *Device, _ int) DeviceStatus { return d.Snapshot() }),
		}
	})
}

// Snapshot returns the status of the device.
func (d *Device) Snapshot() DeviceStatus {
	result := DeviceStatus{
		Name:         d.Name,
		Driver:       d.Driver.Name(),
		Address:      d.Pin.Address,
		Enabled:      d.enabled.Load(),
		Connected:    d.Connected(),
		LastStatus:   d.LastStatus().String(),
		Transactions: d.Transactions(),
		Rounds:       d.Rounds(),
	}
	if d.enabled.Load() {
		result.Values = lo.Times(d.Driver.Channels(), func(ch int) int {
			v, err := d.Driver.Get(d, ch)
			if err != nil {
				return -1
			}
			return v
		})
	}
	return result
}
