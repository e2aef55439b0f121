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

package devices

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

// Default maximum number of chips per family.
var defaultCapacities = map[model.DriverType]int{
	model.DriverTypeMCP3208:  8,
	model.DriverTypePCA9685:  16,
	model.DriverTypeMCP23008: 8,
	model.DriverTypeADS1115:  4,
	model.DriverTypePCF8574:  8,
}

// Capacities overrides the maximum number of chips per family.
type Capacities map[model.DriverType]int

// Registry holds a single driver per chip family.
type Registry struct {
	drivers map[model.DriverType]devicebus.Driver
}

// NewRegistry creates drivers for all supported chip families.
// Families missing in the given capacities get their default capacity.
func NewRegistry(capacities Capacities) *Registry {
	capacity := func(t model.DriverType) int {
		if c, found := capacities[t]; found && c >= 0 {
			return c
		}
		return defaultCapacities[t]
	}
	return &Registry{
		drivers: map[model.DriverType]devicebus.Driver{
			model.DriverTypeMCP3208:  newMCP3208(capacity(model.DriverTypeMCP3208)),
			model.DriverTypePCA9685:  newPCA9685(capacity(model.DriverTypePCA9685)),
			model.DriverTypeMCP23008: newMCP23008(capacity(model.DriverTypeMCP23008)),
			model.DriverTypeADS1115:  newADS1115(capacity(model.DriverTypeADS1115)),
			model.DriverTypePCF8574:  newPCF8574(capacity(model.DriverTypePCF8574)),
		},
	}
}

// Lookup returns the driver for the given chip family.
// Matches devicebus.DriverLookup.
func (r *Registry) Lookup(t model.DriverType) (devicebus.Driver, error) {
	if drv, found := r.drivers[t]; found {
		return drv, nil
	}
	return nil, errors.Wrapf(devicebus.InvalidArgumentError, "unsupported driver '%s'", t)
}

// DriverTypes returns the supported chip families, sorted by name.
func (r *Registry) DriverTypes() []model.DriverType {
	result := lo.Keys(r.drivers)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
