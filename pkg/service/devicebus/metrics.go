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
	"github.com/binkynet/DeviceBus/pkg/metrics"
)

const (
	subSystem = "scheduler"
)

var (
	// Total number of transactions per bus
	busTransactionsTotal = metrics.MustRegisterCounterVec(subSystem,
		"bus_transactions_total",
		"Total number of transactions per bus",
		"bus")
	// Total number of device failures per device & status
	deviceFailuresTotal = metrics.MustRegisterCounterVec(subSystem,
		"device_failures_total",
		"Total number of device failures per device & status",
		"bus", "device", "status")
	// Number of enabled devices
	devicesEnabledGauge = metrics.MustRegisterGauge(subSystem,
		"devices_enabled",
		"Number of enabled devices")
	// Number of running bus workers
	busWorkersGauge = metrics.MustRegisterGauge(subSystem,
		"bus_workers",
		"Number of running bus workers")
)
