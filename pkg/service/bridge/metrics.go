//    Copyright 2023 Ewout Prangsma
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

package bridge

import (
	"github.com/binkynet/DeviceBus/pkg/metrics"
)

const (
	subSystem = "bridge"
)

var (
	// Total number of times I2CBus.Execute is called
	i2cExecuteCounters = metrics.MustRegisterCounterVec(subSystem,
		"i2c_execute_total",
		"Total number of times I2CBus.Execute is called",
		"bus", "address")
	// Total number of times I2CBus.Execute failed
	i2cExecuteErrorCounters = metrics.MustRegisterCounterVec(subSystem,
		"i2c_execute_error_total",
		"Total number of times I2CBus.Execute failed",
		"bus", "address")
	// Total number of i2c lockup recovery attempts
	i2cRecoveryAttemptsTotal = metrics.MustRegisterCounter(subSystem,
		"i2c_recovery_attempts_total",
		"Total number of i2c lockup recovery attempts")
	// Total number of failed i2c lockup recoveries
	i2cRecoveryFailedTotal = metrics.MustRegisterCounter(subSystem,
		"i2c_recovery_failed_total",
		"Total number of failed i2c lockup recoveries")
	// Total number of successful i2c lockup recoveries
	i2cRecoverySucceededTotal = metrics.MustRegisterCounter(subSystem,
		"i2c_recovery_succeeded_total",
		"Total number of successful i2c lockup recoveries")
	// Total number of skipped i2c lockup recoveries
	i2cRecoverySkippedTotal = metrics.MustRegisterCounter(subSystem,
		"i2c_recovery_skipped_total",
		"Total number of skipped i2c lockup recoveries")
	// Total number of SPI transfers
	spiTxCounters = metrics.MustRegisterCounterVec(subSystem,
		"spi_tx_total",
		"Total number of SPI transfers",
		"bus", "device")
	// Total number of failed SPI transfers
	spiTxErrorCounters = metrics.MustRegisterCounterVec(subSystem,
		"spi_tx_error_total",
		"Total number of failed SPI transfers",
		"bus", "device")
	// Total number of transfers handled by simulated chips
	simTxCounters = metrics.MustRegisterCounterVec(subSystem,
		"sim_tx_total",
		"Total number of transfers handled by simulated chips",
		"bus", "chip")
)
