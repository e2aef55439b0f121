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

// Driver implements the protocol of one chip family.
//
// A driver exchanges one request/response pair per call to the
// scheduler. GenerateRequest fills the shared buffer of the device's
// bus, ProcessResponse consumes the reply from that same buffer.
// Drivers must not keep references into the buffer after
// ProcessResponse returns.
type Driver interface {
	// Name of the chip family
	Name() string
	// Channels returns the number of addressable channels of the chip.
	Channels() int
	// Attach allocates the extension record of the given device.
	// Returns AllocationFailedError when the pool of the family is exhausted.
	Attach(dev *Device) error
	// GenerateRequest prepares the next transaction for the device.
	// StatusSuccess or StatusPending proceed to the transfer.
	// StatusCompleted ends the round of the device without a transfer.
	// A failure status skips the transfer.
	GenerateRequest(dev *Device) Status
	// ProcessResponse consumes the reply of the last transaction.
	ProcessResponse(dev *Device) Status
	// Set the value of a channel of the device.
	Set(dev *Device, addr int, value int) error
	// Get the value of a channel of the device.
	Get(dev *Device, addr int) (int, error)
	// Close brings the chip back to a safe state.
	// It is only called while the scheduler is not running.
	Close(dev *Device) error
}
