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

// Status is the result of a single step of a device protocol.
type Status int32

const (
	// StatusSuccess indicates the step succeeded and more transactions
	// remain for the device this round.
	StatusSuccess Status = iota
	// StatusPending indicates more transactions remain for the device
	// this round.
	StatusPending
	// StatusCompleted indicates this was the last transaction of the
	// device this round.
	StatusCompleted
	// StatusNotConnected indicates the chip is absent or unresponsive.
	StatusNotConnected
	// StatusTransferFailed indicates the byte transfer reported a hardware error.
	StatusTransferFailed
	// StatusAllocationFailed indicates no extension record could be allocated.
	StatusAllocationFailed
)

// IsFailure returns true for statuses that report a device failure.
func (s Status) IsFailure() bool {
	switch s {
	case StatusNotConnected, StatusTransferFailed, StatusAllocationFailed:
		return true
	default:
		return false
	}
}

// String returns a human readable form of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusNotConnected:
		return "not-connected"
	case StatusTransferFailed:
		return "transfer-failed"
	case StatusAllocationFailed:
		return "allocation-failed"
	default:
		return "unknown"
	}
}
