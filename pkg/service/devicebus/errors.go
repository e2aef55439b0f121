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

import "github.com/pkg/errors"

var (
	NotConnectedError     = errors.New("not connected")
	IsNotConnected        = isErrorFunc(NotConnectedError)
	TransferFailedError   = errors.New("transfer failed")
	IsTransferFailed      = isErrorFunc(TransferFailedError)
	AllocationFailedError = errors.New("allocation failed")
	IsAllocationFailed    = isErrorFunc(AllocationFailedError)
	InvalidPinError       = errors.New("invalid pin")
	IsInvalidPin          = isErrorFunc(InvalidPinError)
	InvalidArgumentError  = errors.New("invalid argument")
	IsInvalidArgument     = isErrorFunc(InvalidArgumentError)
	ModeConflictError     = errors.New("cooperative and threaded mode cannot be mixed")
	IsModeConflict        = isErrorFunc(ModeConflictError)
	NotFoundError         = errors.New("not found")
	IsNotFound            = isErrorFunc(NotFoundError)

	maskAny = errors.WithStack
)

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}
