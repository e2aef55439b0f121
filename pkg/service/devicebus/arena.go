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
	"sync"

	"github.com/pkg/errors"
)

// Handle is a stable index of a record in an Arena.
type Handle int32

// NoHandle is the handle of a device without extension record.
const NoHandle Handle = -1

// Arena is a fixed-capacity pool of driver extension records.
// Records are never moved, so pointers returned by Get stay valid
// for the lifetime of the arena.
type Arena[T any] struct {
	mutex sync.Mutex
	name  string
	items []T
	used  int
}

// NewArena creates an arena that holds at most capacity records.
func NewArena[T any](name string, capacity int) *Arena[T] {
	return &Arena[T]{
		name:  name,
		items: make([]T, capacity),
	}
}

// Alloc reserves the next free record.
// Returns AllocationFailedError when the arena is exhausted.
func (a *Arena[T]) Alloc() (Handle, *T, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.used >= len(a.items) {
		return NoHandle, nil, errors.Wrapf(AllocationFailedError, "%s pool exhausted (capacity %d)", a.name, len(a.items))
	}
	h := Handle(a.used)
	a.used++
	return h, &a.items[h], nil
}

// Get returns the record with given handle, or nil for an invalid handle.
func (a *Arena[T]) Get(h Handle) *T {
	if h < 0 || int(h) >= len(a.items) {
		return nil
	}
	return &a.items[h]
}

// Len returns the number of allocated records.
func (a *Arena[T]) Len() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.used
}

// Cap returns the capacity of the arena.
func (a *Arena[T]) Cap() int {
	return len(a.items)
}

// Reset releases all records and zeroes them.
// Only call this when no device refers to the arena anymore.
func (a *Arena[T]) Reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	var zero T
	for i := range a.items {
		a.items[i] = zero
	}
	a.used = 0
}
