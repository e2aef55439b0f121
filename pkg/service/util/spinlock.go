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

package util

import (
	"runtime"
	"sync/atomic"
)

// Maximum number of yields between two attempts
const maxSpinBackoff = 64

// SpinLock is a lock that yields (with exponential backoff) instead of parking.
// It is meant for very short critical sections between OS-thread bound workers.
type SpinLock struct {
	locked atomic.Bool
}

// Lock the spinlock.
func (l *SpinLock) Lock() {
	spin(l.TryLock)
}

// TryLock returns true when the lock was acquired.
func (l *SpinLock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Unlock the spinlock.
func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}

// Completion hands the result of a request executed on another
// (OS thread bound) goroutine back to the caller.
// The zero value is ready to use.
type Completion struct {
	lock   SpinLock
	done   bool
	result error
}

// Complete stores the result and releases the waiter.
func (c *Completion) Complete(err error) {
	c.lock.Lock()
	c.result = err
	c.done = true
	c.lock.Unlock()
}

// Done returns true once Complete has been called.
func (c *Completion) Done() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.done
}

// Wait until Complete is called and return its result.
func (c *Completion) Wait() error {
	spin(c.Done)
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.result
}

// spin calls cond until it returns true, yielding in between.
func spin(cond func() bool) {
	backoff := 1
	for !cond() {
		for x := 0; x < backoff; x++ {
			runtime.Gosched()
		}
		backoff = min(backoff*2, maxSpinBackoff)
	}
}
