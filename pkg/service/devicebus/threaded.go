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
	"context"
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// StartMultithreadDeviceBus starts one worker per bus.
// Each worker owns the cursor and buffer of its bus and runs on
// its own OS thread until StopMultithreadDeviceBus is called.
func (db *DeviceBus) StartMultithreadDeviceBus(flags RunFlags) error {
	if !db.mode.CompareAndSwap(modeNone, modeThreaded) {
		if db.mode.Load() == modeThreaded {
			return errors.Wrap(InvalidArgumentError, "bus workers already running")
		}
		return maskAny(ModeConflictError)
	}
	db.terminate.Store(false)
	for _, b := range db.buses {
		db.running.Add(1)
		busWorkersGauge.Inc()
		go db.runBusWorker(b)
	}
	db.Log.Info().Int("workers", len(db.buses)).Msg("Started bus workers")
	return nil
}

// StopMultithreadDeviceBus requests all bus workers to terminate and
// waits until they have finished. Workers stop at the next transaction
// boundary.
func (db *DeviceBus) StopMultithreadDeviceBus() {
	if db.mode.Load() != modeThreaded {
		return
	}
	db.terminate.Store(true)
	for db.running.Load() > 0 {
		time.Sleep(stopPollInterval)
	}
	db.mode.Store(modeNone)
	db.Log.Info().Msg("Stopped bus workers")
}

// RunningWorkers returns the number of running bus workers.
func (db *DeviceBus) RunningWorkers() int {
	return int(db.running.Load())
}

// RunMultithreaded runs the bus workers until the given context is canceled.
func (db *DeviceBus) RunMultithreaded(ctx context.Context, flags RunFlags) error {
	if err := db.StartMultithreadDeviceBus(flags); err != nil {
		return err
	}
	<-ctx.Done()
	db.StopMultithreadDeviceBus()
	return nil
}

// runBusWorker runs transactions on the given bus until terminated.
func (db *DeviceBus) runBusWorker(b *Bus) {
	// Ensure we're always using the same OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		busWorkersGauge.Dec()
		db.running.Add(-1)
	}()

	log := b.log
	log.Debug().Msg("Bus worker started")
	active := false
	for !db.terminate.Load() {
		s, wrapped := db.runOneBus(b)
		if !s.IsFailure() {
			active = true
		}
		if s == StatusCompleted {
			runtime.Gosched()
		}
		if wrapped {
			if !active {
				// No device responded this round
				time.Sleep(db.idleDelay)
			}
			active = false
		}
	}
	log.Debug().Msg("Bus worker stopped")
}
