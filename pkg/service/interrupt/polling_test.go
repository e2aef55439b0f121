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

package interrupt

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/pkg/service/bridge"
)

func TestFlagsMatches(t *testing.T) {
	tests := []struct {
		flags    Flags
		from, to bool
		expected bool
	}{
		{Falling, true, false, true},
		{Falling, false, true, false},
		{Rising, false, true, true},
		{Rising, true, false, false},
		{Change, true, false, true},
		{Change, false, true, true},
		{Change, true, true, false},
	}
	for _, test := range tests {
		if got := test.flags.Matches(test.from, test.to); got != test.expected {
			t.Errorf("flags %d %v->%v: expected %v, got %v", test.flags, test.from, test.to, test.expected, got)
		}
	}
}

func TestPollerTimer(t *testing.T) {
	mock := clock.NewMock()
	p := NewPoller(mock, nil)
	hits := 0
	if err := p.AttachTimer("tick", 50, func() { hits++ }); err != nil {
		t.Fatal(err)
	}
	if err := p.AttachTimer("tick", 50, func() {}); !IsAlreadyAttached(err) {
		t.Errorf("expected already attached, got %v", err)
	}

	p.Poll()
	if hits != 0 {
		t.Errorf("expected no hit before period elapsed, got %d", hits)
	}
	mock.Add(time.Millisecond * 19)
	p.Poll()
	if hits != 0 {
		t.Errorf("expected no hit after 19ms, got %d", hits)
	}
	mock.Add(time.Millisecond)
	p.Poll()
	p.Poll()
	if hits != 1 {
		t.Errorf("expected a single hit after 20ms, got %d", hits)
	}
	mock.Add(time.Millisecond * 20)
	p.Poll()
	if hits != 2 {
		t.Errorf("expected 2 hits, got %d", hits)
	}

	p.DetachTimer("tick")
	mock.Add(time.Second)
	p.Poll()
	if hits != 2 {
		t.Errorf("expected no hits after detach, got %d", hits)
	}
}

func TestTimerPeriod(t *testing.T) {
	if d := timerPeriod(50); d != time.Millisecond*20 {
		t.Errorf("expected 20ms, got %s", d)
	}
	if d := timerPeriod(5000); d != time.Millisecond {
		t.Errorf("expected 1ms minimum, got %s", d)
	}
	if d := timerPeriod(0); d != time.Millisecond {
		t.Errorf("expected 1ms for no frequency, got %s", d)
	}
}

func TestPollerPinEdges(t *testing.T) {
	vb := bridge.NewVirtualBridge()
	vb.SetInput(17, true)
	p := NewPoller(clock.NewMock(), vb)
	falling := 0
	if err := p.Attach(17, Falling, func() { falling++ }); err != nil {
		t.Fatal(err)
	}
	if err := p.Attach(18, 0, func() {}); !IsInvalidArgument(err) {
		t.Errorf("expected invalid argument, got %v", err)
	}

	p.Poll()
	vb.SetInput(17, false)
	p.Poll()
	p.Poll()
	vb.SetInput(17, true)
	p.Poll()
	if falling != 1 {
		t.Errorf("expected 1 falling edge, got %d", falling)
	}
}

func TestPollerSimulate(t *testing.T) {
	p := NewPoller(clock.NewMock(), nil)
	changes := 0
	if err := p.Attach(4, Change, func() { changes++ }); err != nil {
		t.Fatal(err)
	}
	p.Simulate(4, true)
	p.Simulate(4, true)
	p.Simulate(4, false)
	p.Simulate(5, true)
	if changes != 2 {
		t.Errorf("expected 2 changes, got %d", changes)
	}

	p.Close()
	p.Simulate(4, true)
	if changes != 2 {
		t.Errorf("expected no changes after close, got %d", changes)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("magic", zerolog.Nop(), nil); !IsInvalidArgument(err) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}
