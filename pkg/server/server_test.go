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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

type fakeService struct {
	values map[string]int
}

func (f *fakeService) Snapshot() []devicebus.BusStatus {
	return []devicebus.BusStatus{{
		Name: "i2c-1", Type: "i2c", Number: 1,
		Devices: []devicebus.DeviceStatus{{Name: "pwm", Driver: "pca9685", Address: "0x40", Enabled: true}},
	}}
}

func (f *fakeService) key(bus, dev string, addr int) string {
	return fmt.Sprintf("%s/%s/%d", bus, dev, addr)
}

func (f *fakeService) GetValue(bus, dev string, addr int) (int, error) {
	if dev != "pwm" {
		return 0, errors.Wrap(devicebus.NotFoundError, dev)
	}
	return f.values[f.key(bus, dev, addr)], nil
}

func (f *fakeService) SetValue(bus, dev string, addr, value int) error {
	if dev != "pwm" {
		return errors.Wrap(devicebus.NotFoundError, dev)
	}
	if addr > 15 {
		return errors.Wrap(devicebus.InvalidArgumentError, "channel")
	}
	f.values[f.key(bus, dev, addr)] = value
	return nil
}

func (f *fakeService) DetectAddresses(bus string) ([]byte, error) {
	if bus != "i2c-1" {
		return nil, errors.Wrap(devicebus.NotFoundError, bus)
	}
	return []byte{0x20, 0x40}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeService) {
	svc := &fakeService{values: make(map[string]int)}
	s, err := New(Config{}, zerolog.Nop(), nil, svc)
	if err != nil {
		t.Fatal(err)
	}
	return s, svc
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.newRouter().ServeHTTP(rec, req)
	return rec
}

func TestGetBuses(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/v1/buses", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var buses []devicebus.BusStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &buses); err != nil {
		t.Fatal(err)
	}
	if len(buses) != 1 || buses[0].Devices[0].Name != "pwm" {
		t.Errorf("unexpected buses %+v", buses)
	}
}

func TestDetect(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/v1/buses/i2c-1/detect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DetectResponse{Bus: "i2c-1", Addresses: []string{"0x20", "0x40"}}, resp); diff != "" {
		t.Errorf("unexpected response (-want +got):\n%s", diff)
	}
	if rec := do(s, http.MethodGet, "/v1/buses/spi-9/detect", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestValues(t *testing.T) {
	s, svc := newTestServer(t)
	rec := do(s, http.MethodPut, "/v1/buses/i2c-1/devices/pwm/values/3", `{"value":2048}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if v := svc.values["i2c-1/pwm/3"]; v != 2048 {
		t.Errorf("expected value 2048, got %d", v)
	}

	rec = do(s, http.MethodGet, "/v1/buses/i2c-1/devices/pwm/values/3", "")
	var msg ValueMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Value != 2048 {
		t.Errorf("expected 2048, got %d", msg.Value)
	}

	tests := []struct {
		method, path, body string
		code               int
	}{
		{http.MethodGet, "/v1/buses/i2c-1/devices/servo/values/0", "", http.StatusNotFound},
		{http.MethodGet, "/v1/buses/i2c-1/devices/pwm/values/x", "", http.StatusBadRequest},
		{http.MethodPut, "/v1/buses/i2c-1/devices/pwm/values/16", `{"value":1}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		if rec := do(s, tc.method, tc.path, tc.body); rec.Code != tc.code {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.code, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "OK" {
		t.Errorf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}
