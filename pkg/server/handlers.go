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
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

// ValueMessage is the body of value requests & responses.
type ValueMessage struct {
	Value int `json:"value"`
}

// DetectResponse is the body of an address detection response.
type DetectResponse struct {
	Bus       string   `json:"bus"`
	Addresses []string `json:"addresses"`
}

func (s *Server) handleGetBuses(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Snapshot())
}

func (s *Server) handleDetect(c echo.Context) error {
	bus := c.Param("bus")
	addrs, err := s.service.DetectAddresses(bus)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, DetectResponse{
		Bus:       bus,
		Addresses: lo.Map(addrs, func(a byte, _ int) string { return fmt.Sprintf("0x%02x", a) }),
	})
}

func (s *Server) handleGetValue(c echo.Context) error {
	addr, err := strconv.Atoi(c.Param("addr"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel address")
	}
	value, err := s.service.GetValue(c.Param("bus"), c.Param("device"), addr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ValueMessage{Value: value})
}

func (s *Server) handleSetValue(c echo.Context) error {
	addr, err := strconv.Atoi(c.Param("addr"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel address")
	}
	var msg ValueMessage
	if err := c.Bind(&msg); err != nil {
		return err
	}
	if err := s.service.SetValue(c.Param("bus"), c.Param("device"), addr, msg.Value); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

// httpError converts a device bus error into an HTTP error.
func httpError(err error) error {
	switch {
	case devicebus.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case devicebus.IsInvalidArgument(err), devicebus.IsInvalidPin(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case devicebus.IsNotConnected(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
