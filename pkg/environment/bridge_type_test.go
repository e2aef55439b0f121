//    Copyright 2024 Ewout Prangsma
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

package environment

import "testing"

func TestBridgeTypeForMachine(t *testing.T) {
	tests := map[string]string{
		"armv7l":  BridgeTypeRPI,
		"armv6l":  BridgeTypeRPI,
		"aarch64": BridgeTypeRPI,
		"x86_64":  BridgeTypeVirtual,
		"":        BridgeTypeVirtual,
	}
	for machine, expected := range tests {
		if got := bridgeTypeForMachine(machine); got != expected {
			t.Errorf("%q: expected %s, got %s", machine, expected, got)
		}
	}
}
