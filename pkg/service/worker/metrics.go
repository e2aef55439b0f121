package worker

import (
	"github.com/binkynet/DeviceBus/pkg/metrics"
)

const (
	subSystem = "worker"
)

var (
	// Total number of interrupts per device
	deviceInterruptsTotal = metrics.MustRegisterCounterVec(subSystem,
		"device_interrupts_total",
		"Total number of interrupts per device",
		"bus", "device")
)
