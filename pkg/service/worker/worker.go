package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/service/bridge"
	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
	"github.com/binkynet/DeviceBus/pkg/service/devices"
	"github.com/binkynet/DeviceBus/pkg/service/interrupt"
	"github.com/binkynet/DeviceBus/pkg/service/util"
)

// Scheduling modes
const (
	ModeCooperative = "cooperative"
	ModeThreaded    = "threaded"
)

const (
	// Name of the timer that drives the cooperative scheduler
	schedulerTimer = "devicebus"
	// Default number of cooperative transactions per second
	defaultTickHz = 1000
	// Default interval between polls of the interrupt controller
	defaultPollInterval = time.Millisecond
)

// Service contains the API exposed by the worker service
type Service interface {
	// Run the worker service until the given context is cancelled.
	Run(ctx context.Context) error
	// DeviceBus returns the scheduled buses & devices.
	DeviceBus() *devicebus.DeviceBus
	// DetectAddresses returns the addresses of all responding chips
	// on the I2C bus with given name.
	DetectAddresses(busName string) ([]byte, error)
	// Snapshot returns the status of all buses & devices.
	Snapshot() []devicebus.BusStatus
	// GetValue returns the value of a channel of a device.
	GetValue(busName, deviceName string, addr int) (int, error)
	// SetValue changes the value of a channel of a device.
	SetValue(busName, deviceName string, addr, value int) error
}

type Config struct {
	Configuration model.Configuration
	// Scheduling mode (cooperative|threaded)
	Mode string
	// Number of cooperative transactions per second
	TickHz int
	// Interrupt backend (hardware|polling)
	Interrupts string
	// Interval between polls of the polling interrupt backend
	PollInterval time.Duration
	// Maximum number of chips per family
	Capacities devices.Capacities
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
}

// NewService instantiates a new Service and builds all buses & devices.
func NewService(config Config, deps Dependencies) (Service, error) {
	switch config.Mode {
	case "":
		config.Mode = ModeCooperative
	case ModeCooperative, ModeThreaded:
		// Ok
	default:
		return nil, fmt.Errorf("invalid mode '%s'", config.Mode)
	}
	if config.TickHz <= 0 {
		config.TickHz = defaultTickHz
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	deps.Log = deps.Log.With().Str("component", "worker").Logger()
	s := &service{
		config:       config,
		Dependencies: deps,
		registry:     devices.NewRegistry(config.Capacities),
	}
	s.db = devicebus.New(devicebus.Dependencies{
		Log:    deps.Log,
		Bridge: deps.Bridge,
	})
	s.db.SetOnActive(s.onActive)
	if err := s.db.Build(config.Configuration, s.registry.Lookup); err != nil {
		return nil, errors.Wrap(err, "failed to build device bus")
	}
	return s, nil
}

type service struct {
	config Config
	Dependencies
	registry    *devices.Registry
	db          *devicebus.DeviceBus
	activeCount atomic.Uint32
}

// DeviceBus returns the scheduled buses & devices.
func (s *service) DeviceBus() *devicebus.DeviceBus {
	return s.db
}

// DetectAddresses returns the addresses of all responding chips
// on the I2C bus with given name.
func (s *service) DetectAddresses(busName string) ([]byte, error) {
	for _, b := range s.db.Buses() {
		if b.Name == busName {
			return b.DetectAddresses()
		}
	}
	return nil, errors.Wrapf(devicebus.NotFoundError, "unknown bus '%s'", busName)
}

// Snapshot returns the status of all buses & devices.
func (s *service) Snapshot() []devicebus.BusStatus {
	return s.db.Snapshot()
}

// GetValue returns the value of a channel of a device.
func (s *service) GetValue(busName, deviceName string, addr int) (int, error) {
	dev, err := s.enabledDevice(busName, deviceName)
	if err != nil {
		return 0, err
	}
	return dev.Driver.Get(dev, addr)
}

// SetValue changes the value of a channel of a device.
// The change is sent to the chip by the scheduler.
func (s *service) SetValue(busName, deviceName string, addr, value int) error {
	dev, err := s.enabledDevice(busName, deviceName)
	if err != nil {
		return err
	}
	return dev.Driver.Set(dev, addr, value)
}

func (s *service) enabledDevice(busName, deviceName string) (*devicebus.Device, error) {
	dev, found := s.db.DeviceByName(busName, deviceName)
	if !found {
		return nil, errors.Wrapf(devicebus.NotFoundError, "unknown device '%s' on bus '%s'", deviceName, busName)
	}
	if !dev.Enabled() {
		return nil, errors.Wrapf(devicebus.NotConnectedError, "device '%s' is disabled", deviceName)
	}
	return dev, nil
}

// Run the worker service until the given context is cancelled.
func (s *service) Run(ctx context.Context) error {
	log := s.Log
	defer func() {
		log.Debug().Msg("closing device bus")
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Not all devices closed cleanly")
		}
	}()

	// Prepare interrupts
	ctrl, err := interrupt.New(s.config.Interrupts, log, s.Bridge)
	if err != nil {
		return errors.Wrap(err, "failed to create interrupt controller")
	}
	defer ctrl.Close()
	kick := make(chan struct{}, 1)
	s.attachDeviceInterrupts(ctrl, kick)

	g, lctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runActiveNotify(lctx) })
	g.Go(func() error {
		log.Info().Str("mode", s.config.Mode).Msg("run device bus")
		var err error
		switch s.config.Mode {
		case ModeThreaded:
			err = util.UntilCanceled(lctx, log, "run bus workers", func() error {
				return s.db.RunMultithreaded(lctx, devicebus.RunFlagsNone)
			})
		default:
			err = s.runCooperative(lctx, ctrl, kick)
		}
		log.Debug().Msg("run device bus ended")
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "Wait failed")
	}
	return nil
}

// runCooperative runs a single transaction on every tick of the
// scheduler timer or interrupt of a device.
func (s *service) runCooperative(ctx context.Context, ctrl interrupt.Controller, kick chan struct{}) error {
	if err := ctrl.AttachTimer(schedulerTimer, s.config.TickHz, func() { notify(kick) }); err != nil {
		return errors.Wrap(err, "failed to attach scheduler timer")
	}
	defer ctrl.DetachTimer(schedulerTimer)

	for {
		ctrl.Poll()
		select {
		case <-ctx.Done():
			// Context canceled
			return nil
		case <-kick:
			if _, err := s.db.RunDeviceBus(devicebus.RunFlagsNone); err != nil {
				return errors.Wrap(err, "RunDeviceBus failed")
			}
		case <-time.After(s.config.PollInterval):
			// Poll again
		}
	}
}

// attachDeviceInterrupts attaches a handler to the interrupt line of
// every device that has one configured.
func (s *service) attachDeviceInterrupts(ctrl interrupt.Controller, kick chan struct{}) {
	for _, b := range s.db.Buses() {
		for _, dev := range b.Devices() {
			pin, found := dev.Pin.Get(model.PinInterrupt)
			if !found || !dev.Enabled() {
				continue
			}
			counter := deviceInterruptsTotal.WithLabelValues(b.Name, dev.Name)
			if err := ctrl.Attach(pin, interrupt.Falling, func() {
				counter.Inc()
				notify(kick)
			}); err != nil {
				dev.Log().Warn().Err(err).Int("pin", pin).Msg("Failed to attach interrupt")
			}
		}
	}
}

// notify signals the given channel without blocking.
func notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// onActive is called when a device completed a round.
func (s *service) onActive() {
	s.activeCount.Add(1)
}

// runActiveNotify updates the blinking status when a device has become active.
// The green led is on when all enabled devices are connected, blinking otherwise.
func (s *service) runActiveNotify(ctx context.Context) error {
	lastActiveCount := uint32(0)
	count := 0
	lastAllConnected := false
	s.Bridge.BlinkGreenLED(time.Millisecond * 250)
	for {
		select {
		case <-ctx.Done():
			// Context canceled
			s.Bridge.SetRedLED(false)
			return nil
		case <-time.After(time.Second / 10):
			newActiveCount := s.activeCount.Load()
			if newActiveCount != lastActiveCount {
				lastActiveCount = newActiveCount
				s.Bridge.BlinkRedLED(time.Second / 10)
				count = 0
			} else if count < 20 {
				count++
			} else {
				count = 0
				s.Bridge.SetRedLED(false)
			}
			if allConnected := s.allConnected(); allConnected != lastAllConnected {
				lastAllConnected = allConnected
				if allConnected {
					s.Bridge.SetGreenLED(true)
				} else {
					s.Bridge.BlinkGreenLED(time.Millisecond * 250)
				}
			}
		}
	}
}

// allConnected returns true when all enabled devices are connected.
func (s *service) allConnected() bool {
	for _, b := range s.db.Buses() {
		for _, dev := range b.Devices() {
			if dev.Enabled() && !dev.Connected() {
				return false
			}
		}
	}
	return true
}
