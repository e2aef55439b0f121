//    Copyright 2017 Ewout Prangsma
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

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/binkynet/DeviceBus/model"
	"github.com/binkynet/DeviceBus/pkg/environment"
	"github.com/binkynet/DeviceBus/pkg/logging"
	"github.com/binkynet/DeviceBus/pkg/server"
	"github.com/binkynet/DeviceBus/pkg/service/bridge"
	"github.com/binkynet/DeviceBus/pkg/service/interrupt"
	"github.com/binkynet/DeviceBus/pkg/service/worker"
	"github.com/binkynet/DeviceBus/pkg/ui"
)

const (
	projectName       = "BinkyNet Device Bus"
	defaultServerPort = 7129
	defaultSSHPort    = 7130
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
	maskAny        = errors.WithStack
)

func main() {
	var levelFlag string
	var serverHost string
	var serverPort int
	var sshPort int
	var bridgeType string
	var configPath string
	var logFile string
	var mqttLogBroker string
	var mqttLogTopic string
	var workerConfig worker.Config

	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVarP(&bridgeType, "bridge", "b", environment.BridgeTypeAuto, "Type of bridge to use (auto|rpi|virtual)")
	pflag.StringVarP(&configPath, "config", "c", "devicebus.json", "Path of the bus & device configuration")
	pflag.StringVar(&serverHost, "host", "0.0.0.0", "Host address the HTTP & SSH servers will listen on")
	pflag.IntVar(&serverPort, "port", defaultServerPort, "Port the HTTP server will listen on")
	pflag.IntVar(&sshPort, "ssh-port", defaultSSHPort, "Port the SSH status UI will listen on (0 to disable)")
	pflag.StringVar(&workerConfig.Mode, "mode", worker.ModeCooperative, "Scheduling mode (cooperative|threaded)")
	pflag.IntVar(&workerConfig.TickHz, "tick", 1000, "Number of cooperative transactions per second")
	pflag.StringVar(&workerConfig.Interrupts, "interrupts", interrupt.BackendPolling, "Interrupt backend (hardware|polling)")
	pflag.DurationVar(&workerConfig.PollInterval, "poll-interval", time.Millisecond, "Interval between polls of the polling interrupt backend")
	pflag.StringVar(&logFile, "log-file", "", "Path of a (rotated) log file")
	pflag.StringVar(&mqttLogBroker, "mqtt-log-broker", "", "Address (host:port) of an MQTT broker to send logs to")
	pflag.StringVar(&mqttLogTopic, "mqtt-log-topic", "devicebus/logs", "MQTT topic to send logs to")
	pflag.Parse()

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())

	// Prepare logging
	logOutput := logging.NewMultiWriter(zerolog.ConsoleWriter{Out: os.Stderr})
	if logFile != "" {
		fw := logging.NewFileWriter(logFile, 0)
		defer fw.Close()
		logOutput.Add(fw)
	}
	logger := zerolog.New(logOutput).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	}
	logger = logger.Level(level)
	if mqttLogBroker != "" {
		hostname, _ := os.Hostname()
		publisher, err := logging.NewMQTTPublisher(ctx, mqttLogBroker, fmt.Sprintf("devicebus-%s", hostname))
		if err != nil {
			logger.Warn().Err(err).Str("broker", mqttLogBroker).Msg("Failed to connect to MQTT log broker")
		} else {
			mw := logging.NewMQTTWriter(ctx)
			mw.SetDestination(mqttLogTopic, publisher)
			mw.Enable(true)
			logOutput.Add(mw)
		}
	}

	// Load configuration
	conf, err := model.LoadConfiguration(configPath)
	if err != nil {
		Exitf("Failed to load configuration from '%s': %v\n", configPath, err)
	}
	workerConfig.Configuration = conf

	// Prepare bridge
	br, err := newBridge(bridgeType, logger, conf)
	if err != nil {
		Exitf("Failed to initialize bridge: %v\n", err)
	}
	defer br.Close()

	svc, err := worker.NewService(workerConfig, worker.Dependencies{
		Log:    logger,
		Bridge: br,
	})
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	srv, err := server.New(server.Config{
		Host:     serverHost,
		HTTPPort: serverPort,
		SSHPort:  sshPort,
	}, logger, ui.New(svc), svc)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if err := g.Wait(); err != nil {
		Exitf("Service run failed: %#v", err)
	}
}

// newBridge creates the bridge of the given type.
func newBridge(bridgeType string, log zerolog.Logger, conf model.Configuration) (bridge.API, error) {
	if bridgeType == environment.BridgeTypeAuto {
		bridgeType = environment.AutoDetectBridgeType(log)
		log.Info().Str("bridge", bridgeType).Msg("Detected bridge type")
	}
	switch bridgeType {
	case environment.BridgeTypeRPI:
		br, err := bridge.NewRaspberryPiBridge(log)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize Raspberry Pi bridge")
		}
		return br, nil
	case environment.BridgeTypeVirtual:
		br := bridge.NewVirtualBridge()
		if err := br.AddSimulatedChips(conf); err != nil {
			return nil, maskAny(err)
		}
		return br, nil
	default:
		return nil, fmt.Errorf("unknown bridge type '%s' (auto|rpi|virtual)", bridgeType)
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
