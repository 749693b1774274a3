package main

import (
	"fmt"
	"log"

	"github.com/banshee-data/crossroads/internal/config"
	"github.com/banshee-data/crossroads/internal/httputil"
	"github.com/banshee-data/crossroads/internal/sensor"
	"github.com/banshee-data/crossroads/internal/serialmux"
	"github.com/banshee-data/crossroads/internal/signal"
	"github.com/banshee-data/crossroads/internal/supervisor"
	"github.com/banshee-data/crossroads/internal/traffic"
)

// overrides are command-line values that replace config file fields when set.
type overrides struct {
	listen     string
	dbPath     string
	grpcListen string
	dev        bool
}

// loadConfig reads the config file, or returns the defaults when path is
// empty, and applies the command-line overrides.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg := config.EmptyConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if o.listen != "" {
		cfg.Listen = &o.listen
	}
	if o.dbPath != "" {
		cfg.DBPath = &o.dbPath
	}
	if o.grpcListen != "" {
		cfg.GRPCListen = &o.grpcListen
	}
	if o.dev {
		none, empty := "none", ""
		cfg.CameraDirection1 = &none
		cfg.CameraDirection2 = &none
		cfg.LEDDevice = &empty
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildSensors creates one presence sensor per direction. A source that
// cannot be resolved leaves the sensor without a camera so it simulates.
func buildSensors(cfg *config.Config, client httputil.HTTPClient) ([2]supervisor.Sensor, error) {
	var sensors [2]supervisor.Sensor
	sources := cfg.CameraSources()
	for _, dir := range traffic.Directions {
		src, err := sensor.NewSource(sources[dir.Index()], client)
		if err != nil {
			log.Printf("%s camera: %v", dir, err)
			src = nil
		}
		s, err := sensor.New(sensor.Config{
			Direction: dir,
			Source:    src,
			Params:    cfg.VisionParams(),
		})
		if err != nil {
			return sensors, fmt.Errorf("%s sensor: %w", dir, err)
		}
		sensors[dir.Index()] = s
	}
	return sensors, nil
}

// probeOutput picks the LED strip when a device is configured and reachable.
func probeOutput(cfg *config.Config, open signal.Opener) (signal.Output, serialmux.SerialMuxInterface) {
	return signal.Probe(signal.ProbeConfig{
		Device:     cfg.GetLEDDevice(),
		Port:       cfg.PortOptions(),
		Brightness: uint8(cfg.GetLEDBrightness()),
		LEDCount:   cfg.GetLEDCount(),
		Open:       open,
	})
}
