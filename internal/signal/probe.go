package signal

import (
	"github.com/banshee-data/crossroads/internal/serialmux"
)

// Opener opens the controller link at path.
type Opener func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

// OpenSerial opens a real serial port with go.bug.st/serial.
func OpenSerial(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	mux, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	return mux, nil
}

// ProbeConfig selects the output variant.
type ProbeConfig struct {
	// Device is the serial path of the LED controller. Empty means simulated.
	Device     string
	Port       serialmux.PortOptions
	Brightness uint8
	// LEDCount defaults to DefaultLEDCount.
	LEDCount int
	// Open defaults to OpenSerial.
	Open Opener
}

// Probe returns the physical output when the controller can be opened and the
// simulated output otherwise, together with the mux backing it. The mux is a
// DisabledSerialMux in simulated mode so admin routes still attach. A missing
// device is logged, never returned as an error.
func Probe(cfg ProbeConfig) (Output, serialmux.SerialMuxInterface) {
	if cfg.Device == "" {
		logf("no LED device configured, running in simulation mode")
		return NewSimulatedOutput(), serialmux.NewDisabledSerialMux()
	}
	count := cfg.LEDCount
	if count == 0 {
		count = DefaultLEDCount
	}
	if err := CheckLEDCount(count); err != nil {
		logf("LED device %s not used: %v; running in simulation mode", cfg.Device, err)
		return NewSimulatedOutput(), serialmux.NewDisabledSerialMux()
	}
	open := cfg.Open
	if open == nil {
		open = OpenSerial
	}
	mux, err := open(cfg.Device, cfg.Port)
	if err != nil {
		logf("could not open LED device %s: %v; running in simulation mode", cfg.Device, err)
		return NewSimulatedOutput(), serialmux.NewDisabledSerialMux()
	}
	strip, err := NewStripOutput(mux, cfg.Brightness, count)
	if err != nil {
		_ = mux.Close()
		logf("LED device %s not used: %v; running in simulation mode", cfg.Device, err)
		return NewSimulatedOutput(), serialmux.NewDisabledSerialMux()
	}
	logf("LED strip controller on %s (%d LEDs)", cfg.Device, count)
	return strip, mux
}
