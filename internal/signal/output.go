// Package signal drives the two-direction traffic light. Output has two
// variants with the same observable contract: StripOutput writes to an LED
// strip controller over serial, SimulatedOutput only keeps the state table.
// Probe picks one at construction time.
package signal

import (
	"fmt"
	"sync"

	"github.com/banshee-data/crossroads/internal/monitoring"
	"github.com/banshee-data/crossroads/internal/traffic"
)

// Mode names reported in status.
const (
	ModePhysical  = "physical"
	ModeSimulated = "simulated"
)

var logf = monitoring.Component("signal")

// Output sets and reports the colour shown to each direction.
type Output interface {
	// Set commands dir to state. It never fails because a device is missing;
	// an error means a present device rejected or failed the write.
	Set(dir traffic.Direction, state traffic.LightState) error
	// State returns the last colour successfully commanded for dir.
	State(dir traffic.Direction) traffic.LightState
	// Shutdown turns every light off. It is used once at teardown.
	Shutdown() error
	// Mode is ModePhysical or ModeSimulated.
	Mode() string
}

// stateTable is the last-known colour per direction. Both directions start Red.
type stateTable struct {
	mu     sync.RWMutex
	states [2]traffic.LightState
}

func (t *stateTable) get(dir traffic.Direction) traffic.LightState {
	if !dir.Valid() {
		return traffic.Off
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[dir.Index()]
}

func (t *stateTable) put(dir traffic.Direction, state traffic.LightState) {
	t.mu.Lock()
	t.states[dir.Index()] = state
	t.mu.Unlock()
}

func (t *stateTable) clear() {
	t.mu.Lock()
	t.states = [2]traffic.LightState{traffic.Off, traffic.Off}
	t.mu.Unlock()
}

func checkArgs(dir traffic.Direction, state traffic.LightState) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid direction %d", int(dir))
	}
	switch state {
	case traffic.Red, traffic.Yellow, traffic.Green, traffic.Off:
		return nil
	}
	return fmt.Errorf("invalid light state %d", int(state))
}

// SimulatedOutput keeps colours in memory only.
type SimulatedOutput struct {
	table stateTable
}

// NewSimulatedOutput returns an output with both directions Red.
func NewSimulatedOutput() *SimulatedOutput {
	return &SimulatedOutput{}
}

func (o *SimulatedOutput) Set(dir traffic.Direction, state traffic.LightState) error {
	if err := checkArgs(dir, state); err != nil {
		return err
	}
	o.table.put(dir, state)
	logf("%s: set to %s (simulated)", dir, state)
	return nil
}

func (o *SimulatedOutput) State(dir traffic.Direction) traffic.LightState { return o.table.get(dir) }

// Shutdown clears the table so both directions read Off.
func (o *SimulatedOutput) Shutdown() error {
	o.table.clear()
	return nil
}

func (o *SimulatedOutput) Mode() string { return ModeSimulated }
