// Package traffic holds the domain types shared by the sensors, the signal
// output, the arbitration loop and the persistence sink.
package traffic

import (
	"fmt"
	"time"
)

// Direction is one of the two traffic flows being arbitrated.
type Direction int

const (
	DirectionOne Direction = iota
	DirectionTwo
)

// Directions lists both directions in priority order.
var Directions = [2]Direction{DirectionOne, DirectionTwo}

// Opposite returns the competing direction.
func (d Direction) Opposite() Direction {
	if d == DirectionOne {
		return DirectionTwo
	}
	return DirectionOne
}

// Index returns 0 for DirectionOne and 1 for DirectionTwo.
func (d Direction) Index() int { return int(d) }

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool { return d == DirectionOne || d == DirectionTwo }

// String returns the persisted name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionOne:
		return "DIRECTION_1"
	case DirectionTwo:
		return "DIRECTION_2"
	default:
		return fmt.Sprintf("DIRECTION(%d)", int(d))
	}
}

// DirectionBoth labels events that concern the whole intersection.
const DirectionBoth = "BOTH"

// LightState is the colour commanded for one direction.
type LightState int

const (
	Red LightState = iota
	Yellow
	Green
	Off
)

func (s LightState) String() string {
	switch s {
	case Red:
		return "RED"
	case Yellow:
		return "YELLOW"
	case Green:
		return "GREEN"
	case Off:
		return "OFF"
	default:
		return fmt.Sprintf("LIGHT(%d)", int(s))
	}
}

// ParseLightState is the inverse of LightState.String.
func ParseLightState(s string) (LightState, error) {
	switch s {
	case "RED":
		return Red, nil
	case "YELLOW":
		return Yellow, nil
	case "GREEN":
		return Green, nil
	case "OFF":
		return Off, nil
	}
	return Off, fmt.Errorf("unknown light state %q", s)
}

// SensorReading is one presence sample for one direction.
type SensorReading struct {
	Direction    Direction
	VehicleCount uint
	SampledAt    time.Time
}

// EventType classifies a persisted traffic event. The control loop emits
// LIGHT_CHANGE, SYSTEM_START, SYSTEM_STOP and ERROR only. VEHICLE_DETECTED and
// NO_VEHICLE are valid stored values that the loop never emits.
type EventType string

const (
	EventLightChange     EventType = "LIGHT_CHANGE"
	EventVehicleDetected EventType = "VEHICLE_DETECTED"
	EventNoVehicle       EventType = "NO_VEHICLE"
	EventSystemStart     EventType = "SYSTEM_START"
	EventSystemStop      EventType = "SYSTEM_STOP"
	EventError           EventType = "ERROR"
)

// Event is a single entry in the traffic log.
type Event struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Direction        string    `json:"direction"`
	Type             EventType `json:"event_type"`
	Description      string    `json:"description"`
	VehiclesDetected uint      `json:"vehicles_detected"`
	LightState       string    `json:"light_state"`
}

// Status is the externally visible snapshot of the intersection, recomputed
// once per tick.
type Status struct {
	Running        bool      `json:"is_running"`
	LightOne       string    `json:"direction_1_light"`
	LightTwo       string    `json:"direction_2_light"`
	VehiclesOne    uint      `json:"direction_1_vehicles"`
	VehiclesTwo    uint      `json:"direction_2_vehicles"`
	UpdatedAt      time.Time `json:"last_update"`
	SimulatedInput bool      `json:"simulated_input"`
	OutputMode     string    `json:"output_mode,omitempty"`
}

// StoppedStatus is the status reported when no loop is running.
func StoppedStatus(at time.Time) Status {
	return Status{
		Running:   false,
		LightOne:  Red.String(),
		LightTwo:  Red.String(),
		UpdatedAt: at,
	}
}

// ParseDirection is the inverse of Direction.String for the two known
// directions.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "DIRECTION_1":
		return DirectionOne, nil
	case "DIRECTION_2":
		return DirectionTwo, nil
	}
	return DirectionOne, fmt.Errorf("unknown direction %q", s)
}
