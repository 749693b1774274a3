package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/crossroads/internal/serialmux"
	"github.com/banshee-data/crossroads/internal/traffic"
)

// LampsPerHead is the number of lamps in one signal head: red, yellow and
// green in that order.
const LampsPerHead = 3

// DefaultLEDCount is one LED per lamp: Direction One uses LEDs 0-2 and
// Direction Two 3-5.
const DefaultLEDCount = 2 * LampsPerHead

// ErrLEDCount reports a strip length the two signal heads cannot split evenly.
var ErrLEDCount = fmt.Errorf("led count must be a positive multiple of %d", DefaultLEDCount)

// CheckLEDCount accepts strip lengths where every lamp gets the same number
// of LEDs.
func CheckLEDCount(n int) error {
	if n < DefaultLEDCount || n%DefaultLEDCount != 0 {
		return fmt.Errorf("%w, got %d", ErrLEDCount, n)
	}
	return nil
}

// RGB is one pixel colour.
type RGB struct{ R, G, B uint8 }

var (
	ColorRed    = RGB{255, 0, 0}
	ColorYellow = RGB{255, 255, 0}
	ColorGreen  = RGB{0, 255, 0}
	ColorOff    = RGB{0, 0, 0}
)

// Scale applies a 0-255 brightness.
func (c RGB) Scale(brightness uint8) RGB {
	s := func(v uint8) uint8 { return uint8(uint16(v) * uint16(brightness) / 255) }
	return RGB{s(c.R), s(c.G), s(c.B)}
}

// slot is the LED offset within a signal head lit for state, or -1 for Off.
func slot(state traffic.LightState) int {
	switch state {
	case traffic.Red:
		return 0
	case traffic.Yellow:
		return 1
	case traffic.Green:
		return 2
	default:
		return -1
	}
}

var slotColors = [LampsPerHead]RGB{ColorRed, ColorYellow, ColorGreen}

// PixelCommands returns the controller commands that show state on the
// signal head of dir on a strip of count LEDs: one "P <index> <r> <g> <b>" per
// LED of the head, then "S". Each direction owns half the strip and each lamp
// an equal run of it. count must pass CheckLEDCount.
func PixelCommands(count int, dir traffic.Direction, state traffic.LightState, brightness uint8) []string {
	perLamp := count / DefaultLEDCount
	base := dir.Index() * LampsPerHead * perLamp
	lit := slot(state)
	cmds := make([]string, 0, LampsPerHead*perLamp+1)
	for lamp := 0; lamp < LampsPerHead; lamp++ {
		c := ColorOff
		if lamp == lit {
			c = slotColors[lamp].Scale(brightness)
		}
		for j := 0; j < perLamp; j++ {
			cmds = append(cmds, fmt.Sprintf("P %d %d %d %d", base+lamp*perLamp+j, c.R, c.G, c.B))
		}
	}
	return append(cmds, "S")
}

// StripOutput drives the LED strip controller board.
type StripOutput struct {
	mux        serialmux.SerialMuxInterface
	brightness uint8
	count      int
	table      stateTable
}

// NewStripOutput wraps an open controller link driving count LEDs. The strip
// itself is not touched until the first Set.
func NewStripOutput(mux serialmux.SerialMuxInterface, brightness uint8, count int) (*StripOutput, error) {
	if mux == nil {
		return nil, errors.New("strip output needs a controller link")
	}
	if err := CheckLEDCount(count); err != nil {
		return nil, err
	}
	return &StripOutput{mux: mux, brightness: brightness, count: count}, nil
}

func (o *StripOutput) Set(dir traffic.Direction, state traffic.LightState) error {
	if err := checkArgs(dir, state); err != nil {
		return err
	}
	if err := o.mux.SendCommands(PixelCommands(o.count, dir, state, o.brightness)...); err != nil {
		return fmt.Errorf("set %s to %s: %w", dir, state, err)
	}
	o.table.put(dir, state)
	logf("%s: set to %s", dir, state)
	return nil
}

func (o *StripOutput) State(dir traffic.Direction) traffic.LightState { return o.table.get(dir) }

// Shutdown clears every pixel on the strip.
func (o *StripOutput) Shutdown() error {
	if err := o.mux.SendCommands("C", "S"); err != nil {
		return fmt.Errorf("clear strip: %w", err)
	}
	o.table.clear()
	logf("all LEDs turned off")
	return nil
}

func (o *StripOutput) Mode() string { return ModePhysical }

// WatchReplies logs error replies from the controller until ctx is done or
// the link closes.
func (o *StripOutput) WatchReplies(ctx context.Context) {
	id, lines := o.mux.Subscribe()
	defer o.mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.HasPrefix(line, "ERR") {
				logf("LED controller: %s", line)
			}
		}
	}
}
