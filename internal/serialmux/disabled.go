package serialmux

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// droppedHistory bounds the commands a DisabledSerialMux remembers.
const droppedHistory = 64

// DisabledSerialMux stands in when no LED controller is attached. Commands
// are dropped but the most recent ones are kept for the debug page.
// Subscriber channels never receive and are closed on Unsubscribe or Close.
type DisabledSerialMux struct {
	mu      sync.Mutex
	subs    map[string]chan string
	dropped []string
	closed  bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

func (d *DisabledSerialMux) SendCommand(command string) error {
	return d.SendCommands(command)
}

func (d *DisabledSerialMux) SendCommands(commands ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, commands...)
	if over := len(d.dropped) - droppedHistory; over > 0 {
		d.dropped = append(d.dropped[:0:0], d.dropped[over:]...)
	}
	return nil
}

// Dropped returns the most recent commands, oldest first.
func (d *DisabledSerialMux) Dropped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dropped...)
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	return nil
}

// AttachAdminRoutes serves the dropped command log under /debug/serial-disabled.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial-disabled", "LED controller disabled; commands dropped", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"enabled": false,
			"dropped": d.Dropped(),
		})
	})
}
