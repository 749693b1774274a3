// Package serialmux multiplexes a line-oriented serial link to the LED strip
// controller board. Commands from any goroutine are written whole, and
// reply lines from the board are fanned out to subscribers.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var (
	ErrWriteFailed = errors.New("short write to serial port")
	ErrClosed      = errors.New("serial mux closed")
)

// SerialMuxInterface is implemented by SerialMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns a channel of reply lines and the id used to
	// unsubscribe it.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command.
	SendCommand(string) error
	// SendCommands writes all commands back to back without letting any
	// other writer interleave.
	SendCommands(...string) error
	// Monitor reads reply lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error
	// AttachAdminRoutes serves debugging pages under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux is a serial port multiplexer over any SerialPorter.
type SerialMux[T SerialPorter] struct {
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	commandMu sync.Mutex
	closed    bool
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered reply channel.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes the channel registered under id.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command followed by a newline.
func (s *SerialMux[T]) SendCommand(command string) error {
	return s.SendCommands(command)
}

// SendCommands writes the commands in order under one lock.
func (s *SerialMux[T]) SendCommands(commands ...string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, command := range commands {
		if !strings.HasSuffix(command, "\n") {
			command += "\n"
		}
		n, err := s.port.Write([]byte(command))
		if err != nil {
			return fmt.Errorf("write %q: %w", strings.TrimSpace(command), err)
		}
		if n != len(command) {
			return ErrWriteFailed
		}
	}
	return nil
}

// Monitor scans reply lines from the port and delivers them to every
// subscriber. Slow subscribers miss lines rather than block the reader.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				scanErr <- ctx.Err()
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if s.isClosed() {
					return nil
				}
				return <-scanErr
			}
			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) isClosed() bool {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.closed
}

// Close closes all subscriber channels and the port. Later calls are no-ops.
func (s *SerialMux[T]) Close() error {
	s.commandMu.Lock()
	if s.closed {
		s.commandMu.Unlock()
		return nil
	}
	s.closed = true
	s.commandMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

var sendCommandPage = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html><head><title>LED controller</title></head>
<body>
<h1>LED controller</h1>
<form method="post" action="/debug/send-command-api">
<input name="command" placeholder="P 0 255 0 0" autofocus>
<button type="submit">Send</button>
</form>
<p>Protocol: <code>P &lt;index&gt; &lt;r&gt; &lt;g&gt; &lt;b&gt;</code>, <code>S</code> show, <code>C</code> clear.</p>
<pre id="tail"></pre>
<script>
new EventSource("/debug/tail").onmessage = function (e) {
  document.getElementById("tail").textContent += e.data + "\n";
};
</script>
</body></html>
`))

// AttachAdminRoutes adds a manual command page, a command endpoint and a
// server-sent-events tail of reply lines to the tsweb debug mux.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the LED controller", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sendCommandPage.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		_, _ = w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
