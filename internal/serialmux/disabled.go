package serialmux

import (
	"context"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in for the link when no serial port is
// configured (-port ""). Serve only records the handler, so the debug
// inject route can still drive the protocol. Subscriber channels are
// tracked so they can be closed deterministically on Unsubscribe or Close.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	handler     ByteHandler
	closing     bool
	injected    uint64
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		d.mu.Unlock()
		return id, ch
	}
	d.subscribers[id] = ch
	d.mu.Unlock()
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

func (d *DisabledSerialMux) Write([]byte) error { return nil }

// Inject runs p through the handler attached by Serve and returns the
// responses.
func (d *DisabledSerialMux) Inject(p []byte) ([]byte, error) {
	d.mu.Lock()
	h := d.handler
	d.injected += uint64(len(p))
	d.mu.Unlock()
	if h == nil {
		return nil, ErrNotServing
	}
	var out []byte
	for _, b := range p {
		out = append(out, h.HandleByte(b)...)
	}
	return out, nil
}

func (d *DisabledSerialMux) Serve(ctx context.Context, h ByteHandler) error {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Stats() LinkStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return LinkStats{BytesIn: d.injected}
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	// Close all subscriber channels
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("link", func() any { return "disabled" })
	debug.HandleSilentFunc("link-inject", injectHandler(d))
}
