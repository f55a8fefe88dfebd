// Package serialmux owns the node's serial link. It reads bytes from the
// port, hands them to a protocol handler one at a time, writes each response
// back, and mirrors the traffic to any number of debug subscribers.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gatetimer/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrNotServing  = errors.New("serial link has no handler attached")
)

// maxBatch bounds how many received bytes are handled per read.
const maxBatch = 100

// tapBuffer is each subscriber's channel depth.
const tapBuffer = 64

// ByteHandler consumes received bytes one at a time and returns the
// response to send, if any.
type ByteHandler interface {
	HandleByte(b byte) []byte
}

// LinkStats counts traffic over the link.
type LinkStats struct {
	BytesIn   uint64 `json:"bytes_in"`
	BytesOut  uint64 `json:"bytes_out"`
	Responses uint64 `json:"responses"`
	TapDrops  uint64 `json:"tap_drops"`
}

// SerialMux owns a serial port, feeds a ByteHandler, and taps the traffic.
type SerialMux[T SerialPorter] struct {
	port T

	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	writeMu   sync.Mutex
	processMu sync.Mutex

	handlerMu sync.Mutex
	handler   ByteHandler

	closing   bool
	closingMu sync.Mutex

	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
	responses atomic.Uint64
	tapDrops  atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel receiving one hex line per exchange.
	// The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Write sends raw bytes to the port.
	Write([]byte) error
	// Inject feeds bytes to the handler as if they had been received.
	Inject([]byte) ([]byte, error)
	// Serve reads from the port and feeds the handler until ctx is done or
	// the port fails.
	Serve(context.Context, ByteHandler) error
	// Stats returns the traffic counters.
	Stats() LinkStats
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// NewSerialMux creates a SerialMux around an open port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, tapBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// publish hands a line to every subscriber without blocking.
func (s *SerialMux[T]) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.tapDrops.Add(1)
		}
	}
}

// Write sends p to the serial port.
func (s *SerialMux[T]) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if n != len(p) {
		return ErrWriteFailed
	}
	s.bytesOut.Add(uint64(n))
	return nil
}

// process runs a batch of received bytes through h, writing each response
// as soon as it is produced. One tap line is published per response, plus
// one for trailing bytes that produced none.
func (s *SerialMux[T]) process(h ByteHandler, batch []byte) ([]byte, error) {
	s.processMu.Lock()
	defer s.processMu.Unlock()

	var out []byte
	start := 0
	for i, b := range batch {
		resp := h.HandleByte(b)
		if len(resp) == 0 {
			continue
		}
		if err := s.Write(resp); err != nil {
			return out, err
		}
		s.responses.Add(1)
		out = append(out, resp...)
		s.publish(fmt.Sprintf("rx % x | tx % x", batch[start:i+1], resp))
		start = i + 1
	}
	if start < len(batch) {
		s.publish(fmt.Sprintf("rx % x", batch[start:]))
	}
	return out, nil
}

// Inject feeds p to the attached handler as if it had arrived on the port.
// Responses are written to the port and also returned.
func (s *SerialMux[T]) Inject(p []byte) ([]byte, error) {
	s.handlerMu.Lock()
	h := s.handler
	s.handlerMu.Unlock()
	if h == nil {
		return nil, ErrNotServing
	}
	var out []byte
	for len(p) > 0 {
		n := min(len(p), maxBatch)
		resp, err := s.process(h, p[:n])
		out = append(out, resp...)
		if err != nil {
			return out, err
		}
		p = p[n:]
	}
	return out, nil
}

// Serve reads the port and feeds h until ctx is cancelled, the port reaches
// EOF, or the mux is closed. A read error is returned wrapped.
func (s *SerialMux[T]) Serve(ctx context.Context, h ByteHandler) error {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
	defer func() {
		s.handlerMu.Lock()
		s.handler = nil
		s.handlerMu.Unlock()
	}()

	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	// The blocking Read runs on its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(chunks)
		buf := make([]byte, maxBatch)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if s.isClosing() {
				return nil
			}
			return fmt.Errorf("read serial port: %w", err)

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					if !s.isClosing() {
						return fmt.Errorf("read serial port: %w", err)
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.bytesIn.Add(uint64(len(chunk)))
			if _, err := s.process(h, chunk); err != nil {
				monitoring.Logf("[serialmux] %v", err)
			}
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() LinkStats {
	return LinkStats{
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
		Responses: s.responses.Load(),
		TapDrops:  s.tapDrops.Load(),
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("link", func() any { return s.Stats() })

	debug.HandleSilentFunc("link-inject", injectHandler(s))

	// Server-Sent Events (SSE), one event per exchange on the link.
	debug.HandleFunc("link-tail", "live hex tail of the node link", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		flusher, _ := w.(http.Flusher)
		w.Write([]byte(": ping\n\n"))
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}

// injectHandler feeds hex bytes to the protocol handler, e.g. "22" or
// "51 16 a8 be", and answers with the response bytes.
func injectHandler(link interface{ Inject([]byte) ([]byte, error) }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := strings.Join(strings.Fields(r.FormValue("hex")), "")
		if raw == "" {
			http.Error(w, "Missing hex", http.StatusBadRequest)
			return
		}
		p, err := hex.DecodeString(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid hex: %v", err), http.StatusBadRequest)
			return
		}
		resp, err := link.Inject(p)
		if errors.Is(err, ErrNotServing) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("% x\n", resp))
	}
}
