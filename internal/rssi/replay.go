package rssi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ReplaySource plays back a recorded trace of ADC counts, one per line.
// Blank lines and lines starting with '#' are skipped.
type ReplaySource struct {
	mu      sync.Mutex
	samples []uint16
	next    int
	loop    bool
}

// NewReplaySource parses a trace from r. With loop set the trace repeats
// forever; otherwise Read returns ErrSourceExhausted at the end.
func NewReplaySource(r io.Reader, loop bool) (*ReplaySource, error) {
	var samples []uint16
	scan := bufio.NewScanner(r)
	line := 0
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("rssi: trace line %d: %w", line, err)
		}
		if v > FullScale {
			v = FullScale
		}
		samples = append(samples, uint16(v))
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("rssi: read trace: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("rssi: trace holds no samples")
	}
	return &ReplaySource{samples: samples, loop: loop}, nil
}

// OpenReplay loads a trace file.
func OpenReplay(path string, loop bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rssi: open trace: %w", err)
	}
	defer f.Close()
	return NewReplaySource(f, loop)
}

// Read returns the next sample of the trace.
func (s *ReplaySource) Read() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.samples) {
		if !s.loop {
			return 0, ErrSourceExhausted
		}
		s.next = 0
	}
	v := s.samples[s.next]
	s.next++
	return v, nil
}

// Len returns the number of samples in the trace.
func (s *ReplaySource) Len() int { return len(s.samples) }
