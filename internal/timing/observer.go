package timing

import "sync"

// Observer receives timing events. Calls happen on the goroutine that
// produced the event, after the timing lock has been released, so
// implementations may read the Core but should return quickly.
type Observer interface {
	LapRecorded(lap LapRecord)
	CrossingChanged(active bool, rssi uint8)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnLap      func(LapRecord)
	OnCrossing func(active bool, rssi uint8)
}

func (o ObserverFuncs) LapRecorded(lap LapRecord) {
	if o.OnLap != nil {
		o.OnLap(lap)
	}
}

func (o ObserverFuncs) CrossingChanged(active bool, rssi uint8) {
	if o.OnCrossing != nil {
		o.OnCrossing(active, rssi)
	}
}

type eventKind uint8

const (
	eventLap eventKind = iota + 1
	eventCrossing
)

type event struct {
	kind   eventKind
	lap    LapRecord
	active bool
	rssi   uint8
}

// eventBuf holds the events of one locked section. A single sample yields
// at most one crossing change and one lap.
type eventBuf struct {
	ev [2]event
	n  int
}

func (b *eventBuf) add(e event) {
	if b.n < len(b.ev) {
		b.ev[b.n] = e
		b.n++
	}
}

type observers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Observer
	order  []int
}

// add registers o and returns a func that removes it.
func (s *observers) add(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]Observer)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = o
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *observers) snapshot() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.subs[id])
	}
	return out
}

func (s *observers) fire(b *eventBuf) {
	if b.n == 0 {
		return
	}
	subs := s.snapshot()
	for _, e := range b.ev[:b.n] {
		for _, o := range subs {
			switch e.kind {
			case eventLap:
				o.LapRecorded(e.lap)
			case eventCrossing:
				o.CrossingChanged(e.active, e.rssi)
			}
		}
	}
}
