package lapdb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/timing"
)

// DefaultRecorderBuffer is the number of events a Recorder queues before it
// starts dropping.
const DefaultRecorderBuffer = 256

type journalEvent struct {
	lap      *timing.LapRecord
	active   bool
	rssi     uint8
	recorded time.Time
}

// RecorderStats counts what a Recorder has done with the events it was
// handed.
type RecorderStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Recorder is a timing.Observer that journals laps and crossings of one
// session. Observer calls only enqueue; a single Run goroutine writes, and
// events that do not fit the queue are dropped and counted.
type Recorder struct {
	db      *DB
	session string
	events  chan journalEvent

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ timing.Observer = (*Recorder)(nil)

// NewRecorder returns a Recorder for session. A buffer below 1 uses
// DefaultRecorderBuffer.
func NewRecorder(db *DB, session string, buffer int) *Recorder {
	if buffer < 1 {
		buffer = DefaultRecorderBuffer
	}
	return &Recorder{
		db:      db,
		session: session,
		events:  make(chan journalEvent, buffer),
	}
}

// Session returns the session id events are recorded against.
func (r *Recorder) Session() string { return r.session }

func (r *Recorder) LapRecorded(lap timing.LapRecord) {
	r.enqueue(journalEvent{lap: &lap})
}

func (r *Recorder) CrossingChanged(active bool, rssi uint8) {
	r.enqueue(journalEvent{active: active, rssi: rssi, recorded: r.db.clock.Now()})
}

func (r *Recorder) enqueue(ev journalEvent) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.events:
			r.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev journalEvent) {
	var err error
	if ev.lap != nil {
		err = r.db.RecordLap(r.session, *ev.lap)
	} else {
		err = r.db.RecordCrossing(r.session, ev.active, ev.rssi, ev.recorded)
	}
	if err != nil {
		r.failed.Add(1)
		monitoring.Logf("[lapdb] %v", err)
		return
	}
	r.written.Add(1)
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
