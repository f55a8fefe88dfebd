// Package node implements the RotorHazard node protocol: a byte-at-a-time
// command parser and the responder that answers it from the timing core.
package node

import (
	"sync"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/rx5808"
	"github.com/banshee-data/gatetimer/internal/timing"
)

const (
	// APILevel is the node protocol level reported in the revision code.
	APILevel = 35

	// RevisionCode identifies a node to the race server.
	RevisionCode = 0x25<<8 | APILevel

	// Address is the fixed node address.
	Address = 0x08

	featureFlags   = 0x0000
	multinodeCount = 1

	// loopTimeMicros is reported in LAP_PASS_STATS.
	loopTimeMicros = 1000

	lapFlagCrossing = 0x01
	lapFlagPeak     = 0x02
)

// TimingSource is the part of the timing core the node talks to.
type TimingSource interface {
	State() (timing.State, bool)
	Millis() uint32
	TunedFrequency() uint16
	NextLap() (timing.LapRecord, bool)
	NextExtremum() (e timing.Extremum, isPeak, ok bool)
	SetEnterRSSI(v uint8)
	SetExitRSSI(v uint8)
	SetFrequency(freq uint16) error
	SetActivated(active bool)
	SetSlot(slot uint8)
	ForceEndCrossing()
}

// Stats counts parser outcomes.
type Stats struct {
	ReadsServed        uint64 `json:"reads_served"`
	WritesDispatched   uint64 `json:"writes_dispatched"`
	UnknownCommands    uint64 `json:"unknown_commands"`
	ChecksumFailures   uint64 `json:"checksum_failures"`
	BootloaderRequests uint64 `json:"bootloader_requests"`
}

// LastPass is the most recent lap the node has drained from the core.
type LastPass struct {
	Timestamp uint32 `json:"timestamp"`
	PeakRSSI  uint8  `json:"peak_rssi"`
	Lap       uint16 `json:"lap"`
}

// Node is one protocol session. HandleByte may be called from several
// goroutines; bytes are processed one at a time.
type Node struct {
	src TimingSource
	id  Identity

	mu sync.Mutex

	// Parser state. A pending command with want > 0 is collecting its
	// payload and checksum.
	cmd     Command
	want    int
	payload [maxPayload + 1]byte
	got     int

	// Session state.
	lastPass LastPass
	slot     uint8
	flags    StatusFlags
	stats    Stats
}

// New returns a node answering from src.
func New(src TimingSource, id Identity) *Node {
	return &Node{src: src, id: id}
}

// HandleByte feeds one received byte to the parser and returns the response
// to send, if any. Unknown command codes are dropped without a response.
func (n *Node) HandleByte(b byte) []byte {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.want > 0 {
		n.payload[n.got] = b
		n.got++
		if n.got < n.want {
			return nil
		}
		size := n.want - 1
		n.want = 0
		if Checksum(n.payload[:size]) != n.payload[size] {
			n.stats.ChecksumFailures++
			return nil
		}
		n.dispatch(n.cmd, n.payload[:size])
		return nil
	}

	cmd := Command(b)
	if !cmd.Known() {
		n.stats.UnknownCommands++
		return nil
	}
	if cmd.IsWrite() {
		n.cmd = cmd
		n.want = cmd.PayloadSize() + 1
		n.got = 0
		return nil
	}
	return n.respond(cmd)
}

// Handle feeds a run of bytes and returns the concatenated responses.
func (n *Node) Handle(p []byte) []byte {
	var out []byte
	for _, b := range p {
		out = append(out, n.HandleByte(b)...)
	}
	return out
}

// Flags returns the status flags.
func (n *Node) Flags() StatusFlags {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flags
}

// ClearFlags clears the given status flags.
func (n *Node) ClearFlags(mask StatusFlags) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flags &^= mask
}

// Stats returns a copy of the parser counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// LastPass returns the last drained lap.
func (n *Node) LastPass() LastPass {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastPass
}

// Slot returns the node index set by the host.
func (n *Node) Slot() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.slot
}

// drainLaps moves every undrained lap from the core into the last-pass
// record.
func (n *Node) drainLaps() {
	for {
		lap, ok := n.src.NextLap()
		if !ok {
			return
		}
		n.lastPass.Timestamp = lap.Timestamp
		n.lastPass.PeakRSSI = lap.PeakRSSI
		n.lastPass.Lap++
	}
}

func (n *Node) respond(cmd Command) []byte {
	n.drainLaps()
	n.stats.ReadsServed++
	n.flags |= CommActivity | SerialCmdMsg

	switch cmd {
	case ReadAddress:
		f := newFrame(1)
		f.u8(Address)
		return f.bytes()

	case ReadFrequency:
		s, _ := n.src.State()
		f := newFrame(2)
		f.u16(s.FrequencyMHz)
		return f.bytes()

	case ReadLapStats:
		return n.lapStats()

	case ReadLapPassStats:
		return n.lapPassStats()

	case ReadLapExtremums:
		return n.lapExtremums()

	case ReadRHFeatFlags:
		f := newFrame(2)
		f.u16(featureFlags)
		return f.bytes()

	case ReadRevisionCode:
		f := newFrame(2)
		f.u16(RevisionCode)
		return f.bytes()

	case ReadNodeRSSIPeak:
		s, _ := n.src.State()
		return single(s.PeakRSSI)

	case ReadNodeRSSINadir:
		s, _ := n.src.State()
		return single(s.NadirRSSI)

	case ReadEnterAtLevel:
		s, _ := n.src.State()
		return single(s.EnterRSSI)

	case ReadExitAtLevel:
		s, _ := n.src.State()
		return single(s.ExitRSSI)

	case ReadTimeMillis:
		f := newFrame(4)
		f.u32(n.src.Millis())
		return f.bytes()

	case ReadMultinodeCount:
		return single(multinodeCount)

	case ReadCurNodeIndex, ReadNodeSlotIndex:
		return single(n.slot)

	case ReadFWVersion:
		return identityBlock(n.id.Version)
	case ReadFWBuildDate:
		return identityBlock(n.id.BuildDate)
	case ReadFWBuildTime:
		return identityBlock(n.id.BuildTime)
	case ReadFWProcType:
		return identityBlock(n.id.ProcType)
	}
	return nil
}

// lapStats is the composite status block: time, level, last pass, flags,
// lap counter and pass nadir.
func (n *Node) lapStats() []byte {
	s, _ := n.src.State()
	now := n.src.Millis()

	var flags uint8
	if s.Crossing {
		flags |= lapFlagCrossing
	}
	f := newFrame(14)
	f.u32(now)
	f.u8(s.CurrentRSSI)
	f.u32(n.lastPass.Timestamp)
	f.u8(n.lastPass.PeakRSSI)
	f.u8(flags)
	f.u16(n.lastPass.Lap)
	f.u8(s.PassNadirRSSI)
	return f.bytes()
}

func (n *Node) lapPassStats() []byte {
	s, _ := n.src.State()
	now := n.src.Millis()

	f := newFrame(8)
	f.u8(uint8(n.lastPass.Lap))
	f.u16(sat16(now - n.lastPass.Timestamp))
	f.u8(s.CurrentRSSI)
	f.u8(s.PeakRSSI)
	f.u8(n.lastPass.PeakRSSI)
	f.u16(loopTimeMicros)
	n.flags |= LapStatsRead
	return f.bytes()
}

// lapExtremums reports the older of the pending peak and nadir. The time
// offset is measured back from now.
func (n *Node) lapExtremums() []byte {
	s, _ := n.src.State()
	now := n.src.Millis()
	e, isPeak, ok := n.src.NextExtremum()

	var flags uint8
	if s.Crossing {
		flags |= lapFlagCrossing
	}
	if ok && isPeak {
		flags |= lapFlagPeak
	}

	f := newFrame(8)
	f.u8(flags)
	f.u8(s.PassNadirRSSI)
	f.u8(s.NadirRSSI)
	if !ok {
		f.u8(0)
		f.u16(0)
		f.u16(0)
		return f.bytes()
	}
	var offset uint32
	if now >= e.FirstTime {
		offset = now - e.FirstTime
	}
	f.u8(e.RSSI)
	f.u16(sat16(offset))
	f.u16(e.Duration)
	return f.bytes()
}

func (n *Node) dispatch(cmd Command, p []byte) {
	n.stats.WritesDispatched++
	n.flags |= CommActivity | SerialCmdMsg

	switch cmd {
	case WriteFrequency:
		freq := uint16(p[0])<<8 | uint16(p[1])
		if !rx5808.InRange(freq) {
			return
		}
		if freq != n.src.TunedFrequency() {
			if err := n.src.SetFrequency(freq); err != nil {
				monitoring.Logf("[node] tune %d MHz: %v", freq, err)
				return
			}
			n.flags |= FreqChanged
		}
		n.src.SetActivated(true)
		n.flags |= FreqSet

	case WriteEnterAtLevel:
		n.src.SetEnterRSSI(p[0])
		n.flags |= EnterAtChanged

	case WriteExitAtLevel:
		n.src.SetExitRSSI(p[0])
		n.flags |= ExitAtChanged

	case SendStatusMessage:
		monitoring.Logf("[node] status message 0x%02X%02X", p[0], p[1])

	case ForceEndCrossing:
		n.src.ForceEndCrossing()

	case WriteCurNodeIndex:
		n.slot = p[0]
		n.src.SetSlot(p[0])

	case JumpToBootloader:
		n.stats.BootloaderRequests++
	}
}

func single(v uint8) []byte {
	f := newFrame(1)
	f.u8(v)
	return f.bytes()
}

func identityBlock(s string) []byte {
	f := newFrame(identityWidth)
	f.text(identityValue(s), identityWidth)
	return f.bytes()
}

var _ TimingSource = (*timing.Core)(nil)
