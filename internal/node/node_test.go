package node

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/timing"
	"github.com/banshee-data/gatetimer/internal/timeutil"
)

var testIdentity = Identity{
	Version:   "FIRMWARE_VERSION: 1.4.2",
	BuildDate: "FIRMWARE_BUILDDATE: Jan 02 2026 with a long tail",
	BuildTime: "FIRMWARE_BUILDTIME: 12:34:56",
	ProcType:  "linux/arm64",
}

func newTestNode(t *testing.T) (*Node, *timing.Core, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(nil)
	clock := timeutil.NewMockClock(time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC))
	cfg := timing.DefaultConfig()
	cfg.MinLap = 0
	core := timing.NewCore(cfg, timeutil.NewUptime(clock), nil)
	return New(core, testIdentity), core, clock
}

// recordOneLap leaves a lap at t=1000 with peak 150, a level of 60, and
// the uptime at 2000ms.
func recordOneLap(core *timing.Core, clock *timeutil.MockClock) {
	core.ProcessSample(150, 1000)
	core.ProcessSample(50, 1010)
	core.ProcessSample(60, 1020)
	clock.Advance(2 * time.Second)
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint8
	}{
		{nil, 0},
		{[]byte{0x16, 0xA8}, 0xBE},
		{[]byte{0xFF, 0x02}, 0x01},
		{[]byte{0x25, 0x23}, 0x48},
	}
	for _, tt := range tests {
		if got := Checksum(tt.in); got != tt.want {
			t.Errorf("Checksum(% X) = 0x%02X, want 0x%02X", tt.in, got, tt.want)
		}
	}
}

func TestCommand_Table(t *testing.T) {
	assert.True(t, ReadAddress.Known())
	assert.False(t, ReadAddress.IsWrite())
	assert.True(t, JumpToBootloader.IsWrite())
	assert.True(t, WriteFrequency.IsWrite())
	assert.False(t, Command(0x50).IsWrite(), "0x50 is below the write range")
	assert.False(t, ReadFWProcType.IsWrite())
	assert.Equal(t, 0, JumpToBootloader.PayloadSize())
	assert.Equal(t, 2, WriteFrequency.PayloadSize())
	assert.False(t, Command(0xC3).Known())
	assert.Equal(t, "READ_LAP_EXTREMUMS", ReadLapExtremums.String())
	assert.Equal(t, "Command(0xC3)", Command(0xC3).String())
}

func TestNode_SimpleReads(t *testing.T) {
	n, _, clock := newTestNode(t)
	clock.Advance(2 * time.Second)

	tests := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{"address", ReadAddress, []byte{0x08, 0x08}},
		{"frequency", ReadFrequency, []byte{0x16, 0xA8, 0xBE}},
		{"feature flags", ReadRHFeatFlags, []byte{0x00, 0x00, 0x00}},
		{"revision", ReadRevisionCode, []byte{0x25, 0x23, 0x48}},
		{"peak", ReadNodeRSSIPeak, []byte{0x00, 0x00}},
		{"nadir", ReadNodeRSSINadir, []byte{0xFF, 0xFF}},
		{"enter", ReadEnterAtLevel, []byte{0x78, 0x78}},
		{"exit", ReadExitAtLevel, []byte{0x64, 0x64}},
		{"millis", ReadTimeMillis, []byte{0x00, 0x00, 0x07, 0xD0, 0xD7}},
		{"node count", ReadMultinodeCount, []byte{0x01, 0x01}},
		{"node index", ReadCurNodeIndex, []byte{0x00, 0x00}},
		{"slot index", ReadNodeSlotIndex, []byte{0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.HandleByte(byte(tt.cmd))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("%v response mismatch (-want +got):\n%s", tt.cmd, diff)
			}
		})
	}
	assert.Equal(t, uint64(len(tests)), n.Stats().ReadsServed)
	assert.Equal(t, CommActivity|SerialCmdMsg, n.Flags())
}

func TestNode_IdentityBlocks(t *testing.T) {
	n, _, _ := newTestNode(t)

	block := func(s string, sum byte) []byte {
		b := make([]byte, identityWidth+1)
		copy(b, s)
		b[identityWidth] = sum
		return b
	}
	tests := []struct {
		cmd  Command
		want []byte
	}{
		{ReadFWVersion, block("1.4.2", 0xF3)},
		{ReadFWBuildDate, block("Jan 02 2026 with", 0x61)},
		{ReadFWProcType, block("linux/arm64", 0x09)},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, n.HandleByte(byte(tt.cmd))); diff != "" {
			t.Errorf("%v mismatch (-want +got):\n%s", tt.cmd, diff)
		}
	}

	got := n.HandleByte(byte(ReadFWBuildTime))
	require.Len(t, got, identityWidth+1)
	assert.Equal(t, "12:34:56", string(got[:8]))
}

func TestIdentityValue(t *testing.T) {
	tests := map[string]string{
		"FIRMWARE_VERSION: 1.0": "1.0",
		"no prefix":             "no prefix",
		"KEY:tight":             "KEY:tight",
		"TRAILING: ":            "",
		"A: b: c":               "b: c",
	}
	for in, want := range tests {
		if got := identityValue(in); got != want {
			t.Errorf("identityValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNode_UnknownCommandIsSilent(t *testing.T) {
	n, _, _ := newTestNode(t)

	assert.Nil(t, n.HandleByte(0xC3))
	assert.Equal(t, uint64(1), n.Stats().UnknownCommands)
	assert.Zero(t, n.Flags())

	// The parser is still idle afterwards.
	assert.Equal(t, []byte{0x08, 0x08}, n.HandleByte(byte(ReadAddress)))
}

func TestNode_WriteFrequency(t *testing.T) {
	t.Run("same frequency activates without retune", func(t *testing.T) {
		n, core, _ := newTestNode(t)
		out := n.Handle([]byte{0x51, 0x16, 0xA8, 0xBE})
		assert.Empty(t, out)
		assert.True(t, core.IsActivated())
		assert.Equal(t, CommActivity|SerialCmdMsg|FreqSet, n.Flags())
		assert.Equal(t, uint64(1), n.Stats().WritesDispatched)
	})

	t.Run("new frequency retunes", func(t *testing.T) {
		n, core, _ := newTestNode(t)
		n.Handle([]byte{0x51, 0x16, 0x0D, 0x23})
		assert.Equal(t, uint16(5645), core.Frequency())
		assert.Equal(t, FreqSet|FreqChanged, n.Flags()&(FreqSet|FreqChanged))
		assert.Equal(t, []byte{0x16, 0x0D, 0x23}, n.HandleByte(byte(ReadFrequency)))

		n.Handle([]byte{0x51, 0x17, 0x39, 0x50})
		assert.Equal(t, uint16(5945), core.Frequency())
	})

	t.Run("unchanged frequency ignores a stale core read", func(t *testing.T) {
		n, core, _ := newTestNode(t)
		n.src = contendedCore{core}
		n.Handle([]byte{0x51, 0x16, 0xA8, 0xBE})
		assert.Equal(t, CommActivity|SerialCmdMsg|FreqSet, n.Flags())
		assert.True(t, core.IsActivated())
	})

	t.Run("out of range is ignored", func(t *testing.T) {
		n, core, _ := newTestNode(t)
		n.Handle([]byte{0x51, 0x17, 0x70, 0x87})
		assert.Equal(t, uint16(5800), core.Frequency())
		assert.False(t, core.IsActivated())
		assert.Zero(t, n.Flags()&FreqSet)
	})

	t.Run("bad checksum is dropped", func(t *testing.T) {
		n, core, _ := newTestNode(t)
		n.Handle([]byte{0x51, 0x16, 0x0D, 0x24})
		assert.Equal(t, uint16(5800), core.Frequency())
		assert.Equal(t, uint64(1), n.Stats().ChecksumFailures)
		assert.Zero(t, n.Stats().WritesDispatched)
		assert.Equal(t, []byte{0x08, 0x08}, n.HandleByte(byte(ReadAddress)), "parser returns to idle")
	})
}

// contendedCore answers state reads the way a core does when its lock
// could not be taken in time.
type contendedCore struct{ *timing.Core }

func (contendedCore) Frequency() uint16 { return 0 }

func TestNode_WriteLevels(t *testing.T) {
	n, core, _ := newTestNode(t)
	n.Handle([]byte{0x71, 0x8C, 0x8C, 0x72, 0x96, 0x96})

	enter, exit := core.Thresholds()
	assert.Equal(t, uint8(140), enter)
	assert.Equal(t, uint8(150), exit, "ordering is not checked")
	assert.Equal(t, EnterAtChanged|ExitAtChanged, n.Flags()&(EnterAtChanged|ExitAtChanged))
	assert.Equal(t, []byte{0x8C, 0x8C}, n.HandleByte(byte(ReadEnterAtLevel)))

	n.ClearFlags(EnterAtChanged | ExitAtChanged)
	assert.Zero(t, n.Flags()&(EnterAtChanged|ExitAtChanged))
}

func TestNode_ForceEndCrossing(t *testing.T) {
	n, core, _ := newTestNode(t)
	core.ProcessSample(200, 10)
	require.True(t, core.IsCrossing())

	n.Handle([]byte{0x78, 0x00, 0x00})
	assert.False(t, core.IsCrossing())
	assert.Zero(t, core.PeakRSSI())
}

func TestNode_NodeIndex(t *testing.T) {
	n, core, clock := newTestNode(t)
	n.Handle([]byte{0x7A, 0x03, 0x03})

	assert.Equal(t, uint8(3), n.Slot())
	assert.Equal(t, []byte{0x03, 0x03}, n.HandleByte(byte(ReadCurNodeIndex)))
	assert.Equal(t, []byte{0x03, 0x03}, n.HandleByte(byte(ReadNodeSlotIndex)))

	recordOneLap(core, clock)
	laps := core.PendingLaps()
	require.Len(t, laps, 1)
	assert.Equal(t, uint8(3), laps[0].Slot)
}

func TestNode_JumpToBootloaderIsIgnored(t *testing.T) {
	n, _, _ := newTestNode(t)
	assert.Empty(t, n.Handle([]byte{0x7E, 0x00}))
	assert.Equal(t, uint64(1), n.Stats().BootloaderRequests)
	assert.Equal(t, []byte{0x08, 0x08}, n.HandleByte(byte(ReadAddress)))
}

func TestNode_StatusMessageConsumesPayload(t *testing.T) {
	n, _, _ := newTestNode(t)
	// The payload bytes look like commands but belong to the message.
	assert.Empty(t, n.Handle([]byte{0x75, 0x00, 0x22, 0x22}))
	assert.Equal(t, uint64(1), n.Stats().WritesDispatched)
	assert.Zero(t, n.Stats().ReadsServed)
}

func TestNode_LapStats(t *testing.T) {
	n, core, clock := newTestNode(t)
	recordOneLap(core, clock)

	want := []byte{
		0x00, 0x00, 0x07, 0xD0, // now
		0x3C,                   // rssi
		0x00, 0x00, 0x03, 0xE8, // last pass
		0x96,                   // last pass peak
		0x00,                   // flags
		0x00, 0x01,             // lap counter
		0x3C,                   // pass nadir
		0xD1,
	}
	if diff := cmp.Diff(want, n.HandleByte(byte(ReadLapStats))); diff != "" {
		t.Errorf("LAP_STATS mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, LastPass{Timestamp: 1000, PeakRSSI: 150, Lap: 1}, n.LastPass())
	assert.Empty(t, core.PendingLaps(), "laps are drained into the session")
}

func TestNode_LapPassStats(t *testing.T) {
	n, core, clock := newTestNode(t)
	recordOneLap(core, clock)

	want := []byte{0x01, 0x03, 0xE8, 0x3C, 0x00, 0x96, 0x03, 0xE8, 0xA9}
	if diff := cmp.Diff(want, n.HandleByte(byte(ReadLapPassStats))); diff != "" {
		t.Errorf("LAP_PASS_STATS mismatch (-want +got):\n%s", diff)
	}
	assert.NotZero(t, n.Flags()&LapStatsRead)

	clock.Advance(2 * time.Minute)
	want = []byte{0x01, 0xFF, 0xFF, 0x3C, 0x00, 0x96, 0x03, 0xE8, 0xBC}
	if diff := cmp.Diff(want, n.HandleByte(byte(ReadLapPassStats))); diff != "" {
		t.Errorf("saturated LAP_PASS_STATS mismatch (-want +got):\n%s", diff)
	}
}

func TestNode_LapExtremums(t *testing.T) {
	n, core, clock := newTestNode(t)
	recordOneLap(core, clock)

	want := [][]byte{
		{0x02, 0x3C, 0x32, 0x96, 0x03, 0xE8, 0x00, 0x0A, 0xFB}, // peak 150 at 1000
		{0x00, 0x3C, 0x32, 0x32, 0x03, 0xDE, 0x00, 0x0A, 0x8B}, // nadir 50 at 1010
		{0x00, 0x3C, 0x32, 0x00, 0x00, 0x00, 0x00, 0x00, 0x6E}, // nothing pending
	}
	for i, w := range want {
		if diff := cmp.Diff(w, n.HandleByte(byte(ReadLapExtremums))); diff != "" {
			t.Errorf("read %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestNode_LapExtremumsFresh(t *testing.T) {
	n, _, _ := newTestNode(t)
	want := []byte{0x00, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFE}
	if diff := cmp.Diff(want, n.HandleByte(byte(ReadLapExtremums))); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSat16(t *testing.T) {
	assert.Equal(t, uint16(0), sat16(0))
	assert.Equal(t, uint16(1234), sat16(1234))
	assert.Equal(t, uint16(0xFFFF), sat16(0xFFFF))
	assert.Equal(t, uint16(0xFFFF), sat16(0x10000))
	assert.Equal(t, -3, clamp(-7, -3, 3))
}
