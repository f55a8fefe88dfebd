package node

import "fmt"

// Command is a node protocol command code.
type Command uint8

// Read commands.
const (
	ReadAddress        Command = 0x00
	ReadFrequency      Command = 0x03
	ReadLapStats       Command = 0x05
	ReadLapPassStats   Command = 0x0D
	ReadLapExtremums   Command = 0x0E
	ReadRHFeatFlags    Command = 0x11
	ReadRevisionCode   Command = 0x22
	ReadNodeRSSIPeak   Command = 0x23
	ReadNodeRSSINadir  Command = 0x24
	ReadEnterAtLevel   Command = 0x31
	ReadExitAtLevel    Command = 0x32
	ReadTimeMillis     Command = 0x33
	ReadMultinodeCount Command = 0x39
	ReadCurNodeIndex   Command = 0x3A
	ReadNodeSlotIndex  Command = 0x3C
	ReadFWVersion      Command = 0x3D
	ReadFWBuildDate    Command = 0x3E
	ReadFWBuildTime    Command = 0x3F
	ReadFWProcType     Command = 0x40
)

// Write commands.
const (
	WriteFrequency    Command = 0x51
	WriteEnterAtLevel Command = 0x71
	WriteExitAtLevel  Command = 0x72
	SendStatusMessage Command = 0x75
	ForceEndCrossing  Command = 0x78
	WriteCurNodeIndex Command = 0x7A
	JumpToBootloader  Command = 0x7E
)

// writeSplit is the lowest write command code.
const writeSplit = 0x51

// maxPayload is the largest write payload in the table.
const maxPayload = 2

var commandNames = map[Command]string{
	ReadAddress:        "READ_ADDRESS",
	ReadFrequency:      "READ_FREQUENCY",
	ReadLapStats:       "READ_LAP_STATS",
	ReadLapPassStats:   "READ_LAP_PASS_STATS",
	ReadLapExtremums:   "READ_LAP_EXTREMUMS",
	ReadRHFeatFlags:    "READ_RHFEAT_FLAGS",
	ReadRevisionCode:   "READ_REVISION_CODE",
	ReadNodeRSSIPeak:   "READ_NODE_RSSI_PEAK",
	ReadNodeRSSINadir:  "READ_NODE_RSSI_NADIR",
	ReadEnterAtLevel:   "READ_ENTER_AT_LEVEL",
	ReadExitAtLevel:    "READ_EXIT_AT_LEVEL",
	ReadTimeMillis:     "READ_TIME_MILLIS",
	ReadMultinodeCount: "READ_MULTINODE_COUNT",
	ReadCurNodeIndex:   "READ_CURNODE_INDEX",
	ReadNodeSlotIndex:  "READ_NODE_SLOTIDX",
	ReadFWVersion:      "READ_FW_VERSION",
	ReadFWBuildDate:    "READ_FW_BUILDDATE",
	ReadFWBuildTime:    "READ_FW_BUILDTIME",
	ReadFWProcType:     "READ_FW_PROCTYPE",
	WriteFrequency:     "WRITE_FREQUENCY",
	WriteEnterAtLevel:  "WRITE_ENTER_AT_LEVEL",
	WriteExitAtLevel:   "WRITE_EXIT_AT_LEVEL",
	SendStatusMessage:  "SEND_STATUS_MESSAGE",
	ForceEndCrossing:   "FORCE_END_CROSSING",
	WriteCurNodeIndex:  "WRITE_CURNODE_INDEX",
	JumpToBootloader:   "JUMP_TO_BOOTLOADER",
}

// payloadSizes holds the payload length of each write command, excluding
// the trailing checksum byte.
var payloadSizes = map[Command]int{
	WriteFrequency:    2,
	WriteEnterAtLevel: 1,
	WriteExitAtLevel:  1,
	SendStatusMessage: 2,
	ForceEndCrossing:  1,
	WriteCurNodeIndex: 1,
	JumpToBootloader:  0,
}

// Known reports whether c is in the command table.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// IsWrite reports whether c carries a payload and checksum.
func (c Command) IsWrite() bool { return c >= writeSplit }

// PayloadSize returns the payload length of a write command.
func (c Command) PayloadSize() int { return payloadSizes[c] }

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// StatusFlags records what the host has done since the flags were last
// cleared.
type StatusFlags uint8

const (
	CommActivity   StatusFlags = 0x01
	SerialCmdMsg   StatusFlags = 0x02
	FreqSet        StatusFlags = 0x04
	FreqChanged    StatusFlags = 0x08
	EnterAtChanged StatusFlags = 0x10
	ExitAtChanged  StatusFlags = 0x20
	LapStatsRead   StatusFlags = 0x40
)
