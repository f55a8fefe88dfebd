package node

import (
	"strings"

	"github.com/banshee-data/gatetimer/internal/version"
)

// identityWidth is the size of each firmware identity block.
const identityWidth = 16

// Identity carries the "KEY: value" strings reported by the READ_FW_*
// commands.
type Identity struct {
	Version   string
	BuildDate string
	BuildTime string
	ProcType  string
}

// DefaultIdentity builds the identity from the binary's build info.
func DefaultIdentity() Identity {
	fw := version.FirmwareStrings()
	return Identity{
		Version:   fw.Version,
		BuildDate: fw.BuildDate,
		BuildTime: fw.BuildTime,
		ProcType:  fw.ProcType,
	}
}

// identityValue strips the "KEY: " prefix. A string with no colon followed
// by a space is reported whole.
func identityValue(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 && i+1 < len(s) && s[i+1] == ' ' {
		return s[i+2:]
	}
	return s
}
