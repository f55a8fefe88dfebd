package version

import (
	"runtime"
	"time"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp, RFC 3339 when set by the release build
	BuildTime = "unknown"
)

// Firmware holds the four "KEY: value" identity strings a timing node
// reports to the race server.
type Firmware struct {
	Version   string
	BuildDate string
	BuildTime string
	ProcType  string
}

// FirmwareStrings renders the build info in the node identity format.
// BuildTime is split into a C-style date ("Jan 02 2006") and time when it
// parses; otherwise both carry the raw value.
func FirmwareStrings() Firmware {
	date, clock := BuildTime, BuildTime
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		t = t.UTC()
		date = t.Format("Jan 02 2006")
		clock = t.Format("15:04:05")
	}
	return Firmware{
		Version:   "FIRMWARE_VERSION: " + Version,
		BuildDate: "FIRMWARE_BUILDDATE: " + date,
		BuildTime: "FIRMWARE_BUILDTIME: " + clock,
		ProcType:  "FIRMWARE_PROCTYPE: " + runtime.GOOS + "/" + runtime.GOARCH,
	}
}
