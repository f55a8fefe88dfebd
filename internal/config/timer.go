package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/gatetimer/internal/rx5808"
	"github.com/banshee-data/gatetimer/internal/serialmux"
)

// ErrUnsupportedExtension is returned for config files that are not .json.
var ErrUnsupportedExtension = errors.New("config file must have .json extension")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults for omitted keys.
const (
	DefaultEnterRSSI      = 120
	DefaultExitRSSI       = 100
	DefaultFrequencyMHz   = 5800
	DefaultMinLapMs       = 5000
	DefaultFilterQ        = 5.0
	DefaultFilterR        = 0.005
	DefaultSampleInterval = "1ms"
	DefaultLockTimeout    = "10ms"
	DefaultADCAverage     = 1
)

// ADC drivers.
const (
	ADCDriverADS1115 = "ads1115"
	ADCDriverIIO     = "iio"
)

// PinConfig names the receiver bus lines in the periph pin registry.
type PinConfig struct {
	Data   string `json:"data"`
	Clock  string `json:"clk"`
	Select string `json:"sel"`
}

// ADCConfig selects the RSSI converter. The ads1115 driver uses Bus and
// Channel; the iio driver reads Path and rescales from Bits.
type ADCConfig struct {
	Driver  string `json:"driver"`
	Bus     string `json:"bus,omitempty"`
	Channel int    `json:"channel,omitempty"`
	Path    string `json:"path,omitempty"`
	Bits    int    `json:"bits,omitempty"`
}

// TimerConfig is the node's startup configuration. Omitted keys fall back
// to the defaults through the Get* accessors, so partial files are safe.
type TimerConfig struct {
	// Detector
	EnterRSSI *int `json:"enter_rssi,omitempty"`
	ExitRSSI  *int `json:"exit_rssi,omitempty"`
	MinLapMs  *int `json:"min_lap_ms,omitempty"`

	// Receiver. Band and Channel, when both set, win over FrequencyMHz.
	FrequencyMHz *int    `json:"frequency_mhz,omitempty"`
	Band         *string `json:"band,omitempty"`    // band letter, e.g. "R"
	Channel      *int    `json:"channel,omitempty"` // 1-8

	// Filter
	FilterQ *float64 `json:"filter_q,omitempty"`
	FilterR *float64 `json:"filter_r,omitempty"`

	// Sampling
	SampleInterval  *string `json:"sample_interval,omitempty"` // duration string like "1ms"
	LockTimeout     *string `json:"lock_timeout,omitempty"`    // duration string like "10ms"
	ActivateOnStart *bool   `json:"activate_on_start,omitempty"`

	// Node link
	SerialPort *string                `json:"serial_port,omitempty"`
	Serial     *serialmux.PortOptions `json:"serial,omitempty"`

	// Lap journal; empty disables it.
	LapDBPath *string `json:"lap_db_path,omitempty"`

	// Hardware
	RX5808Pins *PinConfig `json:"rx5808_pins,omitempty"`
	ADC        *ADCConfig `json:"adc,omitempty"`
	ADCAverage *int       `json:"adc_average,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

func defaultPins() PinConfig {
	return PinConfig{Data: "GPIO23", Clock: "GPIO18", Select: "GPIO5"}
}

func defaultADC() ADCConfig {
	return ADCConfig{Driver: ADCDriverADS1115}
}

// DefaultTimerConfig returns a config with every field set to its default.
func DefaultTimerConfig() *TimerConfig {
	pins := defaultPins()
	adc := defaultADC()
	return &TimerConfig{
		EnterRSSI:       ptrInt(DefaultEnterRSSI),
		ExitRSSI:        ptrInt(DefaultExitRSSI),
		MinLapMs:        ptrInt(DefaultMinLapMs),
		FrequencyMHz:    ptrInt(DefaultFrequencyMHz),
		FilterQ:         ptrFloat64(DefaultFilterQ),
		FilterR:         ptrFloat64(DefaultFilterR),
		SampleInterval:  ptrString(DefaultSampleInterval),
		LockTimeout:     ptrString(DefaultLockTimeout),
		ActivateOnStart: ptrBool(false),
		SerialPort:      ptrString(""),
		Serial:          &serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		LapDBPath:       ptrString(""),
		RX5808Pins:      &pins,
		ADC:             &adc,
		ADCAverage:      ptrInt(DefaultADCAverage),
	}
}

// LoadTimerConfig loads a TimerConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTimerConfig(path string) (*TimerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w, got %q", ErrUnsupportedExtension, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TimerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid. The ordering of
// enter and exit is deliberately left unchecked.
func (c *TimerConfig) Validate() error {
	for _, lvl := range []struct {
		name string
		v    *int
	}{
		{"enter_rssi", c.EnterRSSI},
		{"exit_rssi", c.ExitRSSI},
	} {
		if lvl.v != nil && (*lvl.v < 0 || *lvl.v > 255) {
			return fmt.Errorf("%s must be between 0 and 255, got %d", lvl.name, *lvl.v)
		}
	}

	if c.FrequencyMHz != nil {
		f := *c.FrequencyMHz
		if f < 0 || f > 0xFFFF || !rx5808.InRange(uint16(f)) {
			return fmt.Errorf("frequency_mhz must be between %d and %d, got %d", rx5808.MinFrequency, rx5808.MaxFrequency, f)
		}
	}

	if (c.Band == nil) != (c.Channel == nil) {
		return fmt.Errorf("band and channel must be set together")
	}
	if c.Band != nil {
		if _, ok := rx5808.BandIndex(*c.Band); !ok {
			return fmt.Errorf("unknown band %q", *c.Band)
		}
		if *c.Channel < 1 || *c.Channel > rx5808.NumChannels {
			return fmt.Errorf("channel must be between 1 and %d, got %d", rx5808.NumChannels, *c.Channel)
		}
		b, _ := rx5808.BandIndex(*c.Band)
		if f, _ := rx5808.Frequency(b, uint8(*c.Channel-1)); !rx5808.InRange(f) {
			return fmt.Errorf("%s%d is %d MHz, outside %d-%d", strings.ToUpper(*c.Band), *c.Channel, f, rx5808.MinFrequency, rx5808.MaxFrequency)
		}
	}

	if c.MinLapMs != nil && *c.MinLapMs < 0 {
		return fmt.Errorf("min_lap_ms must be non-negative, got %d", *c.MinLapMs)
	}
	if c.FilterQ != nil && *c.FilterQ <= 0 {
		return fmt.Errorf("filter_q must be positive, got %f", *c.FilterQ)
	}
	if c.FilterR != nil && *c.FilterR <= 0 {
		return fmt.Errorf("filter_r must be positive, got %f", *c.FilterR)
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"sample_interval", c.SampleInterval},
		{"lock_timeout", c.LockTimeout},
	} {
		if d.v == nil || *d.v == "" {
			continue
		}
		dur, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if dur <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	if c.RX5808Pins != nil {
		p := c.RX5808Pins
		if p.Data == "" || p.Clock == "" || p.Select == "" {
			return fmt.Errorf("rx5808_pins needs data, clk and sel")
		}
	}

	if c.ADC != nil {
		switch strings.ToLower(c.ADC.Driver) {
		case ADCDriverADS1115:
			if c.ADC.Channel < 0 || c.ADC.Channel > 3 {
				return fmt.Errorf("adc.channel must be between 0 and 3, got %d", c.ADC.Channel)
			}
		case ADCDriverIIO:
			if c.ADC.Path == "" {
				return fmt.Errorf("adc.path is required for the iio driver")
			}
		default:
			return fmt.Errorf("unknown adc.driver %q", c.ADC.Driver)
		}
	}

	if c.ADCAverage != nil && *c.ADCAverage < 1 {
		return fmt.Errorf("adc_average must be at least 1, got %d", *c.ADCAverage)
	}
	return nil
}

// GetEnterRSSI returns the enter threshold.
func (c *TimerConfig) GetEnterRSSI() uint8 {
	if c.EnterRSSI == nil {
		return DefaultEnterRSSI
	}
	return uint8(*c.EnterRSSI)
}

// GetExitRSSI returns the exit threshold.
func (c *TimerConfig) GetExitRSSI() uint8 {
	if c.ExitRSSI == nil {
		return DefaultExitRSSI
	}
	return uint8(*c.ExitRSSI)
}

// GetMinLap returns the minimum lap time; zero disables the gate.
func (c *TimerConfig) GetMinLap() time.Duration {
	if c.MinLapMs == nil {
		return DefaultMinLapMs * time.Millisecond
	}
	return time.Duration(*c.MinLapMs) * time.Millisecond
}

// GetBandChannel returns zero-based table indices when both band and
// channel are set.
func (c *TimerConfig) GetBandChannel() (band, channel uint8, ok bool) {
	if c.Band == nil || c.Channel == nil {
		return 0, 0, false
	}
	b, ok := rx5808.BandIndex(*c.Band)
	if !ok || *c.Channel < 1 || *c.Channel > rx5808.NumChannels {
		return 0, 0, false
	}
	return b, uint8(*c.Channel - 1), true
}

// GetFrequency returns the startup frequency, preferring band and channel.
func (c *TimerConfig) GetFrequency() uint16 {
	if b, ch, ok := c.GetBandChannel(); ok {
		return rx5808.FrequencyOrDefault(b, ch)
	}
	if c.FrequencyMHz == nil {
		return DefaultFrequencyMHz
	}
	return uint16(*c.FrequencyMHz)
}

func (c *TimerConfig) GetFilterQ() float64 {
	if c.FilterQ == nil {
		return DefaultFilterQ
	}
	return *c.FilterQ
}

func (c *TimerConfig) GetFilterR() float64 {
	if c.FilterR == nil {
		return DefaultFilterR
	}
	return *c.FilterR
}

func parseDurationOr(v *string, def string) time.Duration {
	s := def
	if v != nil && *v != "" {
		s = *v
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(def)
	}
	return d
}

// GetSampleInterval returns the sampler period.
func (c *TimerConfig) GetSampleInterval() time.Duration {
	return parseDurationOr(c.SampleInterval, DefaultSampleInterval)
}

// GetLockTimeout returns the bounded read wait on the timing state.
func (c *TimerConfig) GetLockTimeout() time.Duration {
	return parseDurationOr(c.LockTimeout, DefaultLockTimeout)
}

func (c *TimerConfig) GetActivateOnStart() bool {
	if c.ActivateOnStart == nil {
		return false
	}
	return *c.ActivateOnStart
}

func (c *TimerConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *TimerConfig) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

func (c *TimerConfig) GetLapDBPath() string {
	if c.LapDBPath == nil {
		return ""
	}
	return *c.LapDBPath
}

func (c *TimerConfig) GetRX5808Pins() PinConfig {
	if c.RX5808Pins == nil {
		return defaultPins()
	}
	return *c.RX5808Pins
}

func (c *TimerConfig) GetADC() ADCConfig {
	if c.ADC == nil {
		return defaultADC()
	}
	adc := *c.ADC
	adc.Driver = strings.ToLower(adc.Driver)
	return adc
}

func (c *TimerConfig) GetADCAverage() int {
	if c.ADCAverage == nil {
		return DefaultADCAverage
	}
	return *c.ADCAverage
}
