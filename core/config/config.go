package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	RefClockDS3231 = "ds3231"
	RefClockDevRTC = "devrtc"
	RefClockSim    = "sim"

	ActuatorI2C  = "i2c"
	ActuatorSim  = "sim"
	ActuatorNone = "none"

	minScaledPoll = time.Second
	maxScaledPoll = time.Duration(math.MaxInt64)
)

type ReferenceClock struct {
	Type        string  `toml:"type,omitempty" yaml:"type,omitempty"`
	I2CBus      string  `toml:"i2c_bus,omitempty" yaml:"i2c_bus,omitempty"`
	I2CAddress  uint16  `toml:"i2c_address,omitempty" yaml:"i2c_address,omitempty"`
	SQWPin      string  `toml:"sqw_pin,omitempty" yaml:"sqw_pin,omitempty"`
	Device      string  `toml:"device,omitempty" yaml:"device,omitempty"`
	SimDriftPPM float64 `toml:"sim_drift_ppm,omitempty" yaml:"sim_drift_ppm,omitempty"`
	SimOffset   float64 `toml:"sim_offset,omitempty" yaml:"sim_offset,omitempty"`
}

type Actuator struct {
	Type       string `toml:"type,omitempty" yaml:"type,omitempty"`
	I2CBus     string `toml:"i2c_bus,omitempty" yaml:"i2c_bus,omitempty"`
	I2CAddress uint16 `toml:"i2c_address,omitempty" yaml:"i2c_address,omitempty"`
	TickPin    string `toml:"tick_pin,omitempty" yaml:"tick_pin,omitempty"`
}

// Config holds the node configuration. Intervals and thresholds are in
// seconds.
type Config struct {
	Server           string         `toml:"server,omitempty" yaml:"server,omitempty"`
	RemotePort       int            `toml:"remote_port,omitempty" yaml:"remote_port,omitempty"`
	LocalPort        int            `toml:"local_port,omitempty" yaml:"local_port,omitempty"`
	TimeoutMs        int            `toml:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	SampleCapacity   int            `toml:"sample_capacity,omitempty" yaml:"sample_capacity,omitempty"`
	LedgerCapacity   int            `toml:"ledger_capacity,omitempty" yaml:"ledger_capacity,omitempty"`
	OffsetThreshold  float64        `toml:"offset_threshold,omitempty" yaml:"offset_threshold,omitempty"`
	MinPollInterval  float64        `toml:"min_poll_interval,omitempty" yaml:"min_poll_interval,omitempty"`
	MaxPollInterval  float64        `toml:"max_poll_interval,omitempty" yaml:"max_poll_interval,omitempty"`
	FailPollInterval float64        `toml:"fail_poll_interval,omitempty" yaml:"fail_poll_interval,omitempty"`
	Factor           float64        `toml:"factor,omitempty" yaml:"factor,omitempty"`
	TZOffset         int64          `toml:"tz_offset,omitempty" yaml:"tz_offset,omitempty"`
	StopThreshold    int64          `toml:"stop_threshold,omitempty" yaml:"stop_threshold,omitempty"`
	LedgerFile       string         `toml:"ledger_file,omitempty" yaml:"ledger_file,omitempty"`
	SessionFile      string         `toml:"session_file,omitempty" yaml:"session_file,omitempty"`
	MonitorAddr      string         `toml:"monitor_address,omitempty" yaml:"monitor_address,omitempty"`
	ReferenceClock   ReferenceClock `toml:"reference_clock,omitempty" yaml:"reference_clock,omitempty"`
	Actuator         Actuator       `toml:"actuator,omitempty" yaml:"actuator,omitempty"`
}

var errInvalid = errors.New("invalid configuration")

func Default() Config {
	return Config{
		Server:           "pool.ntp.org",
		RemotePort:       123,
		TimeoutMs:        1000,
		SampleCapacity:   8,
		LedgerCapacity:   10,
		OffsetThreshold:  0.100,
		MinPollInterval:  900,
		MaxPollInterval:  172800,
		FailPollInterval: 3600,
		Factor:           1,
		ReferenceClock: ReferenceClock{
			Type:       RefClockSim,
			I2CAddress: 0x68,
			Device:     "/dev/rtc0",
		},
		Actuator: Actuator{
			Type:       ActuatorNone,
			I2CAddress: 0x09,
		},
	}
}

// Decode reads a configuration in TOML or, for .yaml and .yml names, in YAML.
// Unknown keys are rejected. Unset keys keep their defaults.
func Decode(name string, raw []byte) (Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	}
	if err != nil {
		return Config{}, err
	}
	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(name string) (Config, error) {
	raw, err := os.ReadFile(name)
	if err != nil {
		return Config{}, err
	}
	return Decode(name, raw)
}

func (c *Config) Validate() error {
	switch {
	case c.Server == "":
		return fmt.Errorf("%w: server not specified", errInvalid)
	case c.RemotePort <= 0 || c.RemotePort > 65535:
		return fmt.Errorf("%w: remote_port %d", errInvalid, c.RemotePort)
	case c.LocalPort < 0 || c.LocalPort > 65535:
		return fmt.Errorf("%w: local_port %d", errInvalid, c.LocalPort)
	case c.TimeoutMs <= 0:
		return fmt.Errorf("%w: timeout_ms %d", errInvalid, c.TimeoutMs)
	case c.SampleCapacity < 1 || c.SampleCapacity > 255:
		return fmt.Errorf("%w: sample_capacity %d", errInvalid, c.SampleCapacity)
	case c.LedgerCapacity < 1 || c.LedgerCapacity > 255:
		return fmt.Errorf("%w: ledger_capacity %d", errInvalid, c.LedgerCapacity)
	case c.OffsetThreshold <= 0:
		return fmt.Errorf("%w: offset_threshold %v", errInvalid, c.OffsetThreshold)
	case c.Factor <= 0:
		return fmt.Errorf("%w: factor %v", errInvalid, c.Factor)
	case c.MinPollInterval <= 0 || c.MaxPollInterval < c.MinPollInterval:
		return fmt.Errorf("%w: poll interval bounds [%v, %v]", errInvalid,
			c.MinPollInterval, c.MaxPollInterval)
	case c.FailPollInterval < c.MinPollInterval || c.FailPollInterval > c.MaxPollInterval:
		return fmt.Errorf("%w: fail_poll_interval %v", errInvalid, c.FailPollInterval)
	case c.MinPollInterval/c.Factor < minScaledPoll.Seconds() ||
		c.MaxPollInterval/c.Factor >= maxScaledPoll.Seconds():
		return fmt.Errorf("%w: factor %v scales poll interval bounds [%v, %v] out of range",
			errInvalid, c.Factor, c.MinPollInterval, c.MaxPollInterval)
	case c.StopThreshold < 0:
		return fmt.Errorf("%w: stop_threshold %d", errInvalid, c.StopThreshold)
	}
	switch c.ReferenceClock.Type {
	case RefClockDS3231, RefClockDevRTC, RefClockSim:
	default:
		return fmt.Errorf("%w: reference clock type %q", errInvalid, c.ReferenceClock.Type)
	}
	switch c.Actuator.Type {
	case ActuatorI2C, ActuatorSim, ActuatorNone:
	default:
		return fmt.Errorf("%w: actuator type %q", errInvalid, c.Actuator.Type)
	}
	return nil
}

// Intervals returns the minimum, medium and maximum poll intervals scaled
// down by the acceleration factor.
func (c *Config) Intervals() (lo, mid, hi time.Duration) {
	scale := func(sec float64) time.Duration {
		return time.Duration(sec / c.Factor * float64(time.Second))
	}
	return scale(c.MinPollInterval), scale(c.FailPollInterval), scale(c.MaxPollInterval)
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
