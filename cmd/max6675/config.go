package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mikesmitty/max6675"
	"gopkg.in/yaml.v3"
)

// Config is the command's YAML configuration.
type Config struct {
	Bus string `yaml:"bus"`
	// SelectPins lists the chip-select GPIO of each chip, top first.
	SelectPins  []string      `yaml:"select_pins"`
	Averaging   bool          `yaml:"averaging"`
	WindowBits  uint          `yaml:"window_bits"`
	Interval    time.Duration `yaml:"interval"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Modbus      ModbusConfig  `yaml:"modbus"`
}

// ModbusConfig places the latest readings in holding registers of a Modbus
// TCP endpoint. Export is off when Endpoint is empty.
type ModbusConfig struct {
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Address  uint16        `yaml:"address"`
	Timeout  time.Duration `yaml:"timeout"`
}

func Default() *Config {
	return &Config{
		SelectPins:  []string{"GPIO8"},
		WindowBits:  2,
		Interval:    250 * time.Millisecond,
		ReadTimeout: 100 * time.Millisecond,
		Modbus: ModbusConfig{
			UnitID:  1,
			Timeout: time.Second,
		},
	}
}

// Load reads a YAML config file. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ensureDefaults()

	return cfg, nil
}

func (c *Config) ensureDefaults() {
	def := Default()

	if len(c.SelectPins) == 0 {
		c.SelectPins = def.SelectPins
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.Modbus.UnitID == 0 {
		c.Modbus.UnitID = def.Modbus.UnitID
	}
	if c.Modbus.Timeout == 0 {
		c.Modbus.Timeout = def.Modbus.Timeout
	}
}

// Validate checks the configuration without changing it.
func (c *Config) Validate() error {
	if n := len(c.SelectPins); n < 1 || n > max6675.MaxDevices {
		return fmt.Errorf("select_pins: need 1 or %d pins, got %d", max6675.MaxDevices, n)
	}
	for i, p := range c.SelectPins {
		if p == "" {
			return fmt.Errorf("select_pins[%d]: empty pin name", i)
		}
	}
	if c.Averaging && c.WindowBits > 8 {
		return fmt.Errorf("window_bits: %d exceeds 8", c.WindowBits)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval: must be positive, got %s", c.Interval)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout: must be positive, got %s", c.ReadTimeout)
	}
	if c.Modbus.Endpoint != "" && int(c.Modbus.Address)+max6675.MaxDevices > 0x10000 {
		return fmt.Errorf("modbus.address: %d leaves no room for %d registers", c.Modbus.Address, max6675.MaxDevices)
	}
	return nil
}

// Options converts the config to driver options.
func (c *Config) Options() *max6675.Opts {
	opts := max6675.DefaultOptions()
	opts.Devices = len(c.SelectPins)
	opts.Averaging = c.Averaging
	opts.WindowBits = c.WindowBits
	opts.ReadTimeout = c.ReadTimeout
	return opts
}
