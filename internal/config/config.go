// Package config loads the daemon configuration: the serial ports and the
// motors attached to them.
package config

import (
	"fmt"
	"io/ioutil"
	"sort"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/c-j-payne/ClearCore/clearcore"
	"github.com/c-j-payne/ClearCore/transport"
)

// SerialPort is one line to a controller. Exactly one of Path, Address and
// Simulator must be set.
type SerialPort struct {
	// Path opens a local serial device.
	Path string `yaml:"path"`
	// Baud defaults to transport.DefaultBaud.
	Baud int `yaml:"baud"`
	// Address dials a serial-over-TCP server.
	Address string `yaml:"address"`
	// Simulator runs an in-process controller model.
	Simulator bool `yaml:"simulator"`
}

// Motor is one motor entry. Numeric fields are pointers so that a missing
// value can be told apart from zero.
type Motor struct {
	Name               string   `yaml:"name"`
	Serial             string   `yaml:"serial"`
	MotorID            *int     `yaml:"motor_id"`
	StepsPerRevolution *int     `yaml:"steps_per_revolution"`
	MaxRPM             *float64 `yaml:"max_rpm"`
	// MotionTimeout is a Go duration, or "none" to poll without a deadline.
	MotionTimeout string `yaml:"motion_timeout"`
}

type Config struct {
	SerialPorts map[string]SerialPort `yaml:"serial_ports"`
	Motors      []Motor               `yaml:"motors"`
}

func Load(filename string) (*Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, &clearcore.ConfigError{Field: "config", Reason: err.Error()}
	}
	for name, p := range c.SerialPorts {
		if p.Baud == 0 && p.Path != "" {
			p.Baud = transport.DefaultBaud
			c.SerialPorts[name] = p
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every problem in c, not just the first.
func (c *Config) Validate() error {
	var err error
	names := make([]string, 0, len(c.SerialPorts))
	for name := range c.SerialPorts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err = multierr.Append(err, c.SerialPorts[name].validate("serial_ports."+name))
	}

	if len(c.Motors) == 0 {
		err = multierr.Append(err, &clearcore.ConfigError{Field: "motors", Reason: "at least one motor is required"})
	}
	motorNames := map[string]bool{}
	// Motors may share a port; their connector ids must differ.
	connectors := map[string]map[int]string{}
	for i, m := range c.Motors {
		path := fmt.Sprintf("motors[%d]", i)
		if m.Name == "" {
			err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".name", Reason: "required"})
		} else if motorNames[m.Name] {
			err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".name", Reason: fmt.Sprintf("duplicate motor %q", m.Name)})
		}
		motorNames[m.Name] = true

		switch _, ok := c.SerialPorts[m.Serial]; {
		case m.Serial == "":
			err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".serial", Reason: "required"})
		case !ok:
			err = multierr.Append(err, &clearcore.DependencyError{Name: m.Serial, Err: fmt.Errorf("serial port referenced by %s is not configured", path)})
		case m.MotorID == nil:
		default:
			ids := connectors[m.Serial]
			if ids == nil {
				ids = map[int]string{}
				connectors[m.Serial] = ids
			}
			if other, dup := ids[*m.MotorID]; dup {
				err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".motor_id", Reason: fmt.Sprintf("motor %d on serial port %q is already used by motor %q", *m.MotorID, m.Serial, other)})
			} else {
				ids[*m.MotorID] = m.Name
			}
		}

		if _, merr := m.MotorConfig(path); merr != nil {
			err = multierr.Append(err, merr)
		}
	}
	return err
}

func (p SerialPort) validate(path string) error {
	set := 0
	for _, b := range []bool{p.Path != "", p.Address != "", p.Simulator} {
		if b {
			set++
		}
	}
	if set != 1 {
		return &clearcore.ConfigError{Field: path, Reason: "exactly one of path, address or simulator must be set"}
	}
	if p.Baud < 0 {
		return &clearcore.ConfigError{Field: path + ".baud", Reason: "must not be negative"}
	}
	return nil
}

// MotorConfig converts m into the driver's configuration. path prefixes the
// field names in errors.
func (m Motor) MotorConfig(path string) (clearcore.MotorConfig, error) {
	var err error
	required := func(field string) {
		err = multierr.Append(err, &clearcore.ConfigError{Field: path + "." + field, Reason: "required"})
	}
	var cfg clearcore.MotorConfig
	if m.MotorID == nil {
		required("motor_id")
	} else if cfg.MotorID = *m.MotorID; cfg.MotorID < 0 {
		err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".motor_id", Reason: "must not be negative"})
	}
	if m.StepsPerRevolution == nil {
		required("steps_per_revolution")
	} else if cfg.StepsPerRevolution = *m.StepsPerRevolution; cfg.StepsPerRevolution <= 0 {
		err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".steps_per_revolution", Reason: "must be greater than 0"})
	}
	if m.MaxRPM == nil {
		required("max_rpm")
	} else if cfg.MaxRPM = *m.MaxRPM; !(cfg.MaxRPM > 0) {
		err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".max_rpm", Reason: "must be greater than 0"})
	}

	switch m.MotionTimeout {
	case "":
	case "none":
		cfg.MotionTimeout = clearcore.NoMotionTimeout
	default:
		d, perr := time.ParseDuration(m.MotionTimeout)
		if perr != nil || d <= 0 {
			err = multierr.Append(err, &clearcore.ConfigError{Field: path + ".motion_timeout", Reason: fmt.Sprintf("%q is not a positive duration or \"none\"", m.MotionTimeout)})
		}
		cfg.MotionTimeout = d
	}
	if err != nil {
		return clearcore.MotorConfig{}, err
	}
	return cfg, nil
}
