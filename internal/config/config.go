package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pinger-sim/internal/geometry"
	"pinger-sim/internal/noise"
)

type Config struct {
	Pinger PingerConfig `yaml:"pinger"`
	Sim    SimConfig    `yaml:"sim"`
	Output OutputConfig `yaml:"output"`
	Web    WebConfig    `yaml:"web"`
	Log    LogConfig    `yaml:"log"`
	Trace  TraceConfig  `yaml:"trace"`
	Audit  AuditConfig  `yaml:"audit"`

	// Warnings lists parameters that were replaced by defaults.
	Warnings []string `yaml:"-"`
}

type PingerConfig struct {
	FrameID              string            `yaml:"frame_id"`
	TopicName            string            `yaml:"topic_name"`
	SetPositionTopicName string            `yaml:"set_position_topic_name"`
	Position             geometry.Position `yaml:"position"`
	UpdateRate           float64           `yaml:"update_rate"`
	Seed                 uint64            `yaml:"seed"`
	RangeNoise           noise.Config      `yaml:"range_noise"`
	BearingNoise         noise.Config      `yaml:"bearing_noise"`
	ElevationNoise       noise.Config      `yaml:"elevation_noise"`
}

type SimConfig struct {
	Tick     time.Duration  `yaml:"tick"`
	Mode     string         `yaml:"mode"`
	Duration time.Duration  `yaml:"duration"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Scenario ScenarioConfig `yaml:"scenario"`
}

type VehicleConfig struct {
	Enable  bool              `yaml:"enable"`
	Center  geometry.Position `yaml:"center"`
	RadiusM float64           `yaml:"radius_m"`
	Period  time.Duration     `yaml:"period"`
	DepthM  float64           `yaml:"depth_m"`
	SpawnAt time.Duration     `yaml:"spawn_at"`
}

type ScenarioConfig struct {
	Path string `yaml:"path"`
	Loop bool   `yaml:"loop"`
}

type OutputConfig struct {
	UDP    UDPConfig    `yaml:"udp"`
	Serial SerialConfig `yaml:"serial"`
	Strobe StrobeConfig `yaml:"strobe"`
}

type UDPConfig struct {
	Enable    bool   `yaml:"enable"`
	Dest      string `yaml:"dest"`
	Broadcast bool   `yaml:"broadcast"`
}

type SerialConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type StrobeConfig struct {
	Enable bool          `yaml:"enable"`
	Pin    int           `yaml:"pin"`
	Pulse  time.Duration `yaml:"pulse"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig enables the SQLite log of pinger repositions.
type AuditConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type TraceConfig struct {
	Enable      bool    `yaml:"enable"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse unmarshals YAML and applies DefaultAndValidate.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, unknownFieldsErr(err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place. Bad rates and noise blocks are
// replaced and recorded in cfg.Warnings; anything that would leave the
// pipeline in an undefined state is an error.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	cfg.Warnings = nil
	p := &cfg.Pinger

	if strings.TrimSpace(p.FrameID) == "" {
		p.FrameID = "pinger"
	}
	if strings.TrimSpace(p.TopicName) == "" {
		p.TopicName = "/pinger/range_bearing"
	}
	if strings.TrimSpace(p.SetPositionTopicName) == "" {
		p.SetPositionTopicName = "/pinger/set_pinger_position"
	}
	if err := p.Position.Validate(); err != nil {
		return fmt.Errorf("pinger.position.%w", err)
	}
	if p.UpdateRate == 0 {
		p.UpdateRate = 1
	} else if p.UpdateRate < 0 || math.IsNaN(p.UpdateRate) || math.IsInf(p.UpdateRate, 0) {
		cfg.warnf("pinger.update_rate %v is invalid, using 1", p.UpdateRate)
		p.UpdateRate = 1
	}
	for _, n := range []struct {
		key string
		cfg *noise.Config
	}{
		{"pinger.range_noise", &p.RangeNoise},
		{"pinger.bearing_noise", &p.BearingNoise},
		{"pinger.elevation_noise", &p.ElevationNoise},
	} {
		if err := n.cfg.Validate(); err != nil {
			cfg.warnf("%s: %v, using none", n.key, err)
			*n.cfg = noise.Config{Type: "none"}
		}
	}

	s := &cfg.Sim
	if s.Tick <= 0 {
		s.Tick = 10 * time.Millisecond
	}
	switch strings.ToLower(strings.TrimSpace(s.Mode)) {
	case "", "realtime":
		s.Mode = "realtime"
	case "accelerated":
		s.Mode = "accelerated"
	default:
		return fmt.Errorf("sim.mode must be 'realtime' or 'accelerated'")
	}
	if s.Duration < 0 {
		return fmt.Errorf("sim.duration must be >= 0")
	}
	if s.Mode == "accelerated" && s.Duration == 0 && strings.TrimSpace(s.Scenario.Path) == "" {
		return fmt.Errorf("sim.duration is required when sim.mode is 'accelerated'")
	}
	if err := s.Vehicle.Center.Validate(); err != nil {
		return fmt.Errorf("sim.vehicle.center.%w", err)
	}
	if s.Vehicle.RadiusM <= 0 {
		s.Vehicle.RadiusM = 20
	}
	if s.Vehicle.Period <= 0 {
		s.Vehicle.Period = 120 * time.Second
	}
	if s.Vehicle.SpawnAt < 0 {
		return fmt.Errorf("sim.vehicle.spawn_at must be >= 0")
	}
	if s.Vehicle.Enable && strings.TrimSpace(s.Scenario.Path) != "" {
		return fmt.Errorf("sim.vehicle and sim.scenario cannot both be enabled")
	}

	o := &cfg.Output
	if o.UDP.Enable && strings.TrimSpace(o.UDP.Dest) == "" {
		return fmt.Errorf("output.udp.dest is required when output.udp.enable is true")
	}
	if o.Serial.Enable {
		if strings.TrimSpace(o.Serial.Device) == "" {
			return fmt.Errorf("output.serial.device is required when output.serial.enable is true")
		}
		if o.Serial.Baud == 0 {
			o.Serial.Baud = 4800
		}
	}
	if o.Strobe.Enable {
		if o.Strobe.Pin <= 0 {
			return fmt.Errorf("output.strobe.pin is required when output.strobe.enable is true")
		}
		if o.Strobe.Pulse <= 0 {
			o.Strobe.Pulse = 10 * time.Millisecond
		}
	}

	if cfg.Audit.Enable && strings.TrimSpace(cfg.Audit.Path) == "" {
		return fmt.Errorf("audit.path is required when audit.enable is true")
	}

	if cfg.Trace.Enable {
		r := cfg.Trace.SampleRatio
		if r == 0 {
			cfg.Trace.SampleRatio = 1
		} else if r < 0 || r > 1 || math.IsNaN(r) {
			return fmt.Errorf("trace.sample_ratio must be in (0, 1]")
		}
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "text"
	}
	return nil
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// unknownFieldsErr rewrites a strict-decoding failure into a single-line
// message. Other errors pass through.
func unknownFieldsErr(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	fields := make([]string, 0, len(te.Errors))
	for _, e := range te.Errors {
		if !strings.Contains(e, " not found in type ") {
			return err
		}
		if i := strings.Index(e, ": "); i >= 0 && strings.HasPrefix(e, "line ") {
			e = e[i+2:]
		}
		fields = append(fields, e)
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(fields, "; "))
}
