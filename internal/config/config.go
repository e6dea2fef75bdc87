// Package config loads the flight profile and the runtime settings of the
// ascent controller. Values are resolved once at startup from defaults, an
// optional config file and ASCENT_* environment variables, then treated as
// immutable.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete controller configuration.
type Config struct {
	Mission Mission `mapstructure:"mission" yaml:"mission"`
	Runtime Runtime `mapstructure:"runtime" yaml:"runtime"`
}

// Mission is the flight profile. Distances are metres, times are seconds of
// provider time.
type Mission struct {
	TurnStartAltitude      float64 `mapstructure:"turnStartAltitude" yaml:"turnStartAltitude"`
	TurnEndAltitude        float64 `mapstructure:"turnEndAltitude" yaml:"turnEndAltitude"`
	TurnHysteresis         float64 `mapstructure:"turnHysteresis" yaml:"turnHysteresis"` // degrees
	Heading                float64 `mapstructure:"heading" yaml:"heading"`               // degrees
	TargetApoapsis         float64 `mapstructure:"targetApoapsis" yaml:"targetApoapsis"`
	ApoapsisCutoffFraction float64 `mapstructure:"apoapsisCutoffFraction" yaml:"apoapsisCutoffFraction"`
	FineThrottle           float64 `mapstructure:"fineThrottle" yaml:"fineThrottle"`
	ExitAltitude           float64 `mapstructure:"exitAltitude" yaml:"exitAltitude"`
	BoosterStage           int     `mapstructure:"boosterStage" yaml:"boosterStage"`
	BoosterResource        string  `mapstructure:"boosterResource" yaml:"boosterResource"`
	BoosterFuelThreshold   float64 `mapstructure:"boosterFuelThreshold" yaml:"boosterFuelThreshold"`
	RecordInterval         float64 `mapstructure:"recordInterval" yaml:"recordInterval"`
	LeadTime               float64 `mapstructure:"leadTime" yaml:"leadTime"`
	StandardGravity        float64 `mapstructure:"standardGravity" yaml:"standardGravity"`
	BurnCutoffMargin       float64 `mapstructure:"burnCutoffMargin" yaml:"burnCutoffMargin"`
	TrimThrottle           float64 `mapstructure:"trimThrottle" yaml:"trimThrottle"`
	CountdownSteps         int     `mapstructure:"countdownSteps" yaml:"countdownSteps"`
	CountdownStep          float64 `mapstructure:"countdownStep" yaml:"countdownStep"`
}

// Runtime holds process-level settings that do not change the flight.
type Runtime struct {
	PollInterval time.Duration `mapstructure:"pollInterval" yaml:"pollInterval"`
	Timeouts     Timeouts      `mapstructure:"timeouts" yaml:"timeouts"`
	Provider     Provider      `mapstructure:"provider" yaml:"provider"`
	MetricsAddr  string        `mapstructure:"metricsAddr" yaml:"metricsAddr"`
	APIAddr      string        `mapstructure:"apiAddr" yaml:"apiAddr"`
	StatusAddr   string        `mapstructure:"statusAddr" yaml:"statusAddr"`
	Tracing      Tracing       `mapstructure:"tracing" yaml:"tracing"`
}

// Tracing controls span export for the mission and phase spans.
type Tracing struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string  `mapstructure:"exporter" yaml:"exporter"` // stdout | otlp
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"` // otlp collector host:port
	SampleRatio float64 `mapstructure:"sampleRatio" yaml:"sampleRatio"`
	ServiceName string  `mapstructure:"serviceName" yaml:"serviceName"`
}

// Timeouts bounds the controller's blocking waits. Zero means unbounded.
type Timeouts struct {
	Ascent     time.Duration `mapstructure:"ascent" yaml:"ascent"`
	Coast      time.Duration `mapstructure:"coast" yaml:"coast"`
	Attitude   time.Duration `mapstructure:"attitude" yaml:"attitude"`
	BurnWindow time.Duration `mapstructure:"burnWindow" yaml:"burnWindow"`
}

// Provider selects and addresses the vehicle provider.
type Provider struct {
	Kind       string `mapstructure:"kind" yaml:"kind"` // krpc | fake
	Host       string `mapstructure:"host" yaml:"host"`
	RPCPort    int    `mapstructure:"rpcPort" yaml:"rpcPort"`
	StreamPort int    `mapstructure:"streamPort" yaml:"streamPort"`
	ClientName string `mapstructure:"clientName" yaml:"clientName"`
}

// DefaultMission returns the reference flight profile.
func DefaultMission() Mission {
	return Mission{
		TurnStartAltitude:      250,
		TurnEndAltitude:        45000,
		TurnHysteresis:         0.5,
		Heading:                90,
		TargetApoapsis:         80000,
		ApoapsisCutoffFraction: 0.9,
		FineThrottle:           0.25,
		ExitAltitude:           70500,
		BoosterStage:           5,
		BoosterResource:        "SolidFuel",
		BoosterFuelThreshold:   0.1,
		RecordInterval:         0.5,
		LeadTime:               5,
		StandardGravity:        9.82,
		BurnCutoffMargin:       0.1,
		TrimThrottle:           0.05,
		CountdownSteps:         3,
		CountdownStep:          1,
	}
}

// DefaultRuntime returns the default process settings.
func DefaultRuntime() Runtime {
	return Runtime{
		PollInterval: 10 * time.Millisecond,
		Timeouts: Timeouts{
			Ascent:     20 * time.Minute,
			Coast:      30 * time.Minute,
			Attitude:   3 * time.Minute,
			BurnWindow: 30 * time.Minute,
		},
		Provider: Provider{
			Kind:       "krpc",
			Host:       "127.0.0.1",
			RPCPort:    50000,
			StreamPort: 50001,
			ClientName: "Launch into orbit",
		},
		MetricsAddr: ":9090",
		APIAddr:     ":8087",
		StatusAddr:  ":50052",
		Tracing: Tracing{
			Exporter:    "stdout",
			Endpoint:    "localhost:4317",
			SampleRatio: 1,
			ServiceName: "ascent-controller",
		},
	}
}

// Default returns the full default configuration.
func Default() Config {
	return Config{Mission: DefaultMission(), Runtime: DefaultRuntime()}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment variables apply. Environment variables use the
// ASCENT_ prefix and underscores for nesting, e.g.
// ASCENT_MISSION_TARGETAPOAPSIS=90000.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("ASCENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	m := d.Mission
	v.SetDefault("mission.turnStartAltitude", m.TurnStartAltitude)
	v.SetDefault("mission.turnEndAltitude", m.TurnEndAltitude)
	v.SetDefault("mission.turnHysteresis", m.TurnHysteresis)
	v.SetDefault("mission.heading", m.Heading)
	v.SetDefault("mission.targetApoapsis", m.TargetApoapsis)
	v.SetDefault("mission.apoapsisCutoffFraction", m.ApoapsisCutoffFraction)
	v.SetDefault("mission.fineThrottle", m.FineThrottle)
	v.SetDefault("mission.exitAltitude", m.ExitAltitude)
	v.SetDefault("mission.boosterStage", m.BoosterStage)
	v.SetDefault("mission.boosterResource", m.BoosterResource)
	v.SetDefault("mission.boosterFuelThreshold", m.BoosterFuelThreshold)
	v.SetDefault("mission.recordInterval", m.RecordInterval)
	v.SetDefault("mission.leadTime", m.LeadTime)
	v.SetDefault("mission.standardGravity", m.StandardGravity)
	v.SetDefault("mission.burnCutoffMargin", m.BurnCutoffMargin)
	v.SetDefault("mission.trimThrottle", m.TrimThrottle)
	v.SetDefault("mission.countdownSteps", m.CountdownSteps)
	v.SetDefault("mission.countdownStep", m.CountdownStep)

	r := d.Runtime
	v.SetDefault("runtime.pollInterval", r.PollInterval)
	v.SetDefault("runtime.timeouts.ascent", r.Timeouts.Ascent)
	v.SetDefault("runtime.timeouts.coast", r.Timeouts.Coast)
	v.SetDefault("runtime.timeouts.attitude", r.Timeouts.Attitude)
	v.SetDefault("runtime.timeouts.burnWindow", r.Timeouts.BurnWindow)
	v.SetDefault("runtime.provider.kind", r.Provider.Kind)
	v.SetDefault("runtime.provider.host", r.Provider.Host)
	v.SetDefault("runtime.provider.rpcPort", r.Provider.RPCPort)
	v.SetDefault("runtime.provider.streamPort", r.Provider.StreamPort)
	v.SetDefault("runtime.provider.clientName", r.Provider.ClientName)
	v.SetDefault("runtime.metricsAddr", r.MetricsAddr)
	v.SetDefault("runtime.apiAddr", r.APIAddr)
	v.SetDefault("runtime.statusAddr", r.StatusAddr)
	v.SetDefault("runtime.tracing.enabled", r.Tracing.Enabled)
	v.SetDefault("runtime.tracing.exporter", r.Tracing.Exporter)
	v.SetDefault("runtime.tracing.endpoint", r.Tracing.Endpoint)
	v.SetDefault("runtime.tracing.sampleRatio", r.Tracing.SampleRatio)
	v.SetDefault("runtime.tracing.serviceName", r.Tracing.ServiceName)
}

// Validate checks the configuration for values the controller cannot fly with.
func (c Config) Validate() error {
	if err := c.Mission.Validate(); err != nil {
		return err
	}
	return c.Runtime.Validate()
}

// Validate checks the flight profile.
func (m Mission) Validate() error {
	switch {
	case m.TurnStartAltitude < 0:
		return invalid("turnStartAltitude must be >= 0")
	case m.TurnEndAltitude <= m.TurnStartAltitude:
		return invalid("turnEndAltitude must be greater than turnStartAltitude")
	case m.TurnHysteresis < 0:
		return invalid("turnHysteresis must be >= 0")
	case m.TargetApoapsis <= 0:
		return invalid("targetApoapsis must be > 0")
	case m.ApoapsisCutoffFraction <= 0 || m.ApoapsisCutoffFraction > 1:
		return invalid("apoapsisCutoffFraction must be in (0, 1]")
	case !isThrottle(m.FineThrottle):
		return invalid("fineThrottle must be in [0, 1]")
	case !isThrottle(m.TrimThrottle):
		return invalid("trimThrottle must be in [0, 1]")
	case m.ExitAltitude <= 0:
		return invalid("exitAltitude must be > 0")
	case m.BoosterStage < 0:
		return invalid("boosterStage must be >= 0")
	case m.BoosterResource == "":
		return invalid("boosterResource must be set")
	case m.BoosterFuelThreshold < 0:
		return invalid("boosterFuelThreshold must be >= 0")
	case m.RecordInterval < 0:
		return invalid("recordInterval must be >= 0")
	case m.LeadTime < 0:
		return invalid("leadTime must be >= 0")
	case m.StandardGravity <= 0:
		return invalid("standardGravity must be > 0")
	case m.BurnCutoffMargin < 0:
		return invalid("burnCutoffMargin must be >= 0")
	case m.CountdownSteps < 0 || m.CountdownStep < 0:
		return invalid("countdown must be >= 0")
	}
	return nil
}

// Validate checks the runtime settings.
func (r Runtime) Validate() error {
	if r.PollInterval < 0 {
		return invalid("pollInterval must be >= 0")
	}
	if r.Timeouts.Ascent < 0 || r.Timeouts.Coast < 0 || r.Timeouts.Attitude < 0 || r.Timeouts.BurnWindow < 0 {
		return invalid("timeouts must be >= 0")
	}
	switch strings.ToLower(r.Provider.Kind) {
	case "krpc":
		if r.Provider.Host == "" {
			return invalid("provider.host must be set for krpc")
		}
	case "fake":
	default:
		return invalid(fmt.Sprintf("unsupported provider kind %q", r.Provider.Kind))
	}
	return r.Tracing.Validate()
}

// Validate checks the tracing settings. Exporter settings are checked even
// when tracing is disabled so a bad file fails at startup.
func (t Tracing) Validate() error {
	switch strings.ToLower(t.Exporter) {
	case "stdout":
	case "otlp":
		if t.Endpoint == "" {
			return invalid("tracing.endpoint must be set for the otlp exporter")
		}
	default:
		return invalid(fmt.Sprintf("unsupported tracing exporter %q", t.Exporter))
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return invalid("tracing.sampleRatio must be in [0,1]")
	}
	return nil
}

// CountdownStepDuration converts the countdown step to a duration.
func (m Mission) CountdownStepDuration() time.Duration {
	return Seconds(m.CountdownStep)
}

// Seconds converts provider seconds to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DumpMission writes the effective flight profile as YAML.
func DumpMission(w io.Writer, m Mission) error {
	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mission: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func isThrottle(v float64) bool { return v >= 0 && v <= 1 }

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}
