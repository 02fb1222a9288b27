// Package config loads the daemon's layered TOML configuration, following
// the teacher's viper-based AppConfig pattern (api/integration-api/config)
// but reading TOML instead of .env and validating with go-playground/validator.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// AppConfig is the fully resolved, validated configuration for a
// hootenannyd process.
type AppConfig struct {
	Paths    PathsConfig    `mapstructure:"paths" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker" validate:"required"`
	CAS      CASConfig      `mapstructure:"cas" validate:"required"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Garden   GardenConfig   `mapstructure:"garden" validate:"required"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Renderer RendererConfig `mapstructure:"renderer"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

// PathsConfig has no defaults: an unconfigured socket_dir is a fatal
// startup error per spec.
type PathsConfig struct {
	SocketDir string `mapstructure:"socket_dir" validate:"required"`
}

// BrokerConfig names the service (used in the conventional
// `ipc:///<socket_dir>/<service>-<channel>` endpoint naming) and the shared
// secret guarding the Control channel.
type BrokerConfig struct {
	Service      string `mapstructure:"service" validate:"required"`
	ControlToken string `mapstructure:"control_token" validate:"required"`
}

// Endpoints derives the five conventional broker socket paths from the
// configured socket directory and service name.
func (c *AppConfig) Endpoints() BrokerEndpoints {
	base := fmt.Sprintf("%s/%s", strings.TrimRight(c.Paths.SocketDir, "/"), c.Broker.Service)
	return BrokerEndpoints{
		Shell:     "ipc://" + base + "-shell",
		Control:   "ipc://" + base + "-control",
		IOPub:     "ipc://" + base + "-iopub",
		Heartbeat: "ipc://" + base + "-heartbeat",
		Query:     "ipc://" + base + "-query",
	}
}

// BrokerEndpoints is the resolved set of five socket URIs for one broker
// instance.
type BrokerEndpoints struct {
	Shell     string
	Control   string
	IOPub     string
	Heartbeat string
	Query     string
}

type CASConfig struct {
	RootDir string `mapstructure:"root_dir" validate:"required"`
}

type StoreConfig struct {
	SqlitePath string `mapstructure:"sqlite_path" validate:"required"`
	RedisAddr  string `mapstructure:"redis_addr" validate:"required"`
	RedisDB    int    `mapstructure:"redis_db"`
	JobTTLSecs int    `mapstructure:"job_ttl_secs" validate:"gte=0"`
}

type GardenConfig struct {
	DefaultBPM   float64 `mapstructure:"default_bpm" validate:"gt=0"`
	PPQ          int     `mapstructure:"ppq" validate:"gt=0"`
	SampleRateHz int     `mapstructure:"sample_rate_hz" validate:"gt=0"`
	RingCapacity int     `mapstructure:"ring_capacity" validate:"gt=0"`
}

// MonitorConfig controls the optional WebRTC monitor egress bridge — a
// local-renderer stand-in for listening to the garden's output channel
// without a native audio device. Disabled unless enabled is set; channel
// names the ring buffer it reads and defaults to "master".
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

// RendererConfig points at the external render service jobs are delegated
// to — synthesis is explicitly out of scope for this runtime, so tools
// named here are the ones the worker pool forwards rather than executing
// in-process.
type RendererConfig struct {
	BaseURL     string   `mapstructure:"base_url"`
	Tools       []string `mapstructure:"tools"`
	TimeoutSecs int      `mapstructure:"timeout_secs"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
	File       string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	// paths.socket_dir is intentionally left without a default.
	v.SetDefault("broker.service", "hootenanny")
	v.SetDefault("cas.root_dir", "./var/cas")
	v.SetDefault("store.sqlite_path", "./var/artifacts.db")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("store.job_ttl_secs", 3600)
	v.SetDefault("garden.default_bpm", 120.0)
	v.SetDefault("garden.ppq", 960)
	v.SetDefault("garden.sample_rate_hz", 48000)
	v.SetDefault("garden.ring_capacity", 8192)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.channel", "master")
	v.SetDefault("renderer.timeout_secs", 30)
	v.SetDefault("http.addr", "127.0.0.1:17080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", true)
}

// Load reads one TOML file, the first configName file found in configPath
// (if set), then ".", then /etc/hootenanny, and lets HOOTENANNY_-prefixed
// environment variables override it. Only that first file is read; files
// in the later search paths are not merged in. Mirrors the teacher's
// InitConfig, but for TOML files instead of dotenv.
func Load(configName, configPath string) (*AppConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("."))
	v.SetConfigType("toml")
	v.SetConfigName(configName)
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/hootenanny")

	v.SetEnvPrefix("HOOTENANNY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config %q: %w", configName, err)
		}
	}

	var cfg AppConfig
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = decodeHook
	})); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var b strings.Builder
			b.WriteString("invalid configuration:\n")
			for _, fe := range verrs {
				fmt.Fprintf(&b, "  - %s failed %q\n", fe.Namespace(), fe.Tag())
			}
			b.WriteString("expected a TOML document shaped like:\n")
			b.WriteString("[paths]\nsocket_dir = \"/var/run/hootenanny\"\n\n[broker]\nservice = \"hootenanny\"\ncontrol_token = \"...\"\n")
			return fmt.Errorf("%s", b.String())
		}
		return fmt.Errorf("validating configuration: %w", err)
	}
	return nil
}
