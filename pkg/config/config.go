package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/transport"
)

// Device configures one rig or rotator session. The line settings are
// inlined so a section reads like a hamlib port description.
type Device struct {
	Model int              `yaml:"model"`
	Port  transport.Config `yaml:",inline"`

	TimeoutMS        int    `yaml:"timeout_ms"`
	Retry            int    `yaml:"retry"`
	CacheTimeoutMS   *int   `yaml:"cache_timeout_ms"` // unset: 500, 0: off, -1: forever
	WriteDelayMS     int    `yaml:"write_delay_ms"`
	PostWriteDelayMS int    `yaml:"post_write_delay_ms"`
	PTTType          string `yaml:"ptt_type"`
}

// Config represents the rigd configuration
type Config struct {
	Rig     Device `yaml:"rig"`
	Rotator Device `yaml:"rotator"`

	Server struct {
		UnixSocket string `yaml:"unix_socket"`
		TCPAddress string `yaml:"tcp_address"`
	} `yaml:"server"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	Auth struct {
		Enabled         bool   `yaml:"enabled"`
		Secret          string `yaml:"secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		RestoreState bool   `yaml:"restore_state"`
	} `yaml:"storage"`

	Trace struct {
		File string `yaml:"file"`
	} `yaml:"trace"`

	MQTT struct {
		Broker      string `yaml:"broker"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
	} `yaml:"mqtt"`

	InfluxDB struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		Org    string `yaml:"org"`
		Bucket string `yaml:"bucket"`
	} `yaml:"influxdb"`

	Discovery struct {
		Enabled  bool   `yaml:"enabled"`
		Instance string `yaml:"instance"`
	} `yaml:"discovery"`

	Monitor struct {
		PollIntervalMS int `yaml:"poll_interval_ms"`
	} `yaml:"monitor"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// Default returns the configuration used when no file is given: the
// dummy transceiver and every optional integration off.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Rig.Model == 0 {
		c.Rig.Model = 1
	}
	if c.Server.UnixSocket == "" {
		c.Server.UnixSocket = "/tmp/rigd.sock"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 60
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "rigd"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "rigd"
	}
	if c.Discovery.Instance == "" {
		c.Discovery.Instance = "rigd"
	}
	if c.Monitor.PollIntervalMS == 0 {
		c.Monitor.PollIntervalMS = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Rig.validate("rig", rig.TypeTransceiver); err != nil {
		return err
	}
	if c.Rotator.Model != 0 {
		if err := c.Rotator.validate("rotator", rig.TypeRotator); err != nil {
			return err
		}
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required when auth is enabled")
	}
	if c.InfluxDB.URL != "" && c.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb bucket is required")
	}
	if c.Monitor.PollIntervalMS < 0 {
		return fmt.Errorf("monitor poll interval must not be negative")
	}
	return nil
}

func (d Device) validate(section string, want rig.Type) error {
	caps, ok := rig.Lookup(d.Model)
	if !ok {
		return fmt.Errorf("%s: unknown model %d", section, d.Model)
	}
	if caps.Type != want {
		return fmt.Errorf("%s: model %d is a %s", section, d.Model, caps.Type)
	}
	switch d.Port.Parity {
	case "", transport.ParityNone, transport.ParityOdd, transport.ParityEven, transport.ParityMark, transport.ParitySpace:
	default:
		return fmt.Errorf("%s: bad parity %q", section, d.Port.Parity)
	}
	if d.TimeoutMS < 0 || d.Retry < 0 || d.WriteDelayMS < 0 || d.PostWriteDelayMS < 0 {
		return fmt.Errorf("%s: timeouts, delays and retry must not be negative", section)
	}
	if d.CacheTimeoutMS != nil && *d.CacheTimeoutMS < -1 {
		return fmt.Errorf("%s: cache timeout must be -1 or more", section)
	}
	if _, err := rig.ParsePTTType(d.PTTType); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	return nil
}

// Session converts the section into session settings.
func (d Device) Session() (rig.Config, error) {
	ptt, err := rig.ParsePTTType(d.PTTType)
	if err != nil {
		return rig.Config{}, err
	}
	cache := rig.DefaultCacheTimeout
	if d.CacheTimeoutMS != nil {
		switch ms := *d.CacheTimeoutMS; {
		case ms < 0:
			cache = rig.CacheForever
		default:
			cache = time.Duration(ms) * time.Millisecond
		}
	}
	return rig.Config{
		Port:           d.Port,
		Timeout:        time.Duration(d.TimeoutMS) * time.Millisecond,
		Retry:          d.Retry,
		CacheTimeout:   cache,
		WriteDelay:     time.Duration(d.WriteDelayMS) * time.Millisecond,
		PostWriteDelay: time.Duration(d.PostWriteDelayMS) * time.Millisecond,
		PTTType:        ptt,
	}, nil
}

// PollInterval is the monitor period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMS) * time.Millisecond
}
