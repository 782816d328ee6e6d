package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and
// the optional config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// TRDPD_PD_PORT -> pd.port
	v.SetEnvPrefix("TRDPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Session defaults
	v.SetDefault("session.own_ip", "")
	v.SetDefault("session.leader_ip", "")
	v.SetDefault("session.etb_topo", 0)
	v.SetDefault("session.op_trn_topo", 0)
	v.SetDefault("session.traffic_shaping", false)

	// PD defaults
	v.SetDefault("pd.port", 17224)
	v.SetDefault("pd.qos", 5)
	v.SetDefault("pd.ttl", 64)
	v.SetDefault("pd.timeout", "100ms")
	v.SetDefault("pd.to_behavior", "zero")

	// MD defaults
	v.SetDefault("md.udp_port", 17225)
	v.SetDefault("md.tcp_port", 17225)
	v.SetDefault("md.reply_timeout", "5s")
	v.SetDefault("md.confirm_timeout", "1s")
	v.SetDefault("md.connect_timeout", "60s")
	v.SetDefault("md.retries", 2)

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Diagnostics API defaults: disabled and bound to localhost.
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")

	// Telegram directory store
	v.SetDefault("store.path", "trdpd.db")
}

// Load reads the configuration from the optional file and environment,
// applies defaults and validates it.
func Load(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	loadSessionConfig(v, cfg)
	loadPDConfig(v, cfg)
	loadMDConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAPIConfig(v, cfg)
	loadStoreConfig(v, cfg)
	loadTelegrams(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSessionConfig(v *viper.Viper, cfg *Config) {
	cfg.Session.OwnIP = v.GetString("session.own_ip")
	cfg.Session.LeaderIP = v.GetString("session.leader_ip")
	cfg.Session.ETBTopo = v.GetUint32("session.etb_topo")
	cfg.Session.OpTrnTopo = v.GetUint32("session.op_trn_topo")
	cfg.Session.TrafficShaping = v.GetBool("session.traffic_shaping")
}

func loadPDConfig(v *viper.Viper, cfg *Config) {
	cfg.PD.Port = v.GetInt("pd.port")
	cfg.PD.QoS = v.GetInt("pd.qos")
	cfg.PD.TTL = v.GetInt("pd.ttl")
	cfg.PD.Timeout = v.GetString("pd.timeout")
	cfg.PD.TOBehavior = strings.ToLower(v.GetString("pd.to_behavior"))
}

func loadMDConfig(v *viper.Viper, cfg *Config) {
	cfg.MD.UDPPort = v.GetInt("md.udp_port")
	cfg.MD.TCPPort = v.GetInt("md.tcp_port")
	cfg.MD.ReplyTimeout = v.GetString("md.reply_timeout")
	cfg.MD.ConfirmTimeout = v.GetString("md.confirm_timeout")
	cfg.MD.ConnectTimeout = v.GetString("md.connect_timeout")
	cfg.MD.Retries = v.GetInt("md.retries")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

func loadStoreConfig(v *viper.Viper, cfg *Config) {
	cfg.Store.Path = v.GetString("store.path")
}

func loadTelegrams(v *viper.Viper, cfg *Config) {
	if err := v.UnmarshalKey("telegrams", &cfg.Telegrams); err != nil {
		cfg.Telegrams = nil
	}
}

// Validate checks ports, durations and telegram entries.
func (c *Config) Validate() error {
	if err := checkPort("pd.port", c.PD.Port); err != nil {
		return err
	}
	if err := checkPort("md.udp_port", c.MD.UDPPort); err != nil {
		return err
	}
	if err := checkPort("md.tcp_port", c.MD.TCPPort); err != nil {
		return err
	}
	if c.API.Enabled {
		if err := checkPort("api.port", c.API.Port); err != nil {
			return err
		}
	}
	for _, d := range []struct{ key, val string }{
		{"pd.timeout", c.PD.Timeout},
		{"md.reply_timeout", c.MD.ReplyTimeout},
		{"md.confirm_timeout", c.MD.ConfirmTimeout},
		{"md.connect_timeout", c.MD.ConnectTimeout},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", d.key, d.val)
		}
	}
	switch c.PD.TOBehavior {
	case "", "zero", "keep":
	default:
		return fmt.Errorf("invalid pd.to_behavior %q (want \"zero\" or \"keep\")", c.PD.TOBehavior)
	}
	for i, tg := range c.Telegrams {
		if tg.ComID == 0 {
			return fmt.Errorf("telegrams[%d]: comid must not be zero", i)
		}
		switch tg.Direction {
		case "publish", "subscribe":
		default:
			return fmt.Errorf("telegrams[%d]: direction %q (want \"publish\" or \"subscribe\")", i, tg.Direction)
		}
		if tg.Direction == "publish" && tg.DestIP == "" {
			return fmt.Errorf("telegrams[%d]: publish needs dest_ip", i)
		}
		if tg.Interval != "" {
			if _, err := time.ParseDuration(tg.Interval); err != nil {
				return fmt.Errorf("telegrams[%d]: invalid interval %q", i, tg.Interval)
			}
		}
	}
	return nil
}

// Duration parses a duration string, falling back to def on empty or
// invalid input.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func checkPort(key string, p int) error {
	if p <= 0 || p > 65535 {
		return fmt.Errorf("invalid port for %s: %d", key, p)
	}
	return nil
}
