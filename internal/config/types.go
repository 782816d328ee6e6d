// Package config provides configuration loading for trdpd using Viper.
// Configuration is loaded from YAML files with automatic environment
// variable binding.
//
// Environment variables use the TRDPD_ prefix and underscore-separated
// keys:
//   - TRDPD_SESSION_OWN_IP  -> session.own_ip
//   - TRDPD_PD_PORT         -> pd.port
//   - TRDPD_MD_REPLY_TIMEOUT -> md.reply_timeout
//   - TRDPD_API_ENABLED     -> api.enabled
package config

// SessionConfig identifies the TRDP session of this device.
type SessionConfig struct {
	OwnIP          string `yaml:"own_ip"           mapstructure:"own_ip"           json:"own_ip"`
	LeaderIP       string `yaml:"leader_ip"        mapstructure:"leader_ip"        json:"leader_ip,omitempty"`
	ETBTopo        uint32 `yaml:"etb_topo"         mapstructure:"etb_topo"         json:"etb_topo"`
	OpTrnTopo      uint32 `yaml:"op_trn_topo"      mapstructure:"op_trn_topo"      json:"op_trn_topo"`
	TrafficShaping bool   `yaml:"traffic_shaping"  mapstructure:"traffic_shaping"  json:"traffic_shaping"`
}

// PDConfig contains process data defaults.
type PDConfig struct {
	Port       int    `yaml:"port"        mapstructure:"port"        json:"port"`
	QoS        int    `yaml:"qos"         mapstructure:"qos"         json:"qos"`
	TTL        int    `yaml:"ttl"         mapstructure:"ttl"         json:"ttl"`
	Timeout    string `yaml:"timeout"     mapstructure:"timeout"     json:"timeout"`         // e.g. "100ms"
	TOBehavior string `yaml:"to_behavior" mapstructure:"to_behavior" json:"to_behavior"`     // "zero" or "keep"
}

// MDConfig contains message data defaults.
type MDConfig struct {
	UDPPort        int    `yaml:"udp_port"        mapstructure:"udp_port"        json:"udp_port"`
	TCPPort        int    `yaml:"tcp_port"        mapstructure:"tcp_port"        json:"tcp_port"`
	ReplyTimeout   string `yaml:"reply_timeout"   mapstructure:"reply_timeout"   json:"reply_timeout"`
	ConfirmTimeout string `yaml:"confirm_timeout" mapstructure:"confirm_timeout" json:"confirm_timeout"`
	ConnectTimeout string `yaml:"connect_timeout" mapstructure:"connect_timeout" json:"connect_timeout"`
	Retries        int    `yaml:"retries"         mapstructure:"retries"         json:"retries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// APIConfig contains the diagnostics REST API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"    json:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"    json:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key" json:"-"`
}

// StoreConfig locates the telegram directory database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path" json:"path"`
}

// TelegramConfig describes one statically configured publication or
// subscription the daemon arms at startup.
type TelegramConfig struct {
	ComID     uint32 `yaml:"comid"     mapstructure:"comid"     json:"comid"`
	Direction string `yaml:"direction" mapstructure:"direction" json:"direction"` // "publish" or "subscribe"
	DestIP    string `yaml:"dest_ip"   mapstructure:"dest_ip"   json:"dest_ip"`
	SourceIP  string `yaml:"source_ip" mapstructure:"source_ip" json:"source_ip,omitempty"`
	Interval  string `yaml:"interval"  mapstructure:"interval"  json:"interval,omitempty"`
	Payload   string `yaml:"payload"   mapstructure:"payload"   json:"payload,omitempty"` // hex octets
}

// Config is the root configuration.
type Config struct {
	Session   SessionConfig    `yaml:"session"   json:"session"`
	PD        PDConfig         `yaml:"pd"        json:"pd"`
	MD        MDConfig         `yaml:"md"        json:"md"`
	Logging   LoggingConfig    `yaml:"logging"   json:"logging"`
	API       APIConfig        `yaml:"api"       json:"api"`
	Store     StoreConfig      `yaml:"store"     json:"store"`
	Telegrams []TelegramConfig `yaml:"telegrams" json:"telegrams,omitempty"`
}
