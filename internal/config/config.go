package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"strangercall/native/internal/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STRANGERCALL_SIGNALING_URL.
const EnvPrefix = "STRANGERCALL"

// Config holds the application configuration.
type Config struct {
	SignalingURL string             `mapstructure:"signaling_url"`
	RoomsURL     string             `mapstructure:"rooms_url"`
	ICEServers   []domain.ICEServer `mapstructure:"ice_servers"`

	TURNURL        string `mapstructure:"turn_url"`
	TURNUsername   string `mapstructure:"turn_username"`
	TURNCredential string `mapstructure:"turn_credential"`
	ForceRelay     bool   `mapstructure:"force_relay"`

	IncludeLoopback bool `mapstructure:"include_loopback"`

	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	SignalingRetries   int           `mapstructure:"signaling_retries"`

	AllowLocalRooms      bool `mapstructure:"allow_local_rooms"`
	PlaceholderMedia     bool `mapstructure:"placeholder_media"`
	RequireSecureContext bool `mapstructure:"require_secure_context"`

	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	RelayAddr string `mapstructure:"relay_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signaling_url", "ws://localhost:8089/ws")
	v.SetDefault("rooms_url", "http://localhost:8089")
	v.SetDefault("ice_servers", []map[string]any{})
	v.SetDefault("turn_url", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("include_loopback", false)
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("signaling_retries", 2)
	v.SetDefault("allow_local_rooms", true)
	v.SetDefault("placeholder_media", true)
	v.SetDefault("require_secure_context", false)
	v.SetDefault("video_file", "")
	v.SetDefault("audio_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("relay_addr", ":8089")
}

// Load reads configuration from a .env file (if present), a YAML config
// file and STRANGERCALL_* environment variables. Environment variables take
// precedence over the file. An empty path searches ./strangercall.yaml and
// ./config/strangercall.yaml and tolerates their absence.
func Load(path string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("strangercall")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if len(c.ICEServers) == 0 {
		c.ICEServers = append([]domain.ICEServer(nil), domain.DefaultICEServers...)
	}
	if c.TURNURL != "" {
		c.ICEServers = append(c.ICEServers, domain.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		})
	}
}

// Validate checks fields that would otherwise fail deep inside a call.
func (c *Config) Validate() error {
	u, err := url.Parse(c.SignalingURL)
	if err != nil {
		return fmt.Errorf("signaling_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signaling_url must use ws or wss, got %q", u.Scheme)
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation_timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if c.SignalingRetries < 0 {
		return fmt.Errorf("signaling_retries must not be negative")
	}
	if c.ForceRelay && !hasTURN(c.ICEServers) {
		return fmt.Errorf("force_relay requires a turn: or turns: server")
	}
	return nil
}

// SecureSignaling reports whether the signaling endpoint is a secure
// context: wss, or a loopback host.
func (c *Config) SecureSignaling() bool {
	u, err := url.Parse(c.SignalingURL)
	if err != nil {
		return false
	}
	if u.Scheme == "wss" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hasTURN(servers []domain.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}
