package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BOOTH"

// Config holds the application configuration.
type Config struct {
	Mode              string        `mapstructure:"mode"`
	HTTPAddr          string        `mapstructure:"http_addr"`
	PeerServer        string        `mapstructure:"peer_server"`
	PeerKey           string        `mapstructure:"peer_key"`
	ICEServerURLs     string        `mapstructure:"ice_servers"`
	TURNUsername      string        `mapstructure:"turn_username"`
	TURNCredential    string        `mapstructure:"turn_credential"`
	FramesDir         string        `mapstructure:"frames_dir"`
	RegisterTimeout   time.Duration `mapstructure:"register_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CameraWidth       int           `mapstructure:"camera_width"`
	CameraHeight      int           `mapstructure:"camera_height"`
	LogLevel          string        `mapstructure:"log_level"`
	CORSOrigins       string        `mapstructure:"cors_origins"`
	PLIInterval       time.Duration `mapstructure:"pli_interval"`

	// Resolved once by Load.
	Relay      domain.RelayConfig `mapstructure:"-"`
	ICEServers []domain.ICEServer `mapstructure:"-"`
}

var keys = []string{
	"mode", "http_addr", "peer_server", "peer_key", "ice_servers", "turn_username",
	"turn_credential", "frames_dir", "register_timeout", "dial_timeout",
	"heartbeat_interval", "camera_width", "camera_height", "log_level",
	"cors_origins", "pli_interval",
}

// Load reads configuration from a .env file (if present), environment variables
// and an optional YAML file named by BOOTH_CONFIG.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	v.SetDefault("mode", "release")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("peer_server", "http://localhost:9000/peerjs")
	v.SetDefault("peer_key", domain.DefaultRelayKey)
	v.SetDefault("ice_servers", "stun:stun1.l.google.com:19302")
	v.SetDefault("frames_dir", "./assets/frames")
	v.SetDefault("register_timeout", "10s")
	v.SetDefault("dial_timeout", "30s")
	v.SetDefault("heartbeat_interval", "5s")
	v.SetDefault("camera_width", 640)
	v.SetDefault("camera_height", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("pli_interval", "2s")

	if file := os.Getenv(EnvPrefix + "_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	relay, err := ParseRelay(cfg.PeerServer, cfg.PeerKey)
	if err != nil {
		return nil, err
	}
	cfg.Relay = relay
	cfg.ICEServers = ParseICEServers(cfg.ICEServerURLs, cfg.TURNUsername, cfg.TURNCredential)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RegisterTimeout <= 0 {
		return fmt.Errorf("%s_REGISTER_TIMEOUT must be positive", EnvPrefix)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("%s_DIAL_TIMEOUT must be positive", EnvPrefix)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s_HEARTBEAT_INTERVAL must be positive", EnvPrefix)
	}
	if c.CameraWidth <= 0 || c.CameraHeight <= 0 {
		return fmt.Errorf("camera size %dx%d is invalid", c.CameraWidth, c.CameraHeight)
	}
	if c.PLIInterval < 0 {
		return fmt.Errorf("%s_PLI_INTERVAL must not be negative", EnvPrefix)
	}
	if len(c.ICEServers) == 0 {
		return fmt.Errorf("%s_ICE_SERVERS must list at least one server", EnvPrefix)
	}
	return nil
}

// AllowedOrigins returns the CORS origins, or nil when any origin is allowed.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// ParseRelay resolves a relay URL such as https://relay.example.com/peerjs
// into an explicit RelayConfig.
func ParseRelay(raw, key string) (domain.RelayConfig, error) {
	if raw == "" {
		return domain.RelayConfig{}, fmt.Errorf("%s_PEER_SERVER is required", EnvPrefix)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.RelayConfig{}, fmt.Errorf("parse peer server: %w", err)
	}

	var secure bool
	switch u.Scheme {
	case "https", "wss":
		secure = true
	case "http", "ws":
	default:
		return domain.RelayConfig{}, fmt.Errorf("peer server %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return domain.RelayConfig{}, fmt.Errorf("peer server %q: missing host", raw)
	}

	port := 80
	if secure {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return domain.RelayConfig{}, fmt.Errorf("peer server port: %w", err)
		}
	}

	path := u.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	if key == "" {
		key = domain.DefaultRelayKey
	}

	return domain.RelayConfig{
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
		Secure: secure,
		Key:    key,
	}, nil
}

// ParseICEServers splits a comma separated URL list into ICE servers.
// TURN credentials are attached to turn: and turns: URLs only.
func ParseICEServers(list, username, credential string) []domain.ICEServer {
	var servers []domain.ICEServer
	for _, raw := range strings.Split(list, ",") {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		s := domain.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers
}
