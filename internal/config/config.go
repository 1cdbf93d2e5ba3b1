package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	certFile = "fullchain.pem"
	keyFile  = "privkey.pem"
)

type Config struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=debug release test"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret" validate:"required"`
	HTTP       HTTPConfig    `mapstructure:"http"`
	HTTPS      HTTPSConfig   `mapstructure:"https"`
	Relay      RelayConfig   `mapstructure:"relay"`
	TCP        TCPConfig     `mapstructure:"tcp"`
	Logging    LoggingConfig `mapstructure:"logging"`
}

type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

type HTTPSConfig struct {
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
	CertDir string `mapstructure:"cert_dir"`
	Force   bool   `mapstructure:"force"`
}

// RelayConfig tunes the WebSocket endpoint.
type RelayConfig struct {
	Path       string        `mapstructure:"path" validate:"startswith=/,ne=/"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0,ltfield=PongWait"`
	PongWait   time.Duration `mapstructure:"pong_wait" validate:"gt=0"`
	WriteWait  time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	SendBuffer int           `mapstructure:"send_buffer" validate:"gt=0"`
}

// TCPConfig tunes the newline-delimited stream listener.
type TCPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	MaxLine      int           `mapstructure:"max_line" validate:"gte=1024"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// CertFiles returns the TLS certificate and key paths when both exist.
func (c HTTPSConfig) CertFiles() (cert, key string, ok bool) {
	if c.CertDir == "" {
		return "", "", false
	}
	cert = filepath.Join(c.CertDir, certFile)
	key = filepath.Join(c.CertDir, keyFile)
	if _, err := os.Stat(cert); err != nil {
		return "", "", false
	}
	if _, err := os.Stat(key); err != nil {
		return "", "", false
	}
	return cert, key, true
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "mprelay-dev-secret")

	v.SetDefault("http.host", "")
	v.SetDefault("http.port", 8080)
	v.SetDefault("https.port", 8443)
	v.SetDefault("https.cert_dir", "")
	v.SetDefault("https.force", false)

	v.SetDefault("relay.path", "/net")
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.pong_wait", "60s")
	v.SetDefault("relay.write_wait", "5s")
	v.SetDefault("relay.send_buffer", 32)

	v.SetDefault("tcp.enabled", true)
	v.SetDefault("tcp.host", "")
	v.SetDefault("tcp.port", 9001)
	v.SetDefault("tcp.max_line", 65536)
	v.SetDefault("tcp.write_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// bindEnv maps the deployment variables that predate the RELAY_ prefix.
func bindEnv(v *viper.Viper) error {
	bindings := [][]string{
		{"http.port", "RELAY_HTTP_PORT", "HTTP_PORT"},
		{"https.port", "RELAY_HTTPS_PORT", "HTTPS_PORT"},
		{"https.cert_dir", "RELAY_HTTPS_CERT_DIR", "HTTPS_CERT"},
		{"https.force", "RELAY_HTTPS_FORCE", "FORCE_HTTPS"},
		{"tcp.port", "RELAY_TCP_PORT", "TCP_PORT"},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("binding %s: %w", b[0], err)
		}
	}
	return nil
}

// Load reads config/config.<CONFIG_ENV>.yaml if present, then applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return LoadFromViper(v)
}

// LoadFromViper finishes loading from an already populated viper instance.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("http_port", cfg.HTTP.Port).
		Bool("tcp", cfg.TCP.Enabled).
		Int("tcp_port", cfg.TCP.Port).
		Str("relay_path", cfg.Relay.Path).
		Str("static", cfg.StaticPath).
		Msg("config ready")
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %w", err)
}
