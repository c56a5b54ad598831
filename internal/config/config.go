// Package config loads the server and client settings from the environment.
// Command line flags are applied on top by the binaries before Validate.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Server struct {
	Host             string        `env:"MAFIA_HOST,default=127.0.0.1" validate:"required"`
	Port             int           `env:"MAFIA_PORT,default=7777" validate:"min=1,max=65535"`
	MetricsAddr      string        `env:"MAFIA_METRICS_ADDR"`
	HandshakeTimeout time.Duration `env:"MAFIA_HANDSHAKE_TIMEOUT,default=30s" validate:"gt=0"`
	IdleTimeout      time.Duration `env:"MAFIA_IDLE_TIMEOUT,default=0s" validate:"gte=0"`
	WriteTimeout     time.Duration `env:"MAFIA_WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	OutboundQueue    int           `env:"MAFIA_OUTBOUND_QUEUE,default=64" validate:"min=1"`
	MaxLineBytes     int           `env:"MAFIA_MAX_LINE_BYTES,default=4096" validate:"min=64,max=1048576"`
	MaxNameLength    int           `env:"MAFIA_MAX_NAME_LENGTH,default=0" validate:"min=0,max=256"`
	LogLevel         string        `env:"MAFIA_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat        string        `env:"MAFIA_LOG_FORMAT,default=json" validate:"oneof=json text"`
}

type Client struct {
	Host          string `env:"MAFIA_HOST" validate:"required"`
	Port          int    `env:"MAFIA_PORT,default=7777" validate:"min=1,max=65535"`
	MaxFrameBytes int    `env:"MAFIA_MAX_FRAME_BYTES,default=4096" validate:"min=64,max=1048576"`
	LogLevel      string `env:"MAFIA_LOG_LEVEL,default=warn" validate:"oneof=debug info warn error"`
	LogFormat     string `env:"MAFIA_LOG_FORMAT,default=text" validate:"oneof=json text"`
}

// LoadServer reads the server settings. The given dotenv files (".env" when
// none are named) are loaded first if present; real environment wins.
func LoadServer(dotenv ...string) (Server, error) {
	_ = godotenv.Load(dotenv...)
	var cfg Server
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Server{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func LoadClient(dotenv ...string) (Client, error) {
	_ = godotenv.Load(dotenv...)
	var cfg Client
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Client{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func (c Server) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

func (c Server) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Client) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}

func (c Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
