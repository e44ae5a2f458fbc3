package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	URL string `env:"WORLDQL_URL,default=ws://localhost:8080"`

	// Transport overrides the scheme of URL, either "websocket" or "tcp"
	Transport string `env:"WORLDQL_TRANSPORT"`

	ServerAuth string `env:"WORLDQL_SERVER_AUTH"`

	RequestTimeout    time.Duration `env:"WORLDQL_REQUEST_TIMEOUT,default=10s"`
	HeartbeatInterval time.Duration `env:"WORLDQL_HEARTBEAT_INTERVAL,default=30s"`

	// WriteTimeout closes the connection when a frame cannot be written in time
	WriteTimeout time.Duration `env:"WORLDQL_WRITE_TIMEOUT,default=10s"`

	LogLevel  string `env:"WORLDQL_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"WORLDQL_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return ProcessConfig(ctx, envconfig.OsLookuper())
}

// ProcessConfig reads a Config from lookuper without touching .env files.
func ProcessConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}
