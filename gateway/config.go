package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const DefaultConfigPath = "gateway.yaml"

type GatewayOption struct {
	Endpoint        string        `yaml:"endpoint" env:"GATEWAY_ENDPOINT" envDefault:"/plan" validate:"required,startswith=/"`
	ServiceName     string        `yaml:"service_name" env:"GATEWAY_SERVICE_NAME" envDefault:"fusion-gateway" validate:"required"`
	Port            int           `yaml:"port" env:"GATEWAY_PORT" envDefault:"8080" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"GATEWAY_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	Schema        SchemaOption         `yaml:"schema" envPrefix:"GATEWAY_SCHEMA_"`
	Planner       PlannerOption        `yaml:"planner" envPrefix:"GATEWAY_PLANNER_"`
	Log           LogOption            `yaml:"log" envPrefix:"GATEWAY_LOG_"`
	Opentelemetry OpentelemetrySetting `yaml:"opentelemetry"`
}

// SchemaOption locates the composite schema. Exactly one of File and URL is expected.
type SchemaOption struct {
	File  string      `yaml:"file" env:"FILE" validate:"required_without=URL,excluded_with=URL"`
	URL   string      `yaml:"url" env:"URL" validate:"omitempty,url"`
	Watch bool        `yaml:"watch" env:"WATCH"`
	Retry RetryOption `yaml:"retry" envPrefix:"RETRY_"`
	// How long a replaced schema keeps serving requests that already hold it.
	DrainPeriod time.Duration `yaml:"drain_period" env:"DRAIN_PERIOD" envDefault:"30s" validate:"min=0"`
}

type PlannerOption struct {
	CacheSize           int64 `yaml:"cache_size" env:"CACHE_SIZE" envDefault:"1024" validate:"min=1"`
	MaxRequirementDepth int   `yaml:"max_requirement_depth" env:"MAX_REQUIREMENT_DEPTH" envDefault:"8" validate:"min=1"`
}

type LogOption struct {
	Level  string `yaml:"level" env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable   bool    `yaml:"enable" env:"TRACING_ENABLED"`
	Endpoint string  `yaml:"endpoint" env:"TRACING_ENDPOINT" envDefault:"http://localhost:4318" validate:"omitempty,url"`
	Path     string  `yaml:"path" env:"TRACING_PATH" envDefault:"/v1/traces"`
	Sampler  float64 `yaml:"sampler" env:"TRACING_SAMPLER" envDefault:"1" validate:"min=0,max=1"`
}

// LoadOption reads the gateway configuration. Defaults and environment variables are applied
// first, then the yaml file (with ${VAR} expansion) overrides them. An empty path falls back to
// CONFIG_PATH and then to DefaultConfigPath, which may be absent.
func LoadOption(path string) (*GatewayOption, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	var opt GatewayOption
	if err := env.Parse(&opt); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	isDefault := path == ""
	if isDefault {
		path = DefaultConfigPath
	}

	src, err := os.ReadFile(path)
	if err != nil && !(isDefault && os.IsNotExist(err)) {
		return nil, fmt.Errorf("could not read config file %s: %w", path, err)
	}
	if src != nil {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(src))), &opt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gateway config: %w", err)
		}
	}

	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return &opt, nil
}

func (o *GatewayOption) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	return nil
}
