package mongo

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable read by LoadConfig, so the
// uri comes from MONGO_URI.
const EnvPrefix = "MONGO"

// Config holds everything needed to build a Client.
type Config struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	AppName  string `mapstructure:"app_name"`

	// Direct connects to the single host in URI without discovering the
	// rest of the deployment.
	Direct bool `mapstructure:"direct"`

	MaxPoolSize            uint64        `mapstructure:"max_pool_size"`
	MinPoolSize            uint64        `mapstructure:"min_pool_size"`
	MaxConnIdleTime        time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`

	// Timeout bounds every operation when set (CSOT).
	Timeout time.Duration `mapstructure:"timeout"`
}

var configKeys = []string{
	"uri", "database", "app_name", "direct",
	"max_pool_size", "min_pool_size", "max_conn_idle_time",
	"connect_timeout", "server_selection_timeout", "timeout",
}

// DefaultConfig returns the settings used for keys that are not configured.
func DefaultConfig() Config {
	return Config{
		URI:                    "mongodb://localhost:27017",
		Database:               "test",
		MaxPoolSize:            100,
		MinPoolSize:            0,
		MaxConnIdleTime:        5 * time.Minute,
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 10 * time.Second,
	}
}

// LoadConfig reads a Config from, lowest precedence first: defaults, a
// mongo.{yaml,yml,json,toml} file in the working directory, a .env file and
// MONGO_* environment variables. Pass nil for v to use a fresh viper.
func LoadConfig(v *viper.Viper, logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if v == nil {
		v = viper.New()
	}

	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range configKeys {
		_ = v.BindEnv(k)
	}

	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "mongo." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read %s", file)
		}
		logger.Debug("loaded config file", zap.String("file", file))
		break
	}

	d := DefaultConfig()
	v.SetDefault("uri", d.URI)
	v.SetDefault("database", d.Database)
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("direct", d.Direct)
	v.SetDefault("max_pool_size", d.MaxPoolSize)
	v.SetDefault("min_pool_size", d.MinPoolSize)
	v.SetDefault("max_conn_idle_time", d.MaxConnIdleTime)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("server_selection_timeout", d.ServerSelectionTimeout)
	v.SetDefault("timeout", d.Timeout)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode mongo config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.URI == "" {
		return ErrMissingURI
	}
	if c.MinPoolSize > c.MaxPoolSize && c.MaxPoolSize > 0 {
		return errors.Errorf("min_pool_size %d exceeds max_pool_size %d", c.MinPoolSize, c.MaxPoolSize)
	}
	return nil
}

// Apply copies the configured settings onto opts. Zero values leave the
// driver defaults in place.
func (c Config) Apply(opts *ClientOptions) {
	if c.AppName != "" {
		opts.SetAppName(c.AppName)
	}
	if c.Direct {
		opts.SetDirect(true)
	}
	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}
	if c.MinPoolSize > 0 {
		opts.SetMinPoolSize(c.MinPoolSize)
	}
	if c.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(c.MaxConnIdleTime)
	}
	if c.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.ConnectTimeout)
	}
	if c.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(c.ServerSelectionTimeout)
	}
	if c.Timeout > 0 {
		opts.SetTimeout(c.Timeout)
	}
}

// ClientOptions returns driver options for the configured deployment.
func (c Config) ClientOptions() *ClientOptions {
	opts := options.Client().ApplyURI(c.URI)
	c.Apply(opts)
	return opts
}

// NewClientFromConfig is NewClient with the settings of cfg applied before
// opts.
func NewClientFromConfig(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = append([]Option{WithClientOptions(cfg.Apply)}, opts...)
	return NewClient(cfg.URI, cfg.Database, opts...), nil
}
