package quorumlock

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const DefaultEnvPrefix = "QUORUMLOCK"

// Backend names accepted in Config.Backend.
const (
	BackendRedis    = "redis"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendMemcache = "memcache"
	BackendEtcd     = "etcd"
	BackendMemory   = "memory"
)

type NodeConfig struct {
	Name     string        `mapstructure:"name"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the file/env representation of a Manager.
type Config struct {
	Backend          string        `mapstructure:"backend"`
	Nodes            []NodeConfig  `mapstructure:"nodes"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	ClockDriftFactor float64       `mapstructure:"clock_drift_factor"`
	FanOut           int           `mapstructure:"fan_out"`
	// key prefix for redis and etcd
	Prefix string `mapstructure:"prefix"`
	// lock table for mysql and postgres
	Table string    `mapstructure:"table"`
	Log   LogConfig `mapstructure:"log"`
}

func DefaultConfig() Config {
	return Config{
		Backend:          BackendRedis,
		RetryCount:       DefaultRetryCount,
		RetryDelay:       DefaultRetryDelay,
		ClockDriftFactor: DefaultClockDriftFactor,
		Table:            DefaultTable,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads configuration with precedence env > file > defaults.
// configFile may be empty. Besides the per-key variables (for example
// QUORUMLOCK_RETRY_DELAY), <PREFIX>_ADDRS accepts a comma separated list of
// host:port pairs used when the file defines no nodes.
func LoadConfig(configFile, envPrefix string) (*Config, error) {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("retry_count", d.RetryCount)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("clock_drift_factor", d.ClockDriftFactor)
	v.SetDefault("fan_out", d.FanOut)
	v.SetDefault("prefix", d.Prefix)
	v.SetDefault("table", d.Table)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		"backend", "retry_count", "retry_delay", "clock_drift_factor", "fan_out",
		"prefix", "table", "log.level", "log.format", "addrs",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if addrs := strings.TrimSpace(v.GetString("addrs")); addrs != "" && len(cfg.Nodes) == 0 {
		nodes, err := parseAddrs(addrs)
		if err != nil {
			return nil, err
		}
		cfg.Nodes = nodes
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func parseAddrs(s string) ([]NodeConfig, error) {
	var nodes []NodeConfig
	for _, addr := range strings.Split(s, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid node address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", addr, err)
		}
		nodes = append(nodes, NodeConfig{Host: host, Port: port})
	}
	return nodes, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendRedis, BackendMySQL, BackendPostgres, BackendMemcache, BackendEtcd, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if len(c.Nodes) == 0 {
		errs = append(errs, errors.New("at least one node is required"))
	}
	for i, n := range c.Nodes {
		if strings.TrimSpace(n.Host) == "" {
			errs = append(errs, fmt.Errorf("nodes[%d]: host is required", i))
		}
		if n.Port < 1 || n.Port > 65535 {
			errs = append(errs, fmt.Errorf("nodes[%d]: port %d out of range", i, n.Port))
		}
		if n.Timeout < 0 {
			errs = append(errs, fmt.Errorf("nodes[%d]: timeout must be >= 0", i))
		}
	}
	if c.RetryCount < 1 {
		errs = append(errs, errors.New("retry_count must be >= 1"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must be >= 0"))
	}
	if c.ClockDriftFactor < 0 || c.ClockDriftFactor >= 1 {
		errs = append(errs, errors.New("clock_drift_factor must be in [0, 1)"))
	}
	if c.FanOut < 0 {
		errs = append(errs, errors.New("fan_out must be >= 0"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) ManagerNodes() []Node {
	nodes := make([]Node, len(c.Nodes))
	for i, n := range c.Nodes {
		nodes[i] = Node{
			Name:     n.Name,
			Host:     n.Host,
			Port:     n.Port,
			Timeout:  n.Timeout,
			Username: n.Username,
			Password: n.Password,
			Database: n.Database,
		}
	}
	return nodes
}

func (c *Config) Dialer(log *zap.Logger) (Dialer, error) {
	switch c.Backend {
	case BackendRedis:
		return RedisDialer(c.Prefix), nil
	case BackendMySQL:
		return MySQLDialer(c.Table), nil
	case BackendPostgres:
		return PostgresDialer(c.Table), nil
	case BackendMemcache:
		return MemcacheDialer(), nil
	case BackendEtcd:
		return EtcdDialer(c.Prefix, log), nil
	case BackendMemory:
		return MemoryDialer(), nil
	default:
		return nil, lockError(ErrInvalidArgument, fmt.Sprintf("unknown backend %q", c.Backend))
	}
}

// NewFromConfig builds a Manager from cfg. opts are applied after the
// values taken from cfg.
func NewFromConfig(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, lockError(ErrInvalidArgument, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	dial, err := cfg.Dialer(o.logger)
	if err != nil {
		return nil, err
	}

	all := append([]Option{
		WithRetryCount(cfg.RetryCount),
		WithRetryDelay(cfg.RetryDelay),
		WithClockDriftFactor(cfg.ClockDriftFactor),
		WithFanOut(cfg.FanOut),
	}, opts...)
	return New(cfg.ManagerNodes(), dial, all...)
}
