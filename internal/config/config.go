package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig is the full daemon configuration.
type AppConfig struct {
	Contract ContractConfig
	Service  ServiceConfig
	Store    StoreConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Dispatch DispatchConfig
	Retry    RetryConfig
	// Callers maps a sender address to its HMAC secret.
	Callers map[string]string
}

// ContractConfig is the instantiation input used when the store is empty.
type ContractConfig struct {
	Owner      string
	JobID      string
	RetryDelay uint64
	Creator    string
	Signers    []string
}

type ServiceConfig struct {
	HTTPPort      int
	HMACClockSkew time.Duration
	DLQPath       string
	LogLevel      string
	LogFormat     string
}

type StoreConfig struct {
	Driver string
	Path   string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Stream   string
	MaxLen   int64
}

type ChainConfig struct {
	RPCURL         string
	PrivateKey     string
	CompassAddress string
}

type DispatchConfig struct {
	Driver string
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
}

const envPrefix = "SWAPRELAY"

var (
	storeDrivers    = []string{"memory", "file", "postgres", "redis"}
	dispatchDrivers = []string{"log", "redis", "eth"}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("contract.retry_delay", 3600)
	v.SetDefault("service.http_port", 3000)
	v.SetDefault("service.hmac_clock_skew", "60s")
	v.SetDefault("service.dlq_path", filepath.Join(os.TempDir(), "swaprelay-dlq"))
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_format", "text")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", filepath.Join(os.TempDir(), "swaprelay-state.json"))
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "swaprelay:")
	v.SetDefault("redis.stream", "swaprelay:jobs")
	v.SetDefault("redis.max_len", 10000)
	v.SetDefault("dispatch.driver", "log")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "5s")
	v.SetDefault("retry.backoff_multiplier", 2)
}

// Load reads an optional config file (SWAPRELAY_CONFIG) and applies SWAPRELAY_* env overrides,
// e.g. SWAPRELAY_STORE_DRIVER=postgres.
func Load() (*AppConfig, error) {
	return LoadFile(os.Getenv(envPrefix + "_CONFIG"))
}

func LoadFile(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{
		Contract: ContractConfig{
			Owner:      normalizeSender(v.GetString("contract.owner")),
			JobID:      v.GetString("contract.job_id"),
			RetryDelay: v.GetUint64("contract.retry_delay"),
			Creator:    v.GetString("contract.creator"),
			Signers:    splitList(v.GetStringSlice("contract.signers")),
		},
		Service: ServiceConfig{
			HTTPPort:      v.GetInt("service.http_port"),
			HMACClockSkew: v.GetDuration("service.hmac_clock_skew"),
			DLQPath:       v.GetString("service.dlq_path"),
			LogLevel:      v.GetString("service.log_level"),
			LogFormat:     v.GetString("service.log_format"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
			Path:   v.GetString("store.path"),
			DSN:    v.GetString("store.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
			Stream:   v.GetString("redis.stream"),
			MaxLen:   v.GetInt64("redis.max_len"),
		},
		Chain: ChainConfig{
			RPCURL:         v.GetString("chain.rpc_url"),
			PrivateKey:     v.GetString("chain.private_key"),
			CompassAddress: v.GetString("chain.compass_address"),
		},
		Dispatch: DispatchConfig{
			Driver: strings.ToLower(v.GetString("dispatch.driver")),
		},
		Retry: RetryConfig{
			MaxAttempts:       v.GetInt("retry.max_attempts"),
			InitialBackoff:    v.GetDuration("retry.initial_backoff"),
			MaxBackoff:        v.GetDuration("retry.max_backoff"),
			BackoffMultiplier: v.GetInt("retry.backoff_multiplier"),
		},
		Callers: v.GetStringMapString("callers"),
	}

	// Env can only carry a single caller; it adds to whatever the file lists.
	if sender, secret := v.GetString("caller.sender"), v.GetString("caller.secret"); sender != "" && secret != "" {
		if cfg.Callers == nil {
			cfg.Callers = map[string]string{}
		}
		cfg.Callers[normalizeSender(sender)] = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if !contains(storeDrivers, c.Store.Driver) {
		return fmt.Errorf("store.driver %q: must be one of %v", c.Store.Driver, storeDrivers)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return errors.New("store.dsn is required for the postgres driver")
	}
	if c.Store.Driver == "file" && c.Store.Path == "" {
		return errors.New("store.path is required for the file driver")
	}
	if !contains(dispatchDrivers, c.Dispatch.Driver) {
		return fmt.Errorf("dispatch.driver %q: must be one of %v", c.Dispatch.Driver, dispatchDrivers)
	}
	if c.Dispatch.Driver == "eth" && (c.Chain.RPCURL == "" || c.Chain.PrivateKey == "" || c.Chain.CompassAddress == "") {
		return errors.New("chain.rpc_url, chain.private_key and chain.compass_address are required for the eth dispatcher")
	}
	if c.Contract.Owner != "" {
		if _, ok := c.Callers[c.Contract.Owner]; !ok {
			return fmt.Errorf("contract.owner %q has no entry in callers", c.Contract.Owner)
		}
	}
	if c.Service.HTTPPort < 0 {
		return fmt.Errorf("service.http_port %d: must not be negative", c.Service.HTTPPort)
	}
	return nil
}

// normalizeSender lower-cases an address the way viper lower-cases the callers map keys.
// Hex and bech32 addresses are case-insensitive.
func normalizeSender(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// splitList accepts both a YAML list and a comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
