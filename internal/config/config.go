package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/logging"
	"github.com/danmuck/longpoll/internal/longpoll"
)

type Config struct {
	Log       LogConfig
	Admin     AdminConfig
	Transport TransportConfig
	Defaults  PollConfig
	Bots      []BotConfig
}

type LogConfig struct {
	Level     string
	Timestamp bool
	NoColor   bool
}

type AdminConfig struct {
	Enabled     bool
	Name        string
	Addr        string
	CorsOrigins []string
	// AuthToken guards session routes when set. AuthTokenEnv names an
	// environment variable to read it from.
	AuthToken    string
	AuthTokenEnv string
}

type TransportConfig struct {
	ProxyURL            string
	Timeout             time.Duration
	DisableHTTP2        bool
	MaxIdleConnsPerHost int
	CAFile              string
	CertFile            string
	KeyFile             string
}

type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

type PollConfig struct {
	PollInterval       time.Duration
	LongPollTimeout    time.Duration
	Limit              int
	AllowedUpdates     []string
	DropPendingUpdates bool
	DeliveryQueue      int
	Backoff            BackoffConfig
}

// BotConfig is one bot to register. Zero-valued overrides inherit Defaults.
type BotConfig struct {
	Name          string
	Token         string
	TokenEnv      string
	Endpoint      string
	InitialOffset int64

	PollInterval       time.Duration
	LongPollTimeout    time.Duration
	AllowedUpdates     []string
	DropPendingUpdates *bool
}

func Default() Config {
	poll := longpoll.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Timestamp: true},
		Admin: AdminConfig{
			Enabled: true,
			Name:    "longpollctl",
			Addr:    ":9180",
		},
		Transport: TransportConfig{
			MaxIdleConnsPerHost: botapi.DefaultHTTPTransportConfig().MaxIdleConnsPerHost,
		},
		Defaults: PollConfig{
			PollInterval:    poll.PollInterval,
			LongPollTimeout: poll.LongPollTimeout,
			Limit:           poll.Limit,
			DeliveryQueue:   poll.DeliveryQueue,
			Backoff: BackoffConfig{
				Initial:    poll.Backoff.InitialDelay,
				Max:        poll.Backoff.MaxDelay,
				Multiplier: poll.Backoff.Multiplier,
				Jitter:     poll.Backoff.Jitter,
			},
		},
	}
}

// Load reads a .toml, .yaml or .yml file over Default, resolves token_env
// references and validates the result.
func Load(path string) (Config, error) {
	raw, err := decodeFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.resolveTokens(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolveTokens(getenv func(string) string) error {
	if c.Admin.AuthToken == "" && c.Admin.AuthTokenEnv != "" {
		c.Admin.AuthToken = strings.TrimSpace(getenv(c.Admin.AuthTokenEnv))
		if c.Admin.AuthToken == "" {
			return fmt.Errorf("admin: env %s is empty", c.Admin.AuthTokenEnv)
		}
	}
	for i := range c.Bots {
		bot := &c.Bots[i]
		if bot.Token != "" || bot.TokenEnv == "" {
			continue
		}
		bot.Token = strings.TrimSpace(getenv(bot.TokenEnv))
		if bot.Token == "" {
			return fmt.Errorf("bot[%d] %q: env %s is empty", i, bot.Name, bot.TokenEnv)
		}
	}
	return nil
}

func Validate(cfg Config) error {
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("log level %q invalid", cfg.Log.Level)
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("admin config missing addr")
	}
	if cfg.Defaults.Limit < 0 || cfg.Defaults.Limit > botapi.MaxUpdatesLimit {
		return fmt.Errorf("defaults.limit %d outside 0..%d", cfg.Defaults.Limit, botapi.MaxUpdatesLimit)
	}
	if cfg.Defaults.LongPollTimeout < 0 {
		return fmt.Errorf("defaults.long_poll_timeout must not be negative")
	}
	if cfg.Defaults.Backoff.Multiplier != 0 && cfg.Defaults.Backoff.Multiplier < 1 {
		return fmt.Errorf("defaults.backoff.multiplier %.2f must be >= 1", cfg.Defaults.Backoff.Multiplier)
	}
	if len(cfg.Bots) == 0 {
		return fmt.Errorf("config has no bots")
	}

	names := make(map[string]int, len(cfg.Bots))
	tokens := make(map[string]int, len(cfg.Bots))
	for i, bot := range cfg.Bots {
		if err := ValidateBot(bot); err != nil {
			return fmt.Errorf("bot[%d] invalid: %w", i, err)
		}
		if j, ok := names[bot.Name]; ok {
			return fmt.Errorf("bot[%d] name %q duplicates bot[%d]", i, bot.Name, j)
		}
		names[bot.Name] = i
		if j, ok := tokens[bot.Token]; ok {
			return fmt.Errorf("bot[%d] token duplicates bot[%d]", i, j)
		}
		tokens[bot.Token] = i
	}
	return nil
}

func ValidateBot(bot BotConfig) error {
	if strings.TrimSpace(bot.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(bot.Token) == "" {
		return fmt.Errorf("token or token_env is required")
	}
	if _, err := botapi.ParseEndpoint(bot.Endpoint); err != nil {
		return err
	}
	if bot.PollInterval < 0 || bot.LongPollTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// SessionDefaults is the poll config every bot starts from.
func (c Config) SessionDefaults() longpoll.Config {
	d := c.Defaults
	cfg := longpoll.DefaultConfig()
	cfg.PollInterval = d.PollInterval
	cfg.LongPollTimeout = d.LongPollTimeout
	cfg.Limit = d.Limit
	cfg.AllowedUpdates = append([]string(nil), d.AllowedUpdates...)
	cfg.DropPendingUpdates = d.DropPendingUpdates
	cfg.DeliveryQueue = d.DeliveryQueue
	cfg.Backoff = longpoll.BackoffConfig{
		InitialDelay: d.Backoff.Initial,
		MaxDelay:     d.Backoff.Max,
		Multiplier:   d.Backoff.Multiplier,
		Jitter:       d.Backoff.Jitter,
	}
	return cfg.WithDefaults()
}

// SessionOptions turns the bot's overrides into registration options.
func (b BotConfig) SessionOptions() ([]longpoll.SessionOption, error) {
	endpoint, err := botapi.ParseEndpoint(b.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("bot %q: %w", b.Name, err)
	}
	opts := []longpoll.SessionOption{longpoll.WithEndpoint(endpoint)}
	if b.InitialOffset > 0 {
		opts = append(opts, longpoll.WithInitialOffset(b.InitialOffset))
	}
	if b.PollInterval > 0 {
		opts = append(opts, longpoll.WithPollInterval(b.PollInterval))
	}
	if b.LongPollTimeout > 0 {
		opts = append(opts, longpoll.WithLongPollTimeout(b.LongPollTimeout))
	}
	if len(b.AllowedUpdates) > 0 {
		opts = append(opts, longpoll.WithAllowedUpdates(b.AllowedUpdates...))
	}
	if b.DropPendingUpdates != nil {
		opts = append(opts, longpoll.WithDropPendingUpdates(*b.DropPendingUpdates))
	}
	return opts, nil
}

// HTTPTransport sizes the client timeout to outlast the longest long poll.
func (c Config) HTTPTransport() botapi.HTTPTransportConfig {
	longest := c.Defaults.LongPollTimeout
	for _, bot := range c.Bots {
		if bot.LongPollTimeout > longest {
			longest = bot.LongPollTimeout
		}
	}
	cfg := botapi.HTTPTransportConfig{
		Timeout:             c.Transport.Timeout,
		ProxyURL:            c.Transport.ProxyURL,
		MaxIdleConnsPerHost: c.Transport.MaxIdleConnsPerHost,
		DisableHTTP2:        c.Transport.DisableHTTP2,
		CAFile:              c.Transport.CAFile,
		CertFile:            c.Transport.CertFile,
		KeyFile:             c.Transport.KeyFile,
	}
	return cfg.ForLongPoll(longest).WithDefaults()
}

func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(c.Log.Level); ok {
		cfg.Level = lvl
	}
	cfg.Timestamp = c.Log.Timestamp
	cfg.NoColor = c.Log.NoColor
	logging.ApplyEnvOverrides(&cfg)
	return cfg
}
