package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config as written on disk. Pointers distinguish unset
// keys from zero values so defaults survive partial files.
type fileConfig struct {
	Log       *fileLog       `toml:"log" yaml:"log"`
	Admin     *fileAdmin     `toml:"admin" yaml:"admin"`
	Transport *fileTransport `toml:"transport" yaml:"transport"`
	Defaults  *filePoll      `toml:"defaults" yaml:"defaults"`
	Bots      []fileBot      `toml:"bots" yaml:"bots"`
}

type fileLog struct {
	Level     *string `toml:"level" yaml:"level"`
	Timestamp *bool   `toml:"timestamp" yaml:"timestamp"`
	NoColor   *bool   `toml:"no_color" yaml:"no_color"`
}

type fileAdmin struct {
	Enabled      *bool    `toml:"enabled" yaml:"enabled"`
	Name         *string  `toml:"name" yaml:"name"`
	Addr         *string  `toml:"addr" yaml:"addr"`
	CorsOrigins  []string `toml:"cors_origins" yaml:"cors_origins"`
	AuthToken    *string  `toml:"auth_token" yaml:"auth_token"`
	AuthTokenEnv *string  `toml:"auth_token_env" yaml:"auth_token_env"`
}

type fileTransport struct {
	ProxyURL            *string `toml:"proxy_url" yaml:"proxy_url"`
	Timeout             *string `toml:"timeout" yaml:"timeout"`
	DisableHTTP2        *bool   `toml:"disable_http2" yaml:"disable_http2"`
	MaxIdleConnsPerHost *int    `toml:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	CAFile              *string `toml:"ca_file" yaml:"ca_file"`
	CertFile            *string `toml:"cert_file" yaml:"cert_file"`
	KeyFile             *string `toml:"key_file" yaml:"key_file"`
}

type fileBackoff struct {
	Initial    *string  `toml:"initial" yaml:"initial"`
	Max        *string  `toml:"max" yaml:"max"`
	Multiplier *float64 `toml:"multiplier" yaml:"multiplier"`
	Jitter     *bool    `toml:"jitter" yaml:"jitter"`
}

type filePoll struct {
	PollInterval       *string      `toml:"poll_interval" yaml:"poll_interval"`
	LongPollTimeout    *string      `toml:"long_poll_timeout" yaml:"long_poll_timeout"`
	Limit              *int         `toml:"limit" yaml:"limit"`
	AllowedUpdates     []string     `toml:"allowed_updates" yaml:"allowed_updates"`
	DropPendingUpdates *bool        `toml:"drop_pending_updates" yaml:"drop_pending_updates"`
	DeliveryQueue      *int         `toml:"delivery_queue" yaml:"delivery_queue"`
	Backoff            *fileBackoff `toml:"backoff" yaml:"backoff"`
}

type fileBot struct {
	Name               string   `toml:"name" yaml:"name"`
	Token              string   `toml:"token" yaml:"token"`
	TokenEnv           string   `toml:"token_env" yaml:"token_env"`
	Endpoint           string   `toml:"endpoint" yaml:"endpoint"`
	InitialOffset      int64    `toml:"initial_offset" yaml:"initial_offset"`
	PollInterval       string   `toml:"poll_interval" yaml:"poll_interval"`
	LongPollTimeout    string   `toml:"long_poll_timeout" yaml:"long_poll_timeout"`
	AllowedUpdates     []string `toml:"allowed_updates" yaml:"allowed_updates"`
	DropPendingUpdates *bool    `toml:"drop_pending_updates" yaml:"drop_pending_updates"`
}

func decodeFile(path string) (fileConfig, error) {
	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return fileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return fileConfig{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fileConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return fileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return fileConfig{}, fmt.Errorf("config load failed (%s): unsupported extension", path)
	}
	return raw, nil
}

func (raw fileConfig) apply(cfg *Config) error {
	if l := raw.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setBool(&cfg.Log.Timestamp, l.Timestamp)
		setBool(&cfg.Log.NoColor, l.NoColor)
	}
	if a := raw.Admin; a != nil {
		setBool(&cfg.Admin.Enabled, a.Enabled)
		setString(&cfg.Admin.Name, a.Name)
		setString(&cfg.Admin.Addr, a.Addr)
		setString(&cfg.Admin.AuthToken, a.AuthToken)
		setString(&cfg.Admin.AuthTokenEnv, a.AuthTokenEnv)
		if a.CorsOrigins != nil {
			cfg.Admin.CorsOrigins = normalizeList(a.CorsOrigins)
		}
	}
	if t := raw.Transport; t != nil {
		setString(&cfg.Transport.ProxyURL, t.ProxyURL)
		if err := setDuration(&cfg.Transport.Timeout, t.Timeout, "transport.timeout"); err != nil {
			return err
		}
		setBool(&cfg.Transport.DisableHTTP2, t.DisableHTTP2)
		if t.MaxIdleConnsPerHost != nil {
			cfg.Transport.MaxIdleConnsPerHost = *t.MaxIdleConnsPerHost
		}
		setString(&cfg.Transport.CAFile, t.CAFile)
		setString(&cfg.Transport.CertFile, t.CertFile)
		setString(&cfg.Transport.KeyFile, t.KeyFile)
	}
	if p := raw.Defaults; p != nil {
		if err := p.apply(&cfg.Defaults); err != nil {
			return err
		}
	}
	for i, b := range raw.Bots {
		bot := BotConfig{
			Name:               strings.TrimSpace(b.Name),
			Token:              strings.TrimSpace(b.Token),
			TokenEnv:           strings.TrimSpace(b.TokenEnv),
			Endpoint:           strings.TrimSpace(b.Endpoint),
			InitialOffset:      b.InitialOffset,
			AllowedUpdates:     normalizeList(b.AllowedUpdates),
			DropPendingUpdates: b.DropPendingUpdates,
		}
		if b.PollInterval != "" {
			if err := setDuration(&bot.PollInterval, &b.PollInterval, fmt.Sprintf("bots[%d].poll_interval", i)); err != nil {
				return err
			}
		}
		if b.LongPollTimeout != "" {
			if err := setDuration(&bot.LongPollTimeout, &b.LongPollTimeout, fmt.Sprintf("bots[%d].long_poll_timeout", i)); err != nil {
				return err
			}
		}
		cfg.Bots = append(cfg.Bots, bot)
	}
	return nil
}

func (p *filePoll) apply(out *PollConfig) error {
	if err := setDuration(&out.PollInterval, p.PollInterval, "defaults.poll_interval"); err != nil {
		return err
	}
	if err := setDuration(&out.LongPollTimeout, p.LongPollTimeout, "defaults.long_poll_timeout"); err != nil {
		return err
	}
	if p.Limit != nil {
		out.Limit = *p.Limit
	}
	if p.AllowedUpdates != nil {
		out.AllowedUpdates = normalizeList(p.AllowedUpdates)
	}
	setBool(&out.DropPendingUpdates, p.DropPendingUpdates)
	if p.DeliveryQueue != nil {
		out.DeliveryQueue = *p.DeliveryQueue
	}
	if b := p.Backoff; b != nil {
		if err := setDuration(&out.Backoff.Initial, b.Initial, "defaults.backoff.initial"); err != nil {
			return err
		}
		if err := setDuration(&out.Backoff.Max, b.Max, "defaults.backoff.max"); err != nil {
			return err
		}
		if b.Multiplier != nil {
			out.Backoff.Multiplier = *b.Multiplier
		}
		setBool(&out.Backoff.Jitter, b.Jitter)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
