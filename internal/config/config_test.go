package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOMLAppliesOverridesOverDefaults(t *testing.T) {
	testlog.Start(t)

	path := writeFile(t, "bots.toml", `
[admin]
addr = ":9999"

[defaults]
poll_interval = "10ms"
allowed_updates = ["message", " "]

[defaults.backoff]
initial = "1s"

[[bots]]
name = "alpha"
token = "1:aaa"
endpoint = "http://localhost:8081"
initial_offset = 40
poll_interval = "5ms"
drop_pending_updates = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	def := Default()
	if cfg.Admin.Addr != ":9999" || cfg.Admin.Name != def.Admin.Name || !cfg.Admin.Enabled {
		t.Fatalf("unexpected admin config: %+v", cfg.Admin)
	}
	if cfg.Defaults.PollInterval != 10*time.Millisecond || cfg.Defaults.LongPollTimeout != def.Defaults.LongPollTimeout {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Defaults)
	}
	if cfg.Defaults.Backoff.Initial != time.Second || cfg.Defaults.Backoff.Max != def.Defaults.Backoff.Max {
		t.Fatalf("unexpected backoff: %+v", cfg.Defaults.Backoff)
	}
	if len(cfg.Defaults.AllowedUpdates) != 1 || cfg.Defaults.AllowedUpdates[0] != "message" {
		t.Fatalf("allowed updates not normalized: %v", cfg.Defaults.AllowedUpdates)
	}
	if len(cfg.Bots) != 1 {
		t.Fatalf("bots=%d want 1", len(cfg.Bots))
	}
	bot := cfg.Bots[0]
	if bot.InitialOffset != 40 || bot.PollInterval != 5*time.Millisecond || bot.DropPendingUpdates == nil || !*bot.DropPendingUpdates {
		t.Fatalf("unexpected bot: %+v", bot)
	}

	opts, err := bot.SessionOptions()
	if err != nil {
		t.Fatalf("session options: %v", err)
	}
	if len(opts) != 4 {
		t.Fatalf("options=%d want 4", len(opts))
	}
	session := cfg.SessionDefaults()
	if session.PollInterval != 10*time.Millisecond || session.Backoff.InitialDelay != time.Second {
		t.Fatalf("unexpected session defaults: %+v", session)
	}
}

func TestLoadYAMLResolvesTokenEnv(t *testing.T) {
	testlog.Start(t)
	t.Setenv("LONGPOLL_TEST_TOKEN", " 2:bbb ")
	t.Setenv("LONGPOLL_TEST_ADMIN", "s3cret")

	path := writeFile(t, "bots.yaml", `
log:
  level: debug
admin:
  auth_token_env: LONGPOLL_TEST_ADMIN
transport:
  timeout: 10s
  proxy_url: http://proxy.local:3128
  ca_file: /etc/longpoll/ca.pem
bots:
  - name: beta
    token_env: LONGPOLL_TEST_TOKEN
    long_poll_timeout: 80s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bots[0].Token != "2:bbb" {
		t.Fatalf("token not resolved: %q", cfg.Bots[0].Token)
	}
	if cfg.Admin.AuthToken != "s3cret" {
		t.Fatalf("admin token not resolved: %q", cfg.Admin.AuthToken)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
	transport := cfg.HTTPTransport()
	if transport.Timeout != 80*time.Second+botapi.LongPollMargin {
		t.Fatalf("transport timeout=%s want long poll + margin", transport.Timeout)
	}
	if transport.ProxyURL != "http://proxy.local:3128" || transport.CAFile != "/etc/longpoll/ca.pem" {
		t.Fatalf("proxy=%q", transport.ProxyURL)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown toml key", "a.toml", "surprise = 1\n[[bots]]\nname=\"a\"\ntoken=\"1:a\"\n", "unknown keys"},
		{"unknown yaml key", "a.yaml", "surprise: 1\n", "surprise"},
		{"bad duration", "a.toml", "[defaults]\npoll_interval = \"soon\"\n", "defaults.poll_interval"},
		{"no bots", "a.toml", "[log]\nlevel = \"info\"\n", "no bots"},
		{"missing token", "a.toml", "[[bots]]\nname = \"a\"\n", "token"},
		{"empty env", "a.toml", "[[bots]]\nname = \"a\"\ntoken_env = \"LONGPOLL_TEST_UNSET\"\n", "LONGPOLL_TEST_UNSET"},
		{"duplicate name", "a.toml", "[[bots]]\nname = \"a\"\ntoken = \"1:a\"\n[[bots]]\nname = \"a\"\ntoken = \"2:b\"\n", "duplicates"},
		{"duplicate token", "a.toml", "[[bots]]\nname = \"a\"\ntoken = \"1:a\"\n[[bots]]\nname = \"b\"\ntoken = \"1:a\"\n", "token duplicates"},
		{"bad endpoint", "a.toml", "[[bots]]\nname = \"a\"\ntoken = \"1:a\"\nendpoint = \"ftp://x\"\n", "bot[0]"},
		{"bad level", "a.toml", "[log]\nlevel = \"loud\"\n[[bots]]\nname = \"a\"\ntoken = \"1:a\"\n", "log level"},
		{"bad limit", "a.toml", "[defaults]\nlimit = 500\n[[bots]]\nname = \"a\"\ntoken = \"1:a\"\n", "defaults.limit"},
		{"bad extension", "a.json", "{}", "unsupported extension"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	t.Setenv("LONGPOLL_BOT_TOKEN", "3:ccc")

	for _, name := range []string{"longpoll.toml", "longpoll.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteTemplate(path, false); err != nil {
				t.Fatalf("write template: %v", err)
			}
			if err := WriteTemplate(path, false); err == nil {
				t.Fatalf("expected refusal to overwrite")
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load template: %v", err)
			}
			if len(cfg.Bots) != 1 || cfg.Bots[0].Token != "3:ccc" {
				t.Fatalf("unexpected bots: %+v", cfg.Bots)
			}
			if cfg.Defaults.Backoff.Multiplier != 1.5 || !cfg.Defaults.Backoff.Jitter {
				t.Fatalf("unexpected backoff: %+v", cfg.Defaults.Backoff)
			}
		})
	}
	if _, err := Template("ini"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}
