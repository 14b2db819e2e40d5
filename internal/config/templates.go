package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

// WriteTemplate writes a sample config in the format implied by path's extension.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(filepath.Ext(path))
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `[log]
level = "info"
timestamp = true

[admin]
enabled = true
name = "longpollctl"
addr = ":9180"
cors_origins = ["http://localhost:3000"]
# auth_token_env = "LONGPOLL_ADMIN_TOKEN"

[transport]
timeout = "75s"
disable_http2 = false

[defaults]
poll_interval = "50ms"
long_poll_timeout = "50s"
limit = 100
delivery_queue = 256

[defaults.backoff]
initial = "500ms"
max = "1m"
multiplier = 1.5
jitter = true

[[bots]]
name = "echo"
token_env = "LONGPOLL_BOT_TOKEN"
allowed_updates = ["message", "callback_query"]
`

const yamlTemplate = `log:
  level: info
  timestamp: true
admin:
  enabled: true
  name: longpollctl
  addr: ":9180"
  cors_origins: ["http://localhost:3000"]
  # auth_token_env: LONGPOLL_ADMIN_TOKEN
transport:
  timeout: 75s
  disable_http2: false
defaults:
  poll_interval: 50ms
  long_poll_timeout: 50s
  limit: 100
  delivery_queue: 256
  backoff:
    initial: 500ms
    max: 1m
    multiplier: 1.5
    jitter: true
bots:
  - name: echo
    token_env: LONGPOLL_BOT_TOKEN
    allowed_updates: [message, callback_query]
`
