package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

const configTemplate = `# dittofs-exports configuration file
#
# Every setting can be overridden with an environment variable built from
# its path, e.g. DITTOFS_LOGGING_LEVEL=DEBUG or DITTOFS_STORE_TYPE=badger.

logging:
  level: {{ .Logging.Level }}   # DEBUG, INFO, WARN, ERROR
  format: {{ .Logging.Format }}   # text, json
  output: {{ .Logging.Output }}   # stdout, stderr or a file path

server:
  shutdown_timeout: {{ .Server.ShutdownTimeout }}

exports:
  file: {{ .Exports.File }}
  dir: {{ .Exports.Dir }}
  watch: {{ .Exports.Watch }}
  debounce: {{ .Exports.Debounce }}
  # Bumping the generation invalidates every handle issued so far
  generation: {{ .Exports.Generation }}

store:
  type: {{ .Store.Type }}   # memory, badger
  # Directories created at startup so export paths resolve
  paths: []
  memory:
    root_mode: {{ index .Store.Memory "root_mode" }}
  badger:
    path: {{ index .Store.Badger "path" }}
    block_cache_size_mb: {{ index .Store.Badger "block_cache_size_mb" }}
    index_cache_size_mb: {{ index .Store.Badger "index_cache_size_mb" }}

cache:
  enabled: {{ .Cache.Enabled }}
  ttl: {{ .Cache.TTL }}
  max_entries: {{ .Cache.MaxEntries }}

access:
  log_denials: {{ .Access.LogDenials }}
  # Denial lines per second (0 = unlimited) and burst size
  denial_log_rate: {{ .Access.DenialLogRate }}
  denial_log_burst: {{ .Access.DenialLogBurst }}

metrics:
  enabled: {{ .Metrics.Enabled }}
  listen: "{{ .Metrics.Listen }}"
`

// GenerateConfig renders cfg as a commented YAML configuration file.
func GenerateConfig(cfg *Config) (string, error) {
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, cfg); err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return b.String(), nil
}

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := GenerateConfig(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
