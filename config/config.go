// Copyright 2025 Incentra
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine's service configuration from a YAML
// file with environment-variable expansion, falling back to environment
// variables alone when no file is given.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Port string `yaml:"port"`

	// DirectoryURL is the Postgres DSN of the tenant directory.
	DirectoryURL string `yaml:"directory_url"`

	// RedisURL enables the directory cache and run rate limiter when
	// set. Empty disables both.
	RedisURL string `yaml:"redis_url"`

	// PostProcessors maps processor names to Lua script files, loaded
	// and registered at startup.
	PostProcessors map[string]string `yaml:"post_processors"`

	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig tunes the run path.
type EngineConfig struct {
	Workers             int `yaml:"workers"`
	RunsPerMinute       int `yaml:"runs_per_minute"`
	ConnectTimeoutSecs  int `yaml:"connect_timeout_seconds"`
	PostProcTimeoutSecs int `yaml:"postproc_timeout_seconds"`
}

// Load reads configuration from path. An empty path builds the config
// from environment variables only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if cfg.Port == "" {
		cfg.Port = getEnv("PORT", "8080")
	}
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = os.Getenv("DIRECTORY_URL")
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DirectoryURL == "" {
		return fmt.Errorf("directory_url is required (set DIRECTORY_URL or the config file)")
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if c.Engine.RunsPerMinute < 0 {
		return fmt.Errorf("engine.runs_per_minute must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references in the config
// text. Supports ${VAR:-default} for defaults; undefined variables
// expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
