// Package seller – loader.go handles loading configuration from YAML files
// with credential management via environment variables and .env files.
package seller

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// Automatically loads .env files and expands environment variables.
// Returns an error if any ${VAR:?error} pattern has its variable unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"zapseller.yaml",
		"zapseller.yml",
		"configs/config.yaml",
		"configs/zapseller.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
// godotenv does NOT overwrite existing env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// references in a string with their environment variable values.
//
// The ${VAR:?error} pattern is handled specially: if the variable is unset,
// the match is replaced with an "ERROR:" marker caught during validation.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Groups: 1=varName, 2=modifierType(-|?), 3=value, 4=bareVar
		submatches := envVarPattern.FindStringSubmatch(match)

		var varName, modifierType, modifierValue, bareVar string
		if len(submatches) >= 2 {
			varName = submatches[1]
		}
		if len(submatches) >= 3 {
			modifierType = submatches[2]
		}
		if len(submatches) >= 4 {
			modifierValue = submatches[3]
		}
		if len(submatches) >= 5 {
			bareVar = submatches[4]
		}

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if varName != "" {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			if modifierType == "?" {
				errorMsg := modifierValue
				if errorMsg == "" {
					errorMsg = "required environment variable not set"
				}
				return "ERROR:" + varName + ":" + errorMsg
			}
			if modifierType == "-" {
				return modifierValue
			}
			return match
		}

		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but returns an error
// if any ${VAR:?error} pattern has its variable unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	if idx := strings.Index(result, "ERROR:"); idx != -1 {
		rest := result[idx+6:]
		colonIdx := strings.Index(rest, ":")
		if colonIdx == -1 {
			return "", fmt.Errorf("config error: malformed error marker")
		}
		varName := rest[:colonIdx]
		errorMsg := strings.SplitN(rest[colonIdx+1:], "\n", 2)[0]
		if errorMsg == "" {
			errorMsg = "required environment variable not set"
		}
		return "", fmt.Errorf("config error: %s - %s", varName, errorMsg)
	}
	return result, nil
}

// resolveSecrets fills in config secrets from environment variables
// when the config value is empty or a placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey == "" || isEnvReference(cfg.API.APIKey) {
		if key := os.Getenv("ZAPSELLER_API_KEY"); key != "" {
			cfg.API.APIKey = key
		} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.API.APIKey = key
		}
	}
}

// resolveRelativePaths converts relative paths to absolute paths based on
// the config file's directory, so startup works regardless of cwd.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	if cfg.WhatsApp.SessionDir != "" {
		cfg.WhatsApp.SessionDir = resolvePathFromConfig(cfg.WhatsApp.SessionDir, configDir)
	}
	if cfg.WhatsApp.DatabasePath != "" {
		cfg.WhatsApp.DatabasePath = resolvePathFromConfig(cfg.WhatsApp.DatabasePath, configDir)
	}
}

// resolvePathFromConfig converts a path to absolute, resolving relative
// paths against the config file's directory. Expands ~ to home directory.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}

	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(configDir, path)
}

// isEnvReference checks if a string is an environment variable reference.
func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// checkFilePermissions warns if the config file is group- or world-readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600")
	}
}
