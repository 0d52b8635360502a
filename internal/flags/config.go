// Package flags holds the global command line flags shared by every mcpshield command.
package flags

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarConfigFile = "MCPSHIELD_CONFIG_FILE"
	EnvVarLogPath    = "MCPSHIELD_LOG_PATH"
	EnvVarLogLevel   = "MCPSHIELD_LOG_LEVEL"
	EnvVarLogFormat  = "MCPSHIELD_LOG_FORMAT"

	// Defaults
	DefaultConfigFile = ".mcpshield.toml"
	DefaultLogPath    = ""
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"

	// Flag names
	FlagNameConfigFile = "config-file"
	FlagNameLogPath    = "log-path"
	FlagNameLogLevel   = "log-level"
	FlagNameLogFormat  = "log-format"
)

var (
	ConfigFile string
	LogPath    string
	LogLevel   string
	LogFormat  string
)

// InitFlags registers the global flags on fs, seeding each from its environment variable when set.
func InitFlags(fs *pflag.FlagSet) {
	initConfigFile(fs)
	initLogger(fs)
}

func initConfigFile(fs *pflag.FlagSet) {
	if ConfigFile == "" {
		ConfigFile = envOrDefault(EnvVarConfigFile, DefaultConfigFile)
	}
	fs.StringVar(&ConfigFile, FlagNameConfigFile, ConfigFile, "path to config file (.toml, .json or .jsonc)")
}

func initLogger(fs *pflag.FlagSet) {
	if LogPath == "" {
		LogPath = envOrDefault(EnvVarLogPath, DefaultLogPath)
	}
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file (defaults to stderr)")

	if LogLevel == "" {
		LogLevel = strings.ToLower(envOrDefault(EnvVarLogLevel, DefaultLogLevel))
	}
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level (trace, debug, info, warn, error, off)")

	if LogFormat == "" {
		LogFormat = strings.ToLower(envOrDefault(EnvVarLogFormat, DefaultLogFormat))
	}
	fs.StringVar(&LogFormat, FlagNameLogFormat, LogFormat, "log format (text, json)")
}

func envOrDefault(key string, def string) string {
	if env := strings.TrimSpace(os.Getenv(key)); env != "" {
		return env
	}
	return def
}
