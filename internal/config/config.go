// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RelayConfig configures the hub process.
type RelayConfig struct {
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// ConfigPath points at the YAML native-app table.
	ConfigPath string
	NativeApp  string

	LogLevel string
	LogFile  string
}

// AgentConfig configures the devtools agent process.
type AgentConfig struct {
	HubURL       string
	TabID        string
	PollInterval time.Duration

	CDPAddress     string
	CDPPort        int
	TabURLFilter   string
	ReloadOnAttach bool

	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
	Extensions    []string

	LogLevel string
	LogFile  string
}

// LoadEnv reads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

// LoadRelay reads hub configuration from environment variables.
func LoadRelay() (*RelayConfig, error) {
	LoadEnv()

	cfg := &RelayConfig{
		BindAddr:         getEnvOrDefault("RELAY_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("RELAY_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback: getEnvBoolOrDefault("RELAY_PORT_AUTO_FALLBACK", true),
		ConfigPath:       getEnvOrDefault("RELAY_CONFIG", "./config/relay.yaml"),
		NativeApp:        getEnvOrDefault("RELAY_NATIVE_APP", "har_catcher"),
		LogLevel:         strings.ToLower(getEnvOrDefault("RELAY_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("RELAY_LOG_FILE", "logs/harrelay.log"),
	}
	if cfg.NativeApp == "" {
		return nil, fmt.Errorf("config: RELAY_NATIVE_APP must not be empty")
	}
	return cfg, nil
}

// LoadAgent reads agent configuration from environment variables.
func LoadAgent() (*AgentConfig, error) {
	LoadEnv()

	cfg := &AgentConfig{
		HubURL:         getEnvOrDefault("AGENT_HUB_URL", "ws://127.0.0.1:8190/connect/devtools"),
		TabID:          getEnvOrDefault("AGENT_TAB_ID", "1"),
		PollInterval:   time.Duration(getEnvIntOrDefault("AGENT_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		CDPAddress:     getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:        getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:   getEnvOrDefault("AGENT_TAB_URL_FILTER", ""),
		ReloadOnAttach: getEnvBoolOrDefault("AGENT_RELOAD_ON_ATTACH", false),
		LaunchBrowser:  getEnvBoolOrDefault("AGENT_LAUNCH_BROWSER", false),
		StartURL:       getEnvOrDefault("CHROMIUM_START_URL", "about:blank"),
		ProfileDir:     getEnvOrDefault("CHROMIUM_PROFILE_DIR", ""),
		Extensions:     getEnvListOrDefault("CHROMIUM_EXTENSIONS", nil),
		LogLevel:       strings.ToLower(getEnvOrDefault("AGENT_LOG_LEVEL", "info")),
		LogFile:        getEnvOrDefault("AGENT_LOG_FILE", "logs/haragent.log"),
	}
	if cfg.PollInterval < 50*time.Millisecond {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("config: invalid CHROMIUM_CDP_PORT %d", cfg.CDPPort)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *AgentConfig) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
