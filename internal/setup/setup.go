// Package setup provides setup and administration utilities for the health
// risk engine binaries.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// ServerName is the key under which the MCP server is registered.
	ServerName = "health-risk-engine"

	// DataDirEnv points the MCP server at its data directory.
	DataDirEnv = "HEALTHRISK_DATA_DIR"

	mcpBinaryName = "mcp-server"
)

// ClaudeDesktopConfig represents the Claude Desktop configuration file structure.
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// SetupOptions contains options for registering the MCP server.
type SetupOptions struct {
	ConfigPath  string // Desktop config file; empty means the platform default
	BinaryPath  string // Path to the server binary
	DataDir     string // Data directory for history and exports
	AutoConfirm bool   // Skip confirmation prompts
}

// GetClaudeDesktopConfigPath returns the path to Claude Desktop's config file.
func GetClaudeDesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

func (o SetupOptions) configPath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return GetClaudeDesktopConfigPath()
}

// LoadClaudeDesktopConfig loads the existing Claude Desktop configuration.
// A missing file yields an empty configuration.
func LoadClaudeDesktopConfig(configPath string) (*ClaudeDesktopConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClaudeDesktopConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ClaudeDesktopConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]MCPServerConfig)
	}
	return &config, nil
}

// SaveClaudeDesktopConfig saves the configuration to the Claude Desktop config file.
func SaveClaudeDesktopConfig(configPath string, config *ClaudeDesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigureClaudeDesktop adds or updates the risk engine entry, leaving
// other servers untouched.
func ConfigureClaudeDesktop(opts SetupOptions) error {
	configPath, err := opts.configPath()
	if err != nil {
		return err
	}

	config, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = findBinary()
		if err != nil {
			return fmt.Errorf("could not find server binary: %w", err)
		}
	}

	serverConfig := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		serverConfig.Env[DataDirEnv] = opts.DataDir
	}
	config.MCPServers[ServerName] = serverConfig

	return SaveClaudeDesktopConfig(configPath, config)
}

// findBinary attempts to find the MCP server binary in common locations.
func findBinary() (string, error) {
	if path, err := exec.LookPath(mcpBinaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + mcpBinaryName,
		"./build/" + mcpBinaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", mcpBinaryName),
		"/usr/local/bin/" + mcpBinaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", mcpBinaryName)
}

// Status represents the current setup status.
type Status struct {
	ClaudeDesktopConfigured bool
	ClaudeDesktopPath       string
	ServerPath              string
	DataDir                 string
	Issues                  []string
}

// GetStatus checks the current registration and data directory.
func GetStatus(opts SetupOptions) *Status {
	status := &Status{Issues: []string{}}

	configPath, err := opts.configPath()
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Could not determine Claude Desktop config path: %v", err))
	} else {
		status.ClaudeDesktopPath = configPath

		config, err := LoadClaudeDesktopConfig(configPath)
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not load Claude Desktop config: %v", err))
		} else if serverConfig, ok := config.MCPServers[ServerName]; ok {
			status.ClaudeDesktopConfigured = true
			status.ServerPath = serverConfig.Command
			if _, err := os.Stat(serverConfig.Command); os.IsNotExist(err) {
				status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", serverConfig.Command))
			}
			status.DataDir = serverConfig.Env[DataDirEnv]
		}
	}

	if status.DataDir == "" {
		status.DataDir = GetDefaultDataDir()
	}
	if _, err := os.Stat(status.DataDir); os.IsNotExist(err) {
		status.Issues = append(status.Issues, fmt.Sprintf("Data directory will be created on first run: %s", status.DataDir))
	}

	return status
}

// Validate checks that the registration is usable. Issues that resolve
// themselves on first run are reported but do not fail validation.
func Validate(opts SetupOptions) (bool, []string) {
	status := GetStatus(opts)
	issues := status.Issues

	if !status.ClaudeDesktopConfigured {
		issues = append(issues, fmt.Sprintf("%s is not configured in Claude Desktop", ServerName))
	} else if info, err := os.Stat(status.ServerPath); err == nil && info.Mode()&0111 == 0 {
		issues = append(issues, fmt.Sprintf("Server binary is not executable: %s", status.ServerPath))
	}

	return allWarnings(issues), issues
}

// allWarnings returns true if all issues are just warnings (not errors).
func allWarnings(issues []string) bool {
	for _, issue := range issues {
		if !strings.Contains(issue, "will be created") {
			return false
		}
	}
	return true
}

// GetDefaultDataDir returns the default data directory path.
func GetDefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".health-risk-engine")
}
