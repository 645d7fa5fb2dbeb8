package setup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/health-risk-engine/internal/config"
	"github.com/health-risk-engine/internal/history"
)

// CLI provides the setup subcommands of both binaries. The HTTP server
// gets the database commands, the MCP server gets desktop registration.
type CLI struct {
	admin  *Admin
	lite   *config.LiteConfig
	opts   SetupOptions
	out    io.Writer
	reader *bufio.Reader
}

// NewServerCLI creates the setup CLI for the HTTP server.
func NewServerCLI(admin *Admin) *CLI {
	return &CLI{
		admin:  admin,
		out:    os.Stdout,
		reader: bufio.NewReader(os.Stdin),
	}
}

// NewMCPCLI creates the setup CLI for the standalone MCP server.
func NewMCPCLI(lite *config.LiteConfig) *CLI {
	return &CLI{
		lite:   lite,
		out:    os.Stdout,
		reader: bufio.NewReader(os.Stdin),
	}
}

// WithIO replaces stdin and stdout, mainly for tests.
func (c *CLI) WithIO(in io.Reader, out io.Writer) *CLI {
	c.reader = bufio.NewReader(in)
	c.out = out
	return c
}

// WithOptions overrides the desktop registration defaults.
func (c *CLI) WithOptions(opts SetupOptions) *CLI {
	c.opts = opts
	return c
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	if c.admin != nil {
		switch args[0] {
		case "migrate-up":
			return c.admin.MigrateUp(ctx)
		case "migrate-down":
			return c.admin.MigrateDown(ctx)
		case "validate":
			return c.validateServer()
		case "token":
			return c.issueToken(args[1:])
		case "export-history":
			return c.exportHistory(ctx, args[1:])
		}
	} else {
		switch args[0] {
		case "claude-desktop":
			return c.setupClaudeDesktop(args[1:])
		case "status":
			return c.showStatus()
		case "validate":
			return c.validateDesktop()
		case "export-history":
			return c.exportHistory(ctx, args[1:])
		}
	}

	switch args[0] {
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

// showHelp displays usage information.
func (c *CLI) showHelp() error {
	if c.admin != nil {
		fmt.Fprintln(c.out, `
Health Risk Engine Setup

Usage:
  server setup <command> [options]

Commands:
  migrate-up                Apply pending database migrations
  migrate-down              Roll back all database migrations
  validate                  Validate current configuration
  token <patient-id>        Issue a development bearer token
  export-history <file|->   Export stored assessments as JSON`)
		return nil
	}

	fmt.Fprintln(c.out, `
Health Risk Engine MCP Setup

Usage:
  mcp-server setup <command> [options]

Commands:
  claude-desktop            Register the server with Claude Desktop
                            [--binary PATH] [--data-dir DIR] [--auto]
  status                    Show current setup status
  validate                  Validate the registration
  export-history <file|->   Export stored assessments as JSON`)
	return nil
}

func (c *CLI) validateServer() error {
	if err := c.admin.Validate(); err != nil {
		fmt.Fprintf(c.out, "✗ Configuration is invalid: %v\n", err)
		return err
	}
	fmt.Fprintln(c.out, "✓ Configuration is valid!")
	return nil
}

func (c *CLI) issueToken(args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: token <patient-id>")
	}
	token, err := c.admin.IssueToken(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *CLI) exportHistory(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: export-history <file|->")
	}
	path := args[0]

	if c.admin != nil {
		return c.admin.ExportHistory(ctx, path, c.out)
	}

	store, err := history.NewSQLiteStore(c.lite.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()
	return exportStore(ctx, store, path, c.out)
}

// setupClaudeDesktop registers the MCP server with Claude Desktop.
func (c *CLI) setupClaudeDesktop(args []string) error {
	opts := c.opts
	if opts.DataDir == "" && c.lite != nil {
		opts.DataDir = c.lite.DataDir
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--binary", "-b":
			if i+1 < len(args) {
				opts.BinaryPath = args[i+1]
				i++
			}
		case "--data-dir", "-d":
			if i+1 < len(args) {
				opts.DataDir = args[i+1]
				i++
			}
		case "--auto", "-y":
			opts.AutoConfirm = true
		}
	}

	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	configPath, _ := opts.configPath()
	fmt.Fprintln(c.out, "Claude Desktop Configuration")
	fmt.Fprintln(c.out, "============================")
	fmt.Fprintf(c.out, "Config file: %s\n", configPath)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		fmt.Fprintf(c.out, "Data directory: %s\n", opts.DataDir)
	}
	fmt.Fprintln(c.out)

	if !opts.AutoConfirm {
		fmt.Fprint(c.out, "Proceed with configuration? [Y/n]: ")
		response, _ := c.reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			fmt.Fprintln(c.out, "Configuration cancelled.")
			return nil
		}
	}

	if err := ConfigureClaudeDesktop(opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "✓ Claude Desktop configured successfully!")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Next steps:")
	fmt.Fprintln(c.out, "  1. Restart Claude Desktop to load the new configuration")
	fmt.Fprintln(c.out, "  2. Try: \"Assess the health risk of a 70 year old with blood pressure 165/95\"")
	fmt.Fprintln(c.out)
	return nil
}

// showStatus displays the current setup status.
func (c *CLI) showStatus() error {
	status := GetStatus(c.opts)

	fmt.Fprintln(c.out, "Health Risk Engine MCP Status")
	fmt.Fprintln(c.out, "=============================")
	fmt.Fprintln(c.out)

	fmt.Fprintln(c.out, "Claude Desktop:")
	fmt.Fprintf(c.out, "  Config path: %s\n", status.ClaudeDesktopPath)
	if status.ClaudeDesktopConfigured {
		fmt.Fprintln(c.out, "  Status: ✓ Configured")
		fmt.Fprintf(c.out, "  Binary: %s\n", status.ServerPath)
	} else {
		fmt.Fprintln(c.out, "  Status: ✗ Not configured")
	}
	fmt.Fprintln(c.out)

	fmt.Fprintln(c.out, "Data Directory:")
	fmt.Fprintf(c.out, "  Path: %s\n", status.DataDir)
	if _, err := os.Stat(status.DataDir); err == nil {
		fmt.Fprintln(c.out, "  Status: ✓ Exists")
	} else {
		fmt.Fprintln(c.out, "  Status: - Will be created on first run")
	}
	fmt.Fprintln(c.out)

	if len(status.Issues) > 0 {
		fmt.Fprintln(c.out, "Issues:")
		for _, issue := range status.Issues {
			fmt.Fprintf(c.out, "  ⚠ %s\n", issue)
		}
		fmt.Fprintln(c.out)
	}
	return nil
}

// validateDesktop checks the desktop registration.
func (c *CLI) validateDesktop() error {
	fmt.Fprintln(c.out, "Validating configuration...")
	fmt.Fprintln(c.out)

	valid, issues := Validate(c.opts)
	if valid {
		fmt.Fprintln(c.out, "✓ Configuration is valid!")
	} else {
		fmt.Fprintln(c.out, "✗ Configuration has issues:")
	}
	for _, issue := range issues {
		fmt.Fprintf(c.out, "  - %s\n", issue)
	}
	return nil
}
