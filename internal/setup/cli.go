package setup

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// CLI provides the "setup" subcommand of the MCP binary.
type CLI struct {
	out io.Writer
}

// NewCLI creates a setup CLI writing to out.
func NewCLI(out io.Writer) *CLI {
	return &CLI{out: out}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		c.showHelp()
		return nil
	}

	switch args[0] {
	case "register":
		return c.register(args[1:])
	case "status":
		return c.showStatus(args[1:])
	case "help", "--help", "-h":
		c.showHelp()
		return nil
	default:
		c.showHelp()
		return fmt.Errorf("unknown setup command: %s", args[0])
	}
}

func (c *CLI) showHelp() {
	fmt.Fprint(c.out, `
Heart-risk MCP Server Setup

Usage:
  mcp-server setup <command> [options]

Commands:
  register   Register the server with the desktop MCP client
  status     Show the current registration

Options:
  --client-config PATH   client configuration file (default: platform location)
  --binary PATH          server binary (register only, default: this executable)
  --config PATH          server configuration file passed to the server
  --history PATH         SQLite history database used by the server
`)
}

func (c *CLI) register(args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(c.out)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "client-config", "", "client configuration file")
	fs.StringVar(&opts.BinaryPath, "binary", "", "server binary")
	fs.StringVar(&opts.ServerConfig, "config", "", "server configuration file")
	fs.StringVar(&opts.HistoryPath, "history", "", "SQLite history database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.BinaryPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving executable path: %w", err)
		}
		opts.BinaryPath = execPath
	}

	path, err := Register(opts)
	if err != nil {
		return fmt.Errorf("failed to register server: %w", err)
	}

	fmt.Fprintf(c.out, "Registered %s in %s\n", ServerName, path)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	fmt.Fprintln(c.out, "Restart the client to load the new configuration.")
	return nil
}

func (c *CLI) showStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(c.out)
	configPath := fs.String("client-config", "", "client configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	status, err := GetStatus(*configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Client config: %s\n", status.ConfigPath)
	if status.Registered {
		fmt.Fprintln(c.out, "Registered:    yes")
		fmt.Fprintf(c.out, "Binary:        %s\n", status.Entry.Command)
	} else {
		fmt.Fprintln(c.out, "Registered:    no")
	}
	for _, issue := range status.Issues {
		fmt.Fprintf(c.out, "  ! %s\n", issue)
	}
	return nil
}
