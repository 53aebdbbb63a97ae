package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hpungsan/cozytriage/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"triage": true, "session": true, "apply": true,
	"tasks": true, "task-status": true,
	"serve": true, "setup-schema": true, "ping": true,
	"help": true,
}

// valueFlags are global flags that consume the following argument.
var valueFlags = map[string]bool{
	"--config": true, "--user": true, "-u": true,
}

// firstCommand returns the first non-flag argument, skipping values of
// global flags given in "--flag value" form.
func firstCommand(args []string) string {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
		if valueFlags[arg] {
			i++
		}
	}
	return ""
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	if cliCommands[firstCommand(os.Args)] {
		return true
	}
	arg := os.Args[1]
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ ___ ____ _   _
  / __/ _ \_  /| | | |
 | (_| (_) / / | |_| |
  \___\___/___| \__, |
                |___/

  Brain dumps in, triaged tasks out

  Usage: cozytriage <command> [options]
         cozytriage --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before opening the store (nothing needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	env := &appEnv{}
	defer env.close()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			env.close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'cozytriage --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := env.open(context.Background(), ""); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := mcp.Run(env.svc, env.cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		env.close()
		os.Exit(1)
	}
}
