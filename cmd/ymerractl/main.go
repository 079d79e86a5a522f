// Command ymerractl is the operator CLI for a running ymerad: it manages
// schema migrations and inspects or mutates agents, tasks, and workflows
// over ymerad's admin HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return runMigrate(rest)
	case "agent":
		return runAgent(rest)
	case "task":
		return runTask(rest)
	case "workflow":
		return runWorkflow(rest)
	case "-h", "--help", "help":
		usage()
		return exitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ymerractl <command> [arguments]

commands:
  migrate   up|down|status
  agent     list|inspect|activate|suspend <id>
  task      list|inspect|cancel <id>
  workflow  list|inspect|cancel <id>

all commands except "migrate" talk to a running ymerad's admin API; set
YMERA_ADMIN_ADDR to override the default of http://127.0.0.1:8080.`)
}

func adminAddr() string {
	if v := os.Getenv("YMERA_ADMIN_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// newFlagSet returns a FlagSet that reports usage errors as exitUsage
// through its own error handling rather than os.Exit(2), so callers can
// distinguish "bad arguments" from "the operation itself failed".
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
