package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func runAgent(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ymerractl agent {list|inspect|activate|suspend} [id]")
		return exitUsage
	}
	client := newAPIClient(adminAddr())

	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		var agents []interface{}
		if err := client.get("/v1/agents", &agents); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(agents)
	case "inspect":
		id, code := requireID(rest, "agent inspect")
		if code != exitSuccess {
			return code
		}
		var agent interface{}
		if err := client.get("/v1/agents/"+id, &agent); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(agent)
	case "activate":
		return agentTransition(client, rest, "activate")
	case "suspend":
		return agentTransition(client, rest, "suspend")
	default:
		fmt.Fprintf(os.Stderr, "unknown agent subcommand %q\n", sub)
		return exitUsage
	}
}

func agentTransition(client *apiClient, args []string, transition string) int {
	fs := newFlagSet("agent " + transition)
	reason := fs.String("reason", "", "reason recorded in the audit log")
	actor := fs.String("actor", "", "operator performing the transition")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	id, code := requireID(fs.Args(), "agent "+transition)
	if code != exitSuccess {
		return code
	}

	var result interface{}
	body := map[string]string{"reason": *reason, "actor": *actor}
	if err := client.post("/v1/agents/"+id+"/"+transition, body, &result); err != nil {
		return reportAPIErr(err)
	}
	return printJSON(result)
}

func requireID(args []string, usage string) (string, int) {
	if len(args) < 1 || args[0] == "" {
		fmt.Fprintf(os.Stderr, "usage: ymerractl %s <id>\n", usage)
		return "", exitUsage
	}
	return args[0], exitSuccess
}

func reportAPIErr(err error) int {
	fmt.Fprintln(os.Stderr, err)
	return exitFailure
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	return exitSuccess
}
