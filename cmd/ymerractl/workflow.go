package main

import (
	"fmt"
	"os"
)

func runWorkflow(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ymerractl workflow {list|inspect|cancel} [id]")
		return exitUsage
	}
	client := newAPIClient(adminAddr())

	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		var executions []string
		if err := client.get("/v1/workflows", &executions); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(executions)
	case "inspect":
		id, code := requireID(rest, "workflow inspect")
		if code != exitSuccess {
			return code
		}
		var exec interface{}
		if err := client.get("/v1/workflows/"+id, &exec); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(exec)
	case "cancel":
		id, code := requireID(rest, "workflow cancel")
		if code != exitSuccess {
			return code
		}
		var result interface{}
		if err := client.post("/v1/workflows/"+id+"/cancel", nil, &result); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(result)
	default:
		fmt.Fprintf(os.Stderr, "unknown workflow subcommand %q\n", sub)
		return exitUsage
	}
}
