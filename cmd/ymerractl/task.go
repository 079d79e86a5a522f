package main

import (
	"fmt"
	"os"
)

func runTask(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ymerractl task {list|inspect|cancel} [id]")
		return exitUsage
	}
	client := newAPIClient(adminAddr())

	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		var tasks []interface{}
		if err := client.get("/v1/tasks", &tasks); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(tasks)
	case "inspect":
		id, code := requireID(rest, "task inspect")
		if code != exitSuccess {
			return code
		}
		var task interface{}
		if err := client.get("/v1/tasks/"+id, &task); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(task)
	case "cancel":
		id, code := requireID(rest, "task cancel")
		if code != exitSuccess {
			return code
		}
		var result interface{}
		if err := client.post("/v1/tasks/"+id+"/cancel", nil, &result); err != nil {
			return reportAPIErr(err)
		}
		return printJSON(result)
	default:
		fmt.Fprintf(os.Stderr, "unknown task subcommand %q\n", sub)
		return exitUsage
	}
}
