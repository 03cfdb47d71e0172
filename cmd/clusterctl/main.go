package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/logging"
)

var exitFunc = os.Exit

func main() {
	exitFunc(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the result to a process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	logging.ConfigureRuntime()
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "clusterctl: %v\n", err)
		return command.ExitCode(err)
	}
	return command.ExitOK
}
