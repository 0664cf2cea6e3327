package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/cli"
)

// main is the entrypoint for the eidolon binary.
func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the command dispatch for easier testing.
func run(outW io.Writer, args []string) error {
	root := cli.NewRootCommand(outW)
	root.SetOut(outW)
	root.SetArgs(args)
	return root.Execute()
}
