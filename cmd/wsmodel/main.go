// Command wsmodel imports project descriptors into an in-memory workspace
// model and reports what every import changed.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// cli runs the command tree with args and returns the process exit code.
func cli(args []string, stdout, stderr io.Writer) int {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := errors.Join(root.Execute(), a.close())
	if err != nil {
		if _, werr := fmt.Fprintf(stderr, "wsmodel: %v\n", err); werr != nil {
			return 1
		}
		return 1
	}
	return 0
}
