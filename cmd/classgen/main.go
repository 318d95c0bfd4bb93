// classgen CLI - inspects, verifies and produces JVM class files
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("classgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Int("v", 0, "Log verbosity; raise for more detail")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: classgen [options] <command> [args]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nCommands:\n")
		fmt.Fprintf(stderr, "  disasm FILE.class          Print a class file\n")
		fmt.Fprintf(stderr, "  verify FILE.class...       Type-check class files\n")
		fmt.Fprintf(stderr, "  demo [-o DIR] [-run]       Generate the demo classes\n")
		fmt.Fprintf(stderr, "  unbundle BUNDLE [-o DIR]   Extract class files from a bundle\n")
		fmt.Fprintf(stderr, "  runs [-units RUN]          List runs recorded in the store\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	commonlog.Configure(*verbose, nil)

	cli := &cli{stdout: stdout, stderr: stderr}
	var err error
	switch cmd, rest := fs.Arg(0), fs.Args()[1:]; cmd {
	case "disasm":
		err = cli.disasm(rest)
	case "verify":
		err = cli.verify(rest)
	case "demo":
		err = cli.demo(rest)
	case "unbundle":
		err = cli.unbundle(rest)
	case "runs":
		err = cli.runs(rest)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
