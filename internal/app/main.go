package app

import (
	"fmt"
	"io"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Main dispatches the subwarm subcommands and returns the exit code.
func Main(args []string) int {
	if len(args) < 2 {
		printHelp(os.Stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return run()
	case "config":
		return configCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp(os.Stderr)
		return 2
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "subwarm: keeps subtitle data warm for the videos you are about to watch")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  subwarm run --config ./Subwarmfile [--pid-file ./subwarm.pid] [--watch] [--log-level info] [--dotenv ./.env]")
	fmt.Fprintln(w, "  subwarm config fmt --config ./Subwarmfile [--write]")
	fmt.Fprintln(w, "  subwarm config validate --config ./Subwarmfile --format json|text")
	fmt.Fprintln(w, "  subwarm version [--long] [--json]")
}
