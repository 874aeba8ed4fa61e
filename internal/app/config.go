package app

import (
	"flag"
	"fmt"
	"os"

	"github.com/nuetzliches/subwarm/internal/config"
)

func configCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "missing subcommand: fmt | validate")
		return 2
	}

	switch args[0] {
	case "fmt":
		return configFormat(args[1:])
	case "validate":
		return configValidate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand: %s\n", args[0])
		return 2
	}
}

// configFormat prints the canonical form of the config. With --write the file
// is rewritten in place instead.
func configFormat(args []string) int {
	fs := flag.NewFlagSet("config fmt", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Subwarmfile", "path to config file")
	write := fs.Bool("write", false, "rewrite the config file instead of printing")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	out, err := config.Format(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	if *write {
		if err := writeFileAtomic(*configPath, out); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return 1
		}
		return 0
	}
	_, _ = os.Stdout.Write(out)
	return 0
}

func configValidate(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Subwarmfile", "path to config file")
	format := fs.String("format", "json", "output format: json|text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		return configValidateError(*format, err.Error())
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return configValidateError(*format, err.Error())
	}

	res := config.ValidateWithResult(cfg)
	if *format == "text" {
		msg := config.FormatValidationText(res)
		if res.OK {
			fmt.Fprintln(os.Stdout, msg)
			return 0
		}
		fmt.Fprintln(os.Stderr, msg)
		return 1
	}

	out, err := config.FormatValidationJSON(res)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	if res.OK {
		fmt.Fprintln(os.Stdout, out)
		return 0
	}
	fmt.Fprintln(os.Stderr, out)
	return 1
}

// configValidateError emits a validation failure in the requested format.
func configValidateError(format, msg string) int {
	res := config.ValidationResult{
		OK:     false,
		Errors: []string{msg},
	}
	if format == "text" {
		fmt.Fprintln(os.Stderr, config.FormatValidationText(res))
		return 1
	}
	out, err := config.FormatValidationJSON(res)
	if err != nil {
		fmt.Fprintln(os.Stderr, msg)
		return 1
	}
	fmt.Fprintln(os.Stderr, out)
	return 1
}
