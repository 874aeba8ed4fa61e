package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureOutput runs fn while capturing stdout and stderr.
func captureOutput(t *testing.T, fn func()) (stdout, stderr string) {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	defer func() {
		os.Stdout = origOut
		os.Stderr = origErr
	}()

	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	rErr, wErr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	os.Stdout = wOut
	os.Stderr = wErr

	fn()

	wOut.Close()
	wErr.Close()

	outBuf := make([]byte, 64*1024)
	n, _ := rOut.Read(outBuf)
	stdout = string(outBuf[:n])

	errBuf := make([]byte, 64*1024)
	n, _ = rErr.Read(errBuf)
	stderr = string(errBuf[:n])
	return
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "Subwarmfile")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const validConfig = `
ingress {
    listen 127.0.0.1:3100
}

preload {
    strategies direct_api
    concurrency 2
}
`

type validationOutput struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func decodeValidation(t *testing.T, raw string) validationOutput {
	t.Helper()
	var res validationOutput
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("output is not valid JSON: %s\nraw: %s", err, raw)
	}
	return res
}

func TestConfigValidate_ValidJSON(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), validConfig)

	var code int
	stdout, stderr := captureOutput(t, func() {
		code = configValidate([]string{"-config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr: %s", code, stderr)
	}
	if res := decodeValidation(t, stdout); !res.OK {
		t.Fatalf("expected ok=true, got %+v", res)
	}
}

func TestConfigValidate_ValidText(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), validConfig)

	var code int
	stdout, _ := captureOutput(t, func() {
		code = configValidate([]string{"-config", cfgPath, "-format", "text"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "config ok") {
		t.Fatalf("expected 'config ok' in stdout, got: %s", stdout)
	}
}

func TestConfigValidate_WarningsStillOK(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), `
preload {
    strategies direct_api
    hidden_frame { settle 2s }
}
`)

	var code int
	stdout, _ := captureOutput(t, func() {
		code = configValidate([]string{"-config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	res := decodeValidation(t, stdout)
	if !res.OK || len(res.Warnings) == 0 {
		t.Fatalf("expected ok with warnings, got %+v", res)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		missing bool
		format  string
		want    string
	}{
		{name: "parse json", content: "this is not valid DSL !!!", format: "json"},
		{name: "parse text", content: "this is not valid DSL !!!", format: "text", want: "config invalid"},
		{name: "missing json", missing: true, format: "json"},
		{name: "missing text", missing: true, format: "text", want: "config invalid"},
		{name: "compile json", content: "preload { strategies teleport }", format: "json", want: "unknown strategy"},
		{name: "compile text", content: "journal { backend mongodb }", format: "text", want: "journal.backend"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "missing", "Subwarmfile")
			if !tc.missing {
				cfgPath = writeConfig(t, t.TempDir(), tc.content)
			}

			var code int
			_, stderr := captureOutput(t, func() {
				code = configValidate([]string{"-config", cfgPath, "-format", tc.format})
			})
			if code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if tc.format == "json" {
				res := decodeValidation(t, stderr)
				if res.OK || len(res.Errors) == 0 {
					t.Fatalf("expected errors, got %+v", res)
				}
			}
			if tc.want != "" && !strings.Contains(stderr, tc.want) {
				t.Fatalf("expected %q in stderr, got: %s", tc.want, stderr)
			}
		})
	}
}

func TestConfigFormat_Write(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "# local\npreload { concurrency 2 }\n")
	if err := os.Chmod(cfgPath, 0o640); err != nil {
		t.Fatal(err)
	}

	var code int
	stdout, stderr := captureOutput(t, func() {
		code = configFormat([]string{"-config", cfgPath, "-write"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr: %s", code, stderr)
	}
	if stdout != "" {
		t.Fatalf("--write should not print, got %q", stdout)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(got), "# local\n") || !strings.Contains(string(got), "preload {\n") {
		t.Fatalf("unexpected formatted file:\n%s", got)
	}
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode not preserved: %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestConfigFormat_Stdout(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "preload { concurrency 2 }")

	var code int
	stdout, _ := captureOutput(t, func() {
		code = configFormat([]string{"-config", cfgPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout != "preload {\n  concurrency 2\n}\n" {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestConfigCmd_UnknownSubcommand(t *testing.T) {
	var code int
	_, stderr := captureOutput(t, func() {
		code = configCmd([]string{"diff"})
	})
	if code != 2 || !strings.Contains(stderr, "unknown config subcommand") {
		t.Fatalf("got code %d stderr %q", code, stderr)
	}
}
