package config

import (
	"fmt"
	"os"
	"strings"
)

// placeholder kinds understood inside values:
//
//	{$NAME} {$NAME:default}  environment variable, optional default
//	{env.NAME}               environment variable
//	{file.PATH}              file contents (e.g. docker secrets)
var placeholderPrefixes = []string{"{$", "{env.", "{file."}

func resolvePlaceholders(in string) (string, []string, []string) {
	var errs, warns []string
	var out strings.Builder
	out.Grow(len(in))

	for i := 0; i < len(in); {
		prefix := ""
		for _, p := range placeholderPrefixes {
			if strings.HasPrefix(in[i:], p) {
				prefix = p
				break
			}
		}
		if prefix == "" {
			out.WriteByte(in[i])
			i++
			continue
		}

		start := i + len(prefix)
		end := strings.IndexByte(in[start:], '}')
		if end == -1 {
			errs = append(errs, fmt.Sprintf("unterminated %s...} placeholder", prefix))
			out.WriteString(in[i:])
			break
		}
		body := in[start : start+end]
		i = start + end + 1

		switch prefix {
		case "{$", "{env.":
			name, def, hasDef := body, "", false
			if prefix == "{$" {
				name, def, hasDef = strings.Cut(body, ":")
			}
			if name == "" {
				errs = append(errs, fmt.Sprintf("empty env var in %s...} placeholder", prefix))
				continue
			}
			val, ok := os.LookupEnv(name)
			if !ok {
				val = def
				if !hasDef {
					warns = append(warns, fmt.Sprintf("env var %q not set; replaced with empty string", name))
				}
			}
			out.WriteString(val)
		case "{file.":
			if body == "" {
				errs = append(errs, "empty path in {file.*} placeholder")
				continue
			}
			b, err := os.ReadFile(body)
			if err != nil {
				errs = append(errs, fmt.Sprintf("file placeholder %q: %v", body, err))
				continue
			}
			out.WriteString(strings.TrimRight(string(b), "\r\n"))
		}
	}

	return out.String(), errs, warns
}

func resolveValue(v Value, field string, res *ValidationResult) string {
	val, errs, warns := resolvePlaceholders(v.Raw)
	for _, err := range errs {
		res.errorf("%s: %s", field, err)
	}
	for _, warn := range warns {
		res.warnf("%s: %s", field, warn)
	}
	return strings.TrimSpace(val)
}
