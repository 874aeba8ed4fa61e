package config

import (
	"bytes"
	"strings"
)

type writer struct {
	b      bytes.Buffer
	indent int
}

func (w *writer) line(parts ...string) {
	w.b.WriteString(strings.Repeat("  ", w.indent))
	w.b.WriteString(strings.Join(parts, " "))
	w.b.WriteByte('\n')
}

func (w *writer) value(name string, v Value) {
	w.line(name, formatValue(v))
}

func (w *writer) block(name string, dirs []directive) {
	w.line(name, "{")
	w.indent++
	w.directives(dirs)
	w.indent--
	w.line("}")
}

func (w *writer) directives(dirs []directive) {
	for _, d := range dirs {
		switch {
		case d.write != nil:
			d.write(w, d.name)
		case d.list != nil:
			if !d.list.Set {
				continue
			}
			parts := make([]string, 0, len(d.list.Items)+1)
			parts = append(parts, d.name)
			for _, item := range d.list.Items {
				parts = append(parts, formatValue(item))
			}
			w.line(parts...)
		case d.value.Set:
			w.value(d.name, *d.value)
		}
	}
}

func format(cfg *Config) []byte {
	var w writer

	for _, c := range cfg.Preamble {
		line := strings.TrimRight(c, "\r\n")
		if line == "" {
			continue
		}
		w.b.WriteString(line)
		w.b.WriteByte('\n')
	}

	first := true
	for _, d := range cfg.directives() {
		before := w.b.Len()
		if !first || len(cfg.Preamble) > 0 {
			w.b.WriteByte('\n')
		}
		mark := w.b.Len()
		d.write(&w, d.name)
		if w.b.Len() == mark {
			// block absent; drop the separator again
			w.b.Truncate(before)
			continue
		}
		first = false
	}
	return w.b.Bytes()
}

func formatValue(v Value) string {
	if v.Quoted || !isUnquotedValueSafe(v.Raw) {
		return quoteString(v.Raw)
	}
	return v.Raw
}

func isUnquotedValueSafe(val string) bool {
	if val == "" {
		return false
	}
	if strings.HasPrefix(val, "{") && strings.HasSuffix(val, "}") && !strings.ContainsAny(val, " \t\r\n") {
		return true
	}
	return !strings.ContainsAny(val, " \t\n\r{}\"#")
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}
