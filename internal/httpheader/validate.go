// Package httpheader checks operator-supplied header names and values.
package httpheader

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopByHop headers are owned by the transport and cannot be configured.
var hopByHop = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Host":              {},
	"Keep-Alive":        {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// Validate reports whether name and value can be sent as an extra request
// header. Names are returned in canonical form.
func Validate(name, value string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("header name must not be empty")
	}
	if name != strings.TrimSpace(name) {
		return "", fmt.Errorf("header %q has leading or trailing whitespace", name)
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return "", fmt.Errorf("header %q has invalid field name", name)
	}
	canonical := http.CanonicalHeaderKey(name)
	if _, ok := hopByHop[canonical]; ok {
		return "", fmt.Errorf("header %q is managed by the transport", canonical)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", fmt.Errorf("header %q has invalid field value", canonical)
	}
	return canonical, nil
}
