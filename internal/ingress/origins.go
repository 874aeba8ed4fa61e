package ingress

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
)

// builtinOrigins are always accepted next to loopback hosts.
var builtinOrigins = []string{"chrome-extension://*", "moz-extension://*"}

// OriginPolicy decides which browser origins may call the API and open the
// outcome stream. Requests without an Origin header (curl, the extension's
// background worker) are allowed.
type OriginPolicy struct {
	patterns atomic.Pointer[[]string]
}

func NewOriginPolicy(extra []string) *OriginPolicy {
	p := &OriginPolicy{}
	p.Set(extra)
	return p
}

// Set replaces the configured origins. Built-in origins stay.
func (p *OriginPolicy) Set(extra []string) {
	all := make([]string, 0, len(builtinOrigins)+len(extra))
	all = append(all, builtinOrigins...)
	for _, o := range extra {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			all = append(all, strings.ToLower(o))
		}
	}
	p.patterns.Store(&all)
}

func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	for _, pat := range *p.patterns.Load() {
		if pat == "*" || pat == origin {
			return true
		}
		if strings.Contains(pat, "*") {
			if ok, _ := path.Match(pat, origin); ok {
				return true
			}
		}
	}
	return false
}

func (p *OriginPolicy) check(r *http.Request) bool {
	if p == nil {
		return true
	}
	return p.Allowed(r.Header.Get("Origin"))
}
