package config

import "testing"

func FuzzParseFormatRoundTrip(f *testing.F) {
	f.Add([]byte(`preload { concurrency 3 }`))
	f.Add([]byte(`
# Subwarmfile
ingress { listen :3100 allowed_origins "chrome-extension://*" }
preload {
  strategies direct_api hidden_frame
  hidden_frame { settle 2s }
}
`))
	f.Add([]byte(`
observability {
  runtime_log debug
  tracing {
    collector {$OTEL_URL:http://localhost:4318}
    header "X-Key" {file./run/secrets/otel}
  }
}
`))

	f.Fuzz(func(t *testing.T, input []byte) {
		cfg, err := Parse(input)
		if err != nil {
			return
		}

		formatted, err := Format(cfg)
		if err != nil {
			t.Fatalf("format parsed config: %v", err)
		}

		cfg2, err := Parse(formatted)
		if err != nil {
			t.Fatalf("parse formatted config: %v\nformatted:\n%s", err, string(formatted))
		}

		if _, err := Format(cfg2); err != nil {
			t.Fatalf("format re-parsed config: %v", err)
		}

		_ = ValidateWithResult(cfg2)
	})
}
