package config

// directive describes one entry of a block. Exactly one of value, list or
// parse is set; parse/write handle nested blocks and custom syntax. The order
// of a block's directive table is also the order fmt writes them in.
type directive struct {
	name  string
	value *Value
	list  *List
	parse func(p *parser, tok token) error
	write func(w *writer, name string)
}

func lookupDirective(dirs []directive, name string) (directive, bool) {
	for _, d := range dirs {
		if d.name == name {
			return d, true
		}
	}
	return directive{}, false
}

func (c *Config) directives() []directive {
	return []directive{
		topLevel("ingress", &c.Ingress, (*IngressBlock).directives),
		topLevel("checker", &c.Checker, (*CheckerBlock).directives),
		topLevel("browser", &c.Browser, (*BrowserBlock).directives),
		topLevel("preload", &c.Preload, (*PreloadBlock).directives),
		topLevel("journal", &c.Journal, (*JournalBlock).directives),
		topLevel("notify", &c.Notify, (*NotifyBlock).directives),
		topLevel("health_api", &c.HealthAPI, (*HealthAPIBlock).directives),
		topLevel("observability", &c.Observability, (*ObservabilityBlock).directives),
	}
}

// topLevel builds a directive for a nested `name { ... }` block stored behind
// a pointer field.
func topLevel[T any](name string, field **T, dirs func(*T) []directive) directive {
	return directive{
		name: name,
		parse: func(p *parser, tok token) error {
			if *field != nil {
				return p.errAt(tok.pos, "duplicate %s block", name)
			}
			b := new(T)
			if err := p.parseBlock(name, dirs(b)); err != nil {
				return err
			}
			*field = b
			return nil
		},
		write: func(w *writer, name string) {
			if *field != nil {
				w.block(name, dirs(*field))
			}
		},
	}
}

// shortOrBlock accepts either `name value` or `name { ... }`.
func shortOrBlock[T any](name string, short *Value, field **T, dirs func(*T) []directive) directive {
	nested := topLevel(name, field, dirs)
	return directive{
		name: name,
		parse: func(p *parser, tok token) error {
			next, err := p.peek()
			if err != nil {
				return err
			}
			if next.kind == tokLBrace {
				if short.Set {
					return p.errAt(tok.pos, "duplicate %s", name)
				}
				return nested.parse(p, tok)
			}
			if short.Set || *field != nil {
				return p.errAt(tok.pos, "duplicate %s", name)
			}
			return p.parseScalar(short)
		},
		write: func(w *writer, name string) {
			if short.Set {
				w.value(name, *short)
				return
			}
			nested.write(w, name)
		},
	}
}

func (b *IngressBlock) directives() []directive {
	return []directive{
		{name: "listen", value: &b.Listen},
		{name: "max_body", value: &b.MaxBody},
		{name: "allowed_origins", list: &b.AllowedOrigins},
		topLevel("rate_limit", &b.RateLimit, (*RateLimitBlock).directives),
	}
}

func (b *RateLimitBlock) directives() []directive {
	return []directive{
		{name: "rps", value: &b.RPS},
		{name: "burst", value: &b.Burst},
	}
}

func (b *CheckerBlock) directives() []directive {
	return []directive{
		{name: "url", value: &b.URL},
		{name: "timeout", value: &b.Timeout},
	}
}

func (b *BrowserBlock) directives() []directive {
	return []directive{
		{name: "remote_url", value: &b.RemoteURL},
		{name: "exec_path", value: &b.ExecPath},
		{name: "user_data_dir", value: &b.UserDataDir},
		{name: "headless", value: &b.Headless},
		{name: "flags", list: &b.Flags},
		{name: "embed_url", value: &b.EmbedURL},
		{name: "watch_url", value: &b.WatchURL},
		{name: "start_timeout", value: &b.StartTimeout},
	}
}

func (b *PreloadBlock) directives() []directive {
	return []directive{
		{name: "concurrency", value: &b.Concurrency},
		{name: "max_retries", value: &b.MaxRetries},
		{name: "retry_delay", value: &b.RetryDelay},
		{name: "strategies", list: &b.Strategies},
		topLevel("hidden_frame", &b.HiddenFrame, (*HiddenFrameBlock).directives),
		topLevel("background_tab", &b.BackgroundTab, (*BackgroundTabBlock).directives),
	}
}

func (b *HiddenFrameBlock) directives() []directive {
	return []directive{
		{name: "load_timeout", value: &b.LoadTimeout},
		{name: "settle", value: &b.Settle},
	}
}

func (b *BackgroundTabBlock) directives() []directive {
	return []directive{
		{name: "settle", value: &b.Settle},
		{name: "timeout", value: &b.Timeout},
		{name: "max_tabs", value: &b.MaxTabs},
	}
}

func (b *JournalBlock) directives() []directive {
	return []directive{
		{name: "backend", value: &b.Backend},
		{name: "path", value: &b.Path},
		{name: "dsn", value: &b.DSN},
		{name: "retention", value: &b.Retention},
		{name: "prune_interval", value: &b.PruneInterval},
		{name: "max_entries", value: &b.MaxEntries},
	}
}

func (b *NotifyBlock) directives() []directive {
	return []directive{
		{name: "redis_url", value: &b.RedisURL},
		{name: "password", value: &b.Password},
		{name: "channel", value: &b.Channel},
		{name: "stream", value: &b.Stream},
		{name: "stream_max_len", value: &b.StreamMaxLen},
	}
}

func (b *HealthAPIBlock) directives() []directive {
	return []directive{
		{name: "listen", value: &b.Listen},
	}
}

func (b *ObservabilityBlock) directives() []directive {
	return []directive{
		shortOrBlock("runtime_log", &b.RuntimeLogShort, &b.RuntimeLog, (*RuntimeLogBlock).directives),
		shortOrBlock("access_log", &b.AccessLogShort, &b.AccessLog, (*AccessLogBlock).directives),
		shortOrBlock("metrics", &b.MetricsShort, &b.Metrics, (*MetricsBlock).directives),
		shortOrBlock("tracing", &b.TracingShort, &b.Tracing, (*TracingBlock).directives),
	}
}

func (b *RuntimeLogBlock) directives() []directive {
	return []directive{
		{name: "level", value: &b.Level},
		{name: "output", value: &b.Output},
		{name: "path", value: &b.Path},
	}
}

func (b *AccessLogBlock) directives() []directive {
	return []directive{
		{name: "enabled", value: &b.Enabled},
		{name: "output", value: &b.Output},
		{name: "path", value: &b.Path},
	}
}

func (b *MetricsBlock) directives() []directive {
	return []directive{
		{name: "enabled", value: &b.Enabled},
		{name: "listen", value: &b.Listen},
		{name: "path", value: &b.Path},
	}
}

func (b *TracingBlock) directives() []directive {
	return []directive{
		{name: "enabled", value: &b.Enabled},
		{name: "collector", value: &b.Collector},
		{name: "url_path", value: &b.URLPath},
		{name: "timeout", value: &b.Timeout},
		{name: "compression", value: &b.Compression},
		{name: "insecure", value: &b.Insecure},
		{name: "proxy_url", value: &b.ProxyURL},
		topLevel("tls", &b.TLS, (*TracingTLSBlock).directives),
		{
			// header <name> <value>; repeatable
			name: "header",
			parse: func(p *parser, tok token) error {
				var h TracingHeader
				if err := p.parseScalar(&h.Name); err != nil {
					return err
				}
				if err := p.parseScalar(&h.Value); err != nil {
					return err
				}
				b.Headers = append(b.Headers, h)
				return nil
			},
			write: func(w *writer, name string) {
				for _, h := range b.Headers {
					w.line(name, formatValue(h.Name), formatValue(h.Value))
				}
			},
		},
	}
}

func (b *TracingTLSBlock) directives() []directive {
	return []directive{
		{name: "ca_file", value: &b.CAFile},
		{name: "cert_file", value: &b.CertFile},
		{name: "key_file", value: &b.KeyFile},
		{name: "server_name", value: &b.ServerName},
		{name: "insecure_skip_verify", value: &b.InsecureSkipVerify},
	}
}
