package config

import (
	"fmt"
)

type parser struct {
	lex     *lexer
	peeked  token
	hasPeek bool
}

func newParser(src string) *parser {
	return &parser{lex: newLexer(src)}
}

func (p *parser) parse() (*Config, error) {
	cfg := &Config{}
	dirs := cfg.directives()

	var sawStmt bool
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			if !sawStmt {
				cfg.Preamble = append(cfg.Preamble, tok.text)
			}
			continue
		}

		sawStmt = true
		if tok.kind != tokIdent {
			return nil, p.errAt(tok.pos, "unexpected token %q", tok.text)
		}
		nameTok, _ := p.next()
		d, ok := lookupDirective(dirs, nameTok.text)
		if !ok {
			return nil, p.errAt(nameTok.pos, "unknown top-level block %q", nameTok.text)
		}
		if err := d.parse(p, nameTok); err != nil {
			return nil, err
		}
	}

	if !sawStmt {
		return nil, nil
	}
	return cfg, nil
}

// parseBlock reads `{ directive... }` for the named block.
func (p *parser) parseBlock(name string, dirs []directive) error {
	if _, err := p.expect(tokLBrace, "expected '{' after %s", name); err != nil {
		return err
	}

	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		if tok.kind == tokEOF {
			return p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			return nil
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return p.errAt(dirTok.pos, "expected directive name")
		}
		d, ok := lookupDirective(dirs, dirTok.text)
		if !ok {
			return p.errAt(dirTok.pos, "unknown %s directive %q", name, dirTok.text)
		}

		switch {
		case d.parse != nil:
			err = d.parse(p, dirTok)
		case d.list != nil:
			if d.list.Set {
				return p.errAt(dirTok.pos, "duplicate %s %s", name, dirTok.text)
			}
			err = p.parseList(dirTok, d.list)
		default:
			if d.value.Set {
				return p.errAt(dirTok.pos, "duplicate %s %s", name, dirTok.text)
			}
			err = p.parseScalar(d.value)
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) parseScalar(dst *Value) error {
	v, quoted, err := p.parseValue()
	if err != nil {
		return err
	}
	*dst = Value{Raw: v, Quoted: quoted, Set: true}
	return nil
}

// parseList reads one or more values on the same line as the directive.
func (p *parser) parseList(dirTok token, dst *List) error {
	out := List{Set: true}
	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		if (tok.kind != tokIdent && tok.kind != tokString) || tok.pos.line != dirTok.pos.line {
			break
		}
		_, _ = p.next()
		out.Items = append(out.Items, Value{Raw: tok.text, Quoted: tok.kind == tokString, Set: true})
	}
	if len(out.Items) == 0 {
		return p.errAt(dirTok.pos, "%s requires at least one value", dirTok.text)
	}
	*dst = out
	return nil
}

func (p *parser) parseValue() (string, bool, error) {
	tok, err := p.next()
	if err != nil {
		return "", false, err
	}
	switch tok.kind {
	case tokString, tokIdent:
		return tok.text, tok.kind == tokString, nil
	default:
		return "", false, p.errAt(tok.pos, "expected value")
	}
}

func (p *parser) peek() (token, error) {
	if p.hasPeek {
		return p.peeked, nil
	}
	tok, err := p.lex.nextToken()
	if err != nil {
		return token{}, err
	}
	p.peeked = tok
	p.hasPeek = true
	return tok, nil
}

func (p *parser) next() (token, error) {
	if p.hasPeek {
		p.hasPeek = false
		return p.peeked, nil
	}
	return p.lex.nextToken()
}

func (p *parser) expect(kind tokenKind, msg string, args ...any) (token, error) {
	tok, err := p.next()
	if err != nil {
		return token{}, err
	}
	if tok.kind != kind {
		return token{}, p.errAt(tok.pos, msg, args...)
	}
	return tok, nil
}

func (p *parser) errAt(pos position, format string, args ...any) error {
	return fmt.Errorf("config parse error at %s: %s", pos, fmt.Sprintf(format, args...))
}
