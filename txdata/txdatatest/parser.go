package txdatatest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata"
)

// Parser accepts a small, edn-flavored transaction-data grammar:
//
//	[[:db/add "alice" :person/name "Alice"]
//	 [:db/add "alice" :person/age 34]
//	 {:db/ident :person/name :db/valueType :db.type/string :db/cardinality :db.cardinality/one}]
//
// Each top-level form is either a `:db/add` vector (an entity, attribute
// ident, and literal value) or a map form that installs a new attribute.
// The entity position of a `:db/add` vector is a quoted string (a tempid)
// or a bare integer (an already-allocated entid). Values are typed by
// their literal syntax (quoted string, keyword, integer, float, or
// true/false); Transactor decides how to interpret a literal against the
// target attribute's declared value type, which is what lets a tempid or
// entid literal serve as a reference value.
type Parser struct{}

// NewParser returns a ready Parser.
func NewParser() *Parser { return &Parser{} }

func (Parser) Parse(text string) ([]txdata.Entity, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("txdatatest: %w", err)
	}
	p := &parseState{toks: toks}

	p.expect(tokLBracket)
	var entities []txdata.Entity
	for !p.at(tokRBracket) {
		es, err := p.parseForm()
		if err != nil {
			return nil, fmt.Errorf("txdatatest: %w", err)
		}
		entities = append(entities, es...)
	}
	p.expect(tokRBracket)
	if !p.atEOF() {
		return nil, shapeErr(fmt.Errorf("txdatatest: trailing input after top-level form"))
	}
	return entities, p.err
}

type tokKind int

const (
	tokLBracket tokKind = iota
	tokRBracket
	tokLBrace
	tokRBrace
	tokKeyword
	tokString
	tokNumber
	tokSymbol
	tokEOF
)

type token struct {
	kind tokKind
	text string
}

type parseState struct {
	toks []token
	pos  int
	err  error
}

func (p *parseState) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parseState) at(k tokKind) bool { return p.peek().kind == k }
func (p *parseState) atEOF() bool       { return p.peek().kind == tokEOF }

func (p *parseState) advance() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

// shapeErr wraps err as a txdata.ShapeError: the tokens encountered are
// real EDN, just not in a shape this grammar recognizes as a transaction.
func shapeErr(err error) error {
	return &txdata.ShapeError{Cause: err}
}

// expect consumes the next token, which must have kind k. Running out of
// tokens mid-form is malformed EDN (an unbalanced/incomplete form); a
// present token of the wrong kind is a recognized-but-invalid shape.
func (p *parseState) expect(k tokKind) token {
	t := p.advance()
	if t.kind != k && p.err == nil {
		if t.kind == tokEOF {
			p.err = fmt.Errorf("unexpected end of input, wanted a %v", k)
		} else {
			p.err = shapeErr(fmt.Errorf("unexpected token %q", t.text))
		}
	}
	return t
}

// parseForm parses one top-level form, returning zero or more entities:
// a `:db/add` vector yields exactly one, a map form yields one entity per
// key/value pair (all sharing the same Ref, a fresh tempid) so the
// Transactor sees a uniform entity stream for schema installation too.
func (p *parseState) parseForm() ([]txdata.Entity, error) {
	switch p.peek().kind {
	case tokLBracket:
		return p.parseAddVector()
	case tokLBrace:
		return p.parseMapForm()
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of input, expected '[' or '{' at top level")
	default:
		return nil, shapeErr(fmt.Errorf("expected '[' or '{' at top level, got %q", p.peek().text))
	}
}

func (p *parseState) parseAddVector() ([]txdata.Entity, error) {
	p.expect(tokLBracket)
	kw := p.expect(tokKeyword)
	if kw.text != ":db/add" {
		return nil, shapeErr(fmt.Errorf("only :db/add vectors are supported, got %q", kw.text))
	}

	ref, err := p.parseEntityRef()
	if err != nil {
		return nil, err
	}

	attrTok := p.expect(tokKeyword)
	ident, err := schema.ParseIdent(attrTok.text)
	if err != nil {
		return nil, shapeErr(err)
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	p.expect(tokRBracket)
	return []txdata.Entity{{Ref: ref, Attribute: ident, Value: value}}, nil
}

func (p *parseState) parseMapForm() ([]txdata.Entity, error) {
	p.expect(tokLBrace)

	ref := txdata.EntityRef{TempID: fmt.Sprintf("$schema-tempid-%d", p.pos), IsTempID: true}
	var entities []txdata.Entity
	for !p.at(tokRBrace) {
		attrTok := p.expect(tokKeyword)
		ident, err := schema.ParseIdent(attrTok.text)
		if err != nil {
			return nil, shapeErr(err)
		}
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		entities = append(entities, txdata.Entity{Ref: ref, Attribute: ident, Value: value})
	}
	p.expect(tokRBrace)
	return entities, nil
}

func (p *parseState) parseEntityRef() (txdata.EntityRef, error) {
	t := p.advance()
	switch t.kind {
	case tokString:
		return txdata.EntityRef{TempID: t.text, IsTempID: true}, nil
	case tokNumber:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return txdata.EntityRef{}, shapeErr(fmt.Errorf("invalid entid %q: %w", t.text, err))
		}
		return txdata.EntityRef{Entid: schema.Entid(n)}, nil
	case tokEOF:
		return txdata.EntityRef{}, fmt.Errorf("unexpected end of input, expected a tempid string or entid")
	default:
		return txdata.EntityRef{}, shapeErr(fmt.Errorf("expected a tempid string or entid, got %q", t.text))
	}
}

func (p *parseState) parseValue() (schema.Value, error) {
	t := p.advance()
	switch t.kind {
	case tokString:
		return schema.NewString(t.text), nil
	case tokKeyword:
		ident, err := schema.ParseIdent(t.text)
		if err != nil {
			return schema.Value{}, shapeErr(err)
		}
		return schema.NewKeyword(ident), nil
	case tokNumber:
		if strings.ContainsAny(t.text, ".eE") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return schema.Value{}, shapeErr(fmt.Errorf("invalid number %q: %w", t.text, err))
			}
			return schema.NewDouble(f), nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return schema.Value{}, shapeErr(fmt.Errorf("invalid number %q: %w", t.text, err))
		}
		return schema.NewLong(n), nil
	case tokSymbol:
		switch t.text {
		case "true":
			return schema.NewBoolean(true), nil
		case "false":
			return schema.NewBoolean(false), nil
		}
		return schema.Value{}, shapeErr(fmt.Errorf("unrecognized symbol %q", t.text))
	case tokEOF:
		return schema.Value{}, fmt.Errorf("unexpected end of input, expected a value")
	default:
		return schema.Value{}, shapeErr(fmt.Errorf("expected a value, got %q", t.text))
	}
}

func tokenize(text string) ([]token, error) {
	var toks []token
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r) || r == ',':
			i++
		case r == '[':
			toks = append(toks, token{kind: tokLBracket, text: "["})
			i++
		case r == ']':
			toks = append(toks, token{kind: tokRBracket, text: "]"})
			i++
		case r == '{':
			toks = append(toks, token{kind: tokLBrace, text: "{"})
			i++
		case r == '}':
			toks = append(toks, token{kind: tokRBrace, text: "}"})
			i++
		case r == ':':
			j := i + 1
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			toks = append(toks, token{kind: tokKeyword, text: string(runes[i:j])})
			i = j
		case r == '"':
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != '"' {
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j + 1
		case r == '-' || r == '+' || unicode.IsDigit(r):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' || runes[j] == 'E' || runes[j] == '-' || runes[j] == '+') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(runes[i:j])})
			i = j
		case unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			toks = append(toks, token{kind: tokSymbol, text: string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' || r == '.' || r == '-' || r == '_' || r == '?' || r == '!' || r == '*'
}
