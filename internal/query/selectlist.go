package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/schema"
)

// Function names accepted in a select list.
var (
	aggregateFuncs = map[string]bool{"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true}
	rankingFuncs   = map[string]bool{"ROW_NUMBER": true, "RANK": true, "DENSE_RANK": true}
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokLParen
	tokRParen
	tokComma
	tokStar
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9', c == '.':
		return !first
	}
	return false
}

func tokenize(key, src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case isIdentByte(c, true):
			start := i
			for i < len(src) && isIdentByte(src[i], false) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			return nil, errors.NewMalformedValue(key, src, fmt.Sprintf("unexpected character %q at position %d", c, i))
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

// resolveFunc resolves a field name named by the given parameter key.
type resolveFunc func(key, name string) (*schema.Field, error)

// selectParser is a recursive-descent parser over a tokenized list.
//
//	list      = item { "," item }
//	item      = ( distinct | aggregate | ranking | field ) [ "AS" alias ]
//	distinct  = "DISTINCT" "(" field ")"
//	aggregate = AGG "(" ( "*" | "DISTINCT" ( "(" field ")" | field ) | field ) ")" [ over ]
//	ranking   = RANK "(" ")" over
//	over      = "OVER" "(" [ "PARTITION" "BY" field { "," field } ] [ "ORDER" "BY" order { "," order } ] ")"
//	order     = field [ "ASC" | "DESC" ]
type selectParser struct {
	key     string
	src     string
	toks    []token
	pos     int
	resolve resolveFunc
}

func parseSelect(key, src string, resolve resolveFunc) ([]Item, error) {
	toks, err := tokenize(key, src)
	if err != nil {
		return nil, err
	}
	p := &selectParser{key: key, src: src, toks: toks, resolve: resolve}
	return p.list()
}

func (p *selectParser) peek() token { return p.toks[p.pos] }

func (p *selectParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *selectParser) errorf(format string, args ...interface{}) error {
	return errors.NewMalformedValue(p.key, p.src, fmt.Sprintf(format, args...))
}

func (p *selectParser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		if kind == tokRParen && t.kind == tokEOF {
			return t, p.errorf("unbalanced parentheses: missing %s", what)
		}
		return t, p.errorf("expected %s, found %s at position %d", what, t, t.pos)
	}
	return t, nil
}

func (p *selectParser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *selectParser) list() ([]Item, error) {
	if p.peek().kind == tokEOF {
		return nil, p.errorf("select list is empty")
	}
	var items []Item
	for {
		item, err := p.item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		switch t := p.next(); t.kind {
		case tokEOF:
			return items, nil
		case tokComma:
		case tokRParen:
			return nil, p.errorf("unbalanced parentheses: unexpected ) at position %d", t.pos)
		default:
			return nil, p.errorf("expected , or end of input, found %s at position %d", t, t.pos)
		}
	}
}

func (p *selectParser) item() (Item, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return Item{}, p.errorf("expected a field or function, found %s at position %d", t, t.pos)
	}

	var item Item
	var err error
	name := strings.ToUpper(t.text)
	isCall := p.toks[p.pos+1].kind == tokLParen

	switch {
	case isCall && name == "DISTINCT":
		item, err = p.distinct()
	case isCall && aggregateFuncs[name]:
		item, err = p.aggregate(name)
	case isCall && rankingFuncs[name]:
		item, err = p.ranking(name)
	case isCall:
		return Item{}, p.errorf("unknown function %s", t.text)
	default:
		p.next()
		var ref Ref
		ref, err = p.ref(t)
		item = Item{Kind: KindColumn, Arg: &ref}
	}
	if err != nil {
		return Item{}, err
	}
	return p.alias(item)
}

func (p *selectParser) ref(t token) (Ref, error) {
	f, err := p.resolve(p.key, t.text)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Key: p.key, Name: t.text, Field: f}, nil
}

func (p *selectParser) field() (Ref, error) {
	t, err := p.expect(tokIdent, "a field name")
	if err != nil {
		return Ref{}, err
	}
	return p.ref(t)
}

func (p *selectParser) distinct() (Item, error) {
	p.next()
	p.next()
	ref, err := p.field()
	if err != nil {
		return Item{}, err
	}
	if _, err := p.expect(tokRParen, ") after DISTINCT field"); err != nil {
		return Item{}, err
	}
	return Item{Kind: KindDistinct, Arg: &ref}, nil
}

func (p *selectParser) aggregate(fn string) (Item, error) {
	p.next()
	p.next()
	item := Item{Kind: KindAggregate, Func: fn}

	switch {
	case p.peek().kind == tokStar:
		if fn != "COUNT" {
			return Item{}, p.errorf("%s(*) is not supported, only COUNT(*)", fn)
		}
		p.next()
	case p.keyword("DISTINCT"):
		if fn != "COUNT" {
			return Item{}, p.errorf("DISTINCT is only supported inside COUNT")
		}
		item.Distinct = true
		wrapped := p.peek().kind == tokLParen
		if wrapped {
			p.next()
		}
		ref, err := p.field()
		if err != nil {
			return Item{}, err
		}
		item.Arg = &ref
		if wrapped {
			if _, err := p.expect(tokRParen, ") after DISTINCT field"); err != nil {
				return Item{}, err
			}
		}
	default:
		ref, err := p.field()
		if err != nil {
			return Item{}, err
		}
		item.Arg = &ref
	}
	if _, err := p.expect(tokRParen, ") closing "+fn); err != nil {
		return Item{}, err
	}

	if p.keyword("OVER") {
		if item.Distinct {
			return Item{}, p.errorf("COUNT(DISTINCT ...) cannot be used as a window")
		}
		item.Kind = KindWindow
		if err := p.over(&item); err != nil {
			return Item{}, err
		}
	}
	return item, nil
}

func (p *selectParser) ranking(fn string) (Item, error) {
	p.next()
	p.next()
	if _, err := p.expect(tokRParen, ") after "+fn+"("); err != nil {
		return Item{}, err
	}
	if !p.keyword("OVER") {
		return Item{}, p.errorf("%s() requires an OVER clause", fn)
	}
	item := Item{Kind: KindWindow, Func: fn}
	if err := p.over(&item); err != nil {
		return Item{}, err
	}
	if len(item.WindowOrder) == 0 {
		return Item{}, p.errorf("%s() requires ORDER BY inside OVER", fn)
	}
	return item, nil
}

func (p *selectParser) over(item *Item) error {
	if _, err := p.expect(tokLParen, "( after OVER"); err != nil {
		return err
	}
	if p.keyword("PARTITION") {
		if !p.keyword("BY") {
			return p.errorf("expected BY after PARTITION")
		}
		for {
			ref, err := p.field()
			if err != nil {
				return err
			}
			item.Partition = append(item.Partition, ref)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.keyword("ORDER") {
		if !p.keyword("BY") {
			return p.errorf("expected BY after ORDER")
		}
		for {
			ref, err := p.field()
			if err != nil {
				return err
			}
			term := OrderTerm{Ref: ref}
			if p.keyword("DESC") {
				term.Desc = true
			} else {
				p.keyword("ASC")
			}
			item.WindowOrder = append(item.WindowOrder, term)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	_, err := p.expect(tokRParen, ") closing OVER")
	return err
}

func (p *selectParser) alias(item Item) (Item, error) {
	if p.keyword("AS") {
		t, err := p.expect(tokIdent, "an alias after AS")
		if err != nil {
			return Item{}, err
		}
		if !aliasPattern.MatchString(t.text) {
			return Item{}, p.errorf("invalid alias %q", t.text)
		}
		item.Alias = t.text
		item.ExplicitAlias = true
		return item, nil
	}
	item.Alias = defaultAlias(item)
	return item, nil
}

func defaultAlias(item Item) string {
	arg := ""
	if item.Arg != nil {
		arg = strings.ReplaceAll(item.Arg.Name, ".", "_")
	}
	switch item.Kind {
	case KindColumn, KindDistinct:
		return arg
	}
	fn := strings.ToLower(item.Func)
	switch {
	case arg == "":
		return fn
	case item.Distinct:
		return fn + "_distinct_" + arg
	default:
		return fn + "_" + arg
	}
}
