package expr

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"

	"github.com/cockroachdb/errors"
)

var (
	ruleRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\[([^\]]*)\]\(([^)]*)\):-(.+)$`)
	goalRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\(([^)]*)\)$`)
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Parse reads a rule of the form
//
//	Name[b1,b2](f1,f2) :- Rel1(sym,...); Rel2(sym,...)
//
// Whitespace is ignored. Symbols prefixed str_ or int_ are constants; any other
// identifier is a variable. Fresh variable ids come from ids.
func Parse(text string, cat *catalog.Catalog, ids *common.IDAllocator) (*Expression, error) {
	src := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	src = strings.TrimSuffix(src, ";")
	m := ruleRe.FindStringSubmatch(src)
	if m == nil {
		return nil, errors.Newf("syntax: expected Name[bound](free) :- Rel(args); ... in %q", text)
	}
	name := m[1]

	p := &parser{cat: cat, ids: ids, vars: make(map[string]int), names: make(map[int]string)}
	bound, err := p.headList(m[2])
	if err != nil {
		return nil, errors.Wrapf(err, "%s: bound head", name)
	}
	free, err := p.headList(m[3])
	if err != nil {
		return nil, errors.Wrapf(err, "%s: free head", name)
	}

	var goals []Goal
	for _, part := range strings.Split(m[4], ";") {
		if part == "" {
			continue
		}
		g, err := p.goal(part)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", name)
		}
		goals = append(goals, g)
	}
	return build(name, goals, bound, free, p.names)
}

// MustParse is Parse for inputs that are known to be well formed; a malformed
// rule is a programming error.
func MustParse(text string, cat *catalog.Catalog, ids *common.IDAllocator) *Expression {
	e, err := Parse(text, cat, ids)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "parse"))
	}
	return e
}

type parser struct {
	cat   *catalog.Catalog
	ids   *common.IDAllocator
	vars  map[string]int
	names map[int]string
}

func (p *parser) variable(name string) (int, error) {
	if !identRe.MatchString(name) {
		return 0, errors.Newf("invalid identifier %q", name)
	}
	if v, ok := p.vars[name]; ok {
		return v, nil
	}
	v := p.ids.Next()
	p.vars[name] = v
	p.names[v] = name
	return v, nil
}

func (p *parser) headList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, tok := range strings.Split(s, ",") {
		if isConstToken(tok) {
			return nil, errors.Newf("constant %s in head", tok)
		}
		v, err := p.variable(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *parser) goal(s string) (Goal, error) {
	m := goalRe.FindStringSubmatch(s)
	if m == nil {
		return Goal{}, errors.Newf("malformed goal %q", s)
	}
	rel, ok := p.cat.Lookup(m[1])
	if !ok {
		return Goal{}, errors.Newf("unknown relation %s", m[1])
	}
	var args []Symbol
	if m[2] != "" {
		for _, tok := range strings.Split(m[2], ",") {
			sym, err := p.symbol(tok)
			if err != nil {
				return Goal{}, errors.Wrapf(err, "goal %s", s)
			}
			args = append(args, sym)
		}
	}
	return Goal{Rel: rel, Args: args}, nil
}

func (p *parser) symbol(tok string) (Symbol, error) {
	switch {
	case strings.HasPrefix(tok, "str_"):
		return ConstSym(common.NewString(strings.TrimPrefix(tok, "str_"))), nil
	case strings.HasPrefix(tok, "int_"):
		n, err := strconv.ParseInt(strings.TrimPrefix(tok, "int_"), 10, 64)
		if err != nil {
			return Symbol{}, errors.Newf("invalid integer constant %s", tok)
		}
		return ConstSym(common.NewInt(n)), nil
	}
	v, err := p.variable(tok)
	if err != nil {
		return Symbol{}, err
	}
	return VarSym(v), nil
}

func isConstToken(tok string) bool {
	return strings.HasPrefix(tok, "str_") || strings.HasPrefix(tok, "int_")
}
