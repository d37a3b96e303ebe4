package policy

import "fmt"

// expr is a parsed principal rule expression node.
type expr interface {
	matches(session Session) (bool, error)
}

type orExpr struct{ terms []expr }

func (e *orExpr) matches(session Session) (bool, error) {
	for _, term := range e.terms {
		ok, err := term.matches(session)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type andExpr struct{ terms []expr }

func (e *andExpr) matches(session Session) (bool, error) {
	for _, term := range e.terms {
		ok, err := term.matches(session)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// unaryExpr is a single "thingName: ident" clause.
type unaryExpr struct{ pattern string }

func (e *unaryExpr) matches(session Session) (bool, error) {
	thingName, ok := session.Attribute("Thing", "ThingName")
	if !ok {
		return false, fmt.Errorf("session has no Thing.ThingName attribute")
	}
	return matchIdent(e.pattern, thingName), nil
}

type parser struct {
	tokens []token
	pos    int
}

func parse(input string) (expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected trailing input at token %d", p.pos)
	}
	return node, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []expr{first}
	for p.peek().kind == tokenOr {
		p.advance()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &orExpr{terms: terms}, nil
}

func (p *parser) parseAnd() (expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []expr{first}
	for p.peek().kind == tokenAnd {
		p.advance()
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &andExpr{terms: terms}, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().kind != tokenThingName {
		return nil, fmt.Errorf("expected 'thingName' at token %d", p.pos)
	}
	p.advance()

	if p.peek().kind != tokenColon {
		return nil, fmt.Errorf("expected ':' after 'thingName' at token %d", p.pos)
	}
	p.advance()

	if p.peek().kind != tokenIdent {
		return nil, fmt.Errorf("expected ident after 'thingName:' at token %d", p.pos)
	}
	ident := p.advance()
	return &unaryExpr{pattern: ident.value}, nil
}
