// Package hql - recursive-descent parser.
package hql

import (
	"fmt"
	"strconv"
)

// Parse lexes and parses one HQL source unit. On failure the returned
// error is a *CompileError carrying span diagnostics.
func Parse(src string) (*Source, error) {
	toks, err := newLexer(src).tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	source := p.parseSource()
	if p.diags.hasFatal() {
		return nil, &CompileError{Diagnostics: p.diags.list}
	}
	return source, nil
}

type parser struct {
	toks  []token
	pos   int
	diags diagnostics
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.advance(); return t }

func (p *parser) advance() {
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
}

func (p *parser) at(kind tokenKind) bool { return p.cur().kind == kind }

func (p *parser) atIdent(text string) bool {
	return p.cur().kind == tokIdent && p.cur().text == text
}

func (p *parser) accept(kind tokenKind) (token, bool) {
	if p.at(kind) {
		return p.next(), true
	}
	return token{}, false
}

func (p *parser) expect(kind tokenKind) (token, bool) {
	if p.at(kind) {
		return p.next(), true
	}
	p.diags.fatalf(p.cur().span, "expected %v, found %v", kind, p.describeCur())
	return p.cur(), false
}

func (p *parser) expectIdent() (token, bool) {
	if p.at(tokIdent) {
		t := p.next()
		if reservedWords[t.text] {
			p.diags.fatalf(t.span, "%q is reserved and cannot be used as an identifier", t.text)
			return t, false
		}
		return t, true
	}
	p.diags.fatalf(p.cur().span, "expected identifier, found %v", p.describeCur())
	return p.cur(), false
}

func (p *parser) expectKeyword(word string) bool {
	if p.atIdent(word) {
		p.advance()
		return true
	}
	p.diags.fatalf(p.cur().span, "expected %q, found %v", word, p.describeCur())
	return false
}

func (p *parser) describeCur() string {
	t := p.cur()
	if t.kind == tokIdent {
		return fmt.Sprintf("%q", t.text)
	}
	return t.kind.String()
}

// sync skips tokens until a plausible top-level anchor, so one bad
// declaration does not cascade.
func (p *parser) sync() {
	for !p.at(tokEOF) {
		if p.atIdent("QUERY") || p.atIdent("N") || p.atIdent("E") || p.atIdent("V") {
			return
		}
		p.advance()
	}
}

func (p *parser) parseSource() *Source {
	src := &Source{}
	for !p.at(tokEOF) {
		switch {
		case p.atIdent("N"):
			if decl, ok := p.parseNodeDecl(); ok {
				src.Nodes = append(src.Nodes, decl)
			} else {
				p.sync()
			}
		case p.atIdent("E"):
			if decl, ok := p.parseEdgeDecl(); ok {
				src.Edges = append(src.Edges, decl)
			} else {
				p.sync()
			}
		case p.atIdent("V"):
			if decl, ok := p.parseVectorDecl(); ok {
				src.Vectors = append(src.Vectors, decl)
			} else {
				p.sync()
			}
		case p.atIdent("QUERY"):
			if decl, ok := p.parseQueryDecl(); ok {
				src.Queries = append(src.Queries, decl)
			} else {
				p.sync()
			}
		default:
			p.diags.fatalf(p.cur().span, "expected a schema declaration or QUERY, found %v", p.describeCur())
			p.sync()
			if p.at(tokEOF) {
				return src
			}
		}
	}
	return src
}

func (p *parser) parseNodeDecl() (NodeDecl, bool) {
	start := p.next() // N
	if _, ok := p.expect(tokColonColon); !ok {
		return NodeDecl{}, false
	}
	name, ok := p.expectIdent()
	if !ok {
		return NodeDecl{}, false
	}
	fields, ok := p.parseFieldBlock(nil)
	if !ok {
		return NodeDecl{}, false
	}
	return NodeDecl{Name: name.text, Fields: fields, Span: start.span}, true
}

func (p *parser) parseEdgeDecl() (EdgeDecl, bool) {
	start := p.next() // E
	if _, ok := p.expect(tokColonColon); !ok {
		return EdgeDecl{}, false
	}
	name, ok := p.expectIdent()
	if !ok {
		return EdgeDecl{}, false
	}
	decl := EdgeDecl{Name: name.text, Span: start.span}
	if p.atIdent("UNIQUE") {
		p.advance()
		decl.Unique = true
	}
	special := map[string]func(FieldDecl){
		"From": func(f FieldDecl) { decl.From = f.TypeName },
		"To":   func(f FieldDecl) { decl.To = f.TypeName },
	}
	fields, ok := p.parseFieldBlock(special)
	if !ok {
		return EdgeDecl{}, false
	}
	decl.Fields = fields
	if decl.From == "" || decl.To == "" {
		p.diags.fatalf(start.span, "edge %q must declare From and To", decl.Name)
		return EdgeDecl{}, false
	}
	return decl, true
}

func (p *parser) parseVectorDecl() (VectorDecl, bool) {
	start := p.next() // V
	if _, ok := p.expect(tokColonColon); !ok {
		return VectorDecl{}, false
	}
	name, ok := p.expectIdent()
	if !ok {
		return VectorDecl{}, false
	}
	decl := VectorDecl{Name: name.text, Span: start.span}
	special := map[string]func(FieldDecl){
		"Dim": func(f FieldDecl) {
			if n, err := strconv.Atoi(f.TypeName); err == nil {
				decl.Dim = n
			} else {
				p.diags.fatalf(f.Span, "Dim must be an integer, found %q", f.TypeName)
			}
		},
		"Precision": func(f FieldDecl) { decl.Precision = f.TypeName },
	}
	fields, ok := p.parseFieldBlock(special)
	if !ok {
		return VectorDecl{}, false
	}
	decl.Fields = fields
	if decl.Dim == 0 {
		p.diags.fatalf(start.span, "vector %q must declare Dim", decl.Name)
		return VectorDecl{}, false
	}
	return decl, true
}

// parseFieldBlock reads "{ [INDEX [UNIQUE]] name: Type, ... }". Entries
// whose name appears in special are routed there instead of the field
// list; their "type" position may hold an integer (Dim).
func (p *parser) parseFieldBlock(special map[string]func(FieldDecl)) ([]FieldDecl, bool) {
	if _, ok := p.expect(tokLBrace); !ok {
		return nil, false
	}
	var fields []FieldDecl
	for !p.at(tokRBrace) && !p.at(tokEOF) {
		var f FieldDecl
		if p.atIdent("INDEX") {
			p.advance()
			f.Indexed = true
			if p.atIdent("UNIQUE") {
				p.advance()
				f.Unique = true
			}
		}
		name := p.cur()
		if name.kind != tokIdent {
			p.diags.fatalf(name.span, "expected field name, found %v", p.describeCur())
			return nil, false
		}
		handler := special[name.text]
		if handler == nil && reservedWords[name.text] {
			p.diags.fatalf(name.span, "%q is reserved and cannot be used as a field name", name.text)
			return nil, false
		}
		p.advance()
		f.Name = name.text
		f.Span = name.span
		if _, ok := p.expect(tokColon); !ok {
			return nil, false
		}
		typeName, ok := p.parseTypeName()
		if !ok {
			return nil, false
		}
		f.TypeName = typeName

		if handler != nil {
			handler(f)
		} else {
			fields = append(fields, f)
		}
		if _, ok := p.accept(tokComma); !ok {
			break
		}
	}
	_, ok := p.expect(tokRBrace)
	return fields, ok
}

func (p *parser) parseTypeName() (string, bool) {
	if _, ok := p.accept(tokLBracket); ok {
		inner, ok := p.parseTypeName()
		if !ok {
			return "", false
		}
		if _, ok := p.expect(tokRBracket); !ok {
			return "", false
		}
		return "[" + inner + "]", true
	}
	if p.at(tokInt) {
		return p.next().text, true // Dim entries
	}
	t := p.cur()
	if t.kind != tokIdent {
		p.diags.fatalf(t.span, "expected type name, found %v", p.describeCur())
		return "", false
	}
	p.advance()
	return t.text, true
}

func (p *parser) parseQueryDecl() (QueryDecl, bool) {
	start := p.next() // QUERY
	name, ok := p.expectIdent()
	if !ok {
		return QueryDecl{}, false
	}
	decl := QueryDecl{Name: name.text, Span: start.span}

	if _, ok := p.expect(tokLParen); !ok {
		return QueryDecl{}, false
	}
	for !p.at(tokRParen) && !p.at(tokEOF) {
		pname, ok := p.expectIdent()
		if !ok {
			return QueryDecl{}, false
		}
		if _, ok := p.expect(tokColon); !ok {
			return QueryDecl{}, false
		}
		typeName, ok := p.parseTypeName()
		if !ok {
			return QueryDecl{}, false
		}
		decl.Params = append(decl.Params, Param{Name: pname.text, TypeName: typeName, Span: pname.span})
		if _, ok := p.accept(tokComma); !ok {
			break
		}
	}
	if _, ok := p.expect(tokRParen); !ok {
		return QueryDecl{}, false
	}
	if _, ok := p.expect(tokArrow); !ok {
		return QueryDecl{}, false
	}

	for !p.atIdent("RETURN") && !p.at(tokEOF) {
		stmt, ok := p.parseStmt()
		if !ok {
			return QueryDecl{}, false
		}
		decl.Stmts = append(decl.Stmts, stmt)
	}
	if !p.expectKeyword("RETURN") {
		return QueryDecl{}, false
	}

	for {
		item, ok := p.parseReturnItem(len(decl.Returns))
		if !ok {
			return QueryDecl{}, false
		}
		decl.Returns = append(decl.Returns, item)
		if _, ok := p.accept(tokComma); !ok {
			break
		}
	}
	return decl, true
}

func (p *parser) parseStmt() (Stmt, bool) {
	if p.atIdent("DROP") {
		start := p.next()
		pipe, ok := p.parsePipeline()
		if !ok {
			return nil, false
		}
		return &DropStmt{Pipeline: pipe, Span: start.span}, true
	}
	// Assignment: ident <- pipeline.
	if p.at(tokIdent) && !reservedWords[p.cur().text] && p.toks[p.pos+1].kind == tokBind {
		name := p.next()
		p.next() // <-
		pipe, ok := p.parsePipeline()
		if !ok {
			return nil, false
		}
		return &AssignStmt{Var: name.text, Pipeline: pipe, Span: name.span}, true
	}
	start := p.cur()
	pipe, ok := p.parsePipeline()
	if !ok {
		return nil, false
	}
	return &ExprStmt{Pipeline: pipe, Span: start.span}, true
}

func (p *parser) parseReturnItem(index int) (ReturnItem, bool) {
	// Optional "name:" prefix.
	if p.at(tokIdent) && !reservedWords[p.cur().text] && p.toks[p.pos+1].kind == tokColon {
		name := p.next()
		p.next() // :
		expr, ok := p.parseExpr()
		if !ok {
			return ReturnItem{}, false
		}
		return ReturnItem{Name: name.text, Expr: expr, Span: name.span}, true
	}
	start := p.cur()
	expr, ok := p.parseExpr()
	if !ok {
		return ReturnItem{}, false
	}
	name := returnName(expr, index)
	return ReturnItem{Name: name, Expr: expr, Span: start.span}, true
}

func returnName(e Expr, index int) string {
	switch t := e.(type) {
	case *Ident:
		return t.Name
	case *PropAccess:
		return t.Field
	}
	return fmt.Sprintf("col%d", index)
}

func (p *parser) parsePipeline() (*Pipeline, bool) {
	start := p.cur()
	src, ok := p.parseSourceExpr()
	if !ok {
		return nil, false
	}
	pipe := &Pipeline{Source: src, Span: start.span}
	for p.at(tokColonColon) {
		p.advance()
		step, ok := p.parseStep()
		if !ok {
			return nil, false
		}
		pipe.Steps = append(pipe.Steps, step)
	}
	return pipe, true
}

func (p *parser) parseLabelArg() (string, bool) {
	if _, ok := p.expect(tokLt); !ok {
		return "", false
	}
	name, ok := p.expectIdent()
	if !ok {
		return "", false
	}
	if _, ok := p.expect(tokGt); !ok {
		return "", false
	}
	return name.text, true
}

func (p *parser) parseSourceExpr() (SourceExpr, bool) {
	t := p.cur()
	if t.kind != tokIdent {
		p.diags.fatalf(t.span, "expected a traversal source, found %v", p.describeCur())
		return nil, false
	}
	switch t.text {
	case "N", "E", "V":
		kind := map[string]EntityKind{"N": EntityNode, "E": EntityEdge, "V": EntityVector}[t.text]
		p.advance()
		src := &ScanSource{Kind: kind, Span: t.span}
		if p.at(tokLt) {
			label, ok := p.parseLabelArg()
			if !ok {
				return nil, false
			}
			src.Label = label
		}
		if p.at(tokLParen) {
			p.advance()
			if p.at(tokLBrace) {
				filter, ok := p.parseObjectLiteral()
				if !ok {
					return nil, false
				}
				src.Filter = filter
			} else if !p.at(tokRParen) {
				expr, ok := p.parseExpr()
				if !ok {
					return nil, false
				}
				src.IDExpr = expr
			}
			if _, ok := p.expect(tokRParen); !ok {
				return nil, false
			}
		}
		return src, true

	case "AddN":
		p.advance()
		label, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		fields, ok := p.parseParenObject()
		if !ok {
			return nil, false
		}
		return &AddNSource{Label: label, Fields: fields, Span: t.span}, true

	case "AddE":
		p.advance()
		label, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		var fields []FieldInit
		if p.at(tokLParen) {
			p.advance()
			if p.at(tokLBrace) {
				var ok bool
				fields, ok = p.parseObjectLiteral()
				if !ok {
					return nil, false
				}
			}
			if _, ok := p.expect(tokRParen); !ok {
				return nil, false
			}
		}
		return &AddESource{Label: label, Fields: fields, Span: t.span}, true

	case "AddV":
		p.advance()
		label, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(tokLParen); !ok {
			return nil, false
		}
		data, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		var fields []FieldInit
		var owner Expr
		for {
			if _, ok := p.accept(tokComma); !ok {
				break
			}
			if p.at(tokLBrace) {
				fields, ok = p.parseObjectLiteral()
				if !ok {
					return nil, false
				}
				continue
			}
			owner, ok = p.parseExpr()
			if !ok {
				return nil, false
			}
		}
		if _, ok := p.expect(tokRParen); !ok {
			return nil, false
		}
		return &AddVSource{Label: label, Data: data, Owner: owner, Fields: fields, Span: t.span}, true

	case "SearchV":
		p.advance()
		label, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		args, ok := p.parseArgs(2)
		if !ok {
			return nil, false
		}
		return &SearchVSource{Label: label, Vec: args[0], K: args[1], Span: t.span}, true

	case "SearchHybrid":
		p.advance()
		label, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		args, ok := p.parseArgs(3)
		if !ok {
			return nil, false
		}
		return &HybridSource{Label: label, Vec: args[0], Text: args[1], K: args[2], Span: t.span}, true

	case "Embed":
		p.advance()
		args, ok := p.parseArgs(1)
		if !ok {
			return nil, false
		}
		return &EmbedSource{Text: args[0], Span: t.span}, true
	}

	if reservedWords[t.text] {
		p.diags.fatalf(t.span, "unexpected %q at start of a traversal", t.text)
		return nil, false
	}
	p.advance()
	return &VarSource{Name: t.text, Span: t.span}, true
}

func (p *parser) parseArgs(n int) ([]Expr, bool) {
	if _, ok := p.expect(tokLParen); !ok {
		return nil, false
	}
	out := make([]Expr, 0, n)
	for i := 0; i < n; i++ {
		expr, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		out = append(out, expr)
		if i < n-1 {
			if _, ok := p.expect(tokComma); !ok {
				return nil, false
			}
		}
	}
	_, ok := p.expect(tokRParen)
	return out, ok
}

func (p *parser) parseParenObject() ([]FieldInit, bool) {
	if _, ok := p.expect(tokLParen); !ok {
		return nil, false
	}
	var fields []FieldInit
	if p.at(tokLBrace) {
		var ok bool
		fields, ok = p.parseObjectLiteral()
		if !ok {
			return nil, false
		}
	}
	_, ok := p.expect(tokRParen)
	return fields, ok
}

func (p *parser) parseObjectLiteral() ([]FieldInit, bool) {
	if _, ok := p.expect(tokLBrace); !ok {
		return nil, false
	}
	var fields []FieldInit
	for !p.at(tokRBrace) && !p.at(tokEOF) {
		name, ok := p.expectIdent()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(tokColon); !ok {
			return nil, false
		}
		expr, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		fields = append(fields, FieldInit{Name: name.text, Expr: expr, Span: name.span})
		if _, ok := p.accept(tokComma); !ok {
			break
		}
	}
	_, ok := p.expect(tokRBrace)
	return fields, ok
}

func (p *parser) parseStep() (Step, bool) {
	t := p.cur()
	if t.kind == tokLBrace {
		return p.parseProjectStep()
	}
	if t.kind != tokIdent {
		p.diags.fatalf(t.span, "expected a traversal step, found %v", p.describeCur())
		return nil, false
	}
	switch t.text {
	case "Out", "In", "OutE", "InE":
		kind := map[string]HopKind{"Out": HopOut, "In": HopIn, "OutE": HopOutE, "InE": HopInE}[t.text]
		p.advance()
		label, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		return &HopStep{Kind: kind, Label: label, Span: t.span}, true

	case "FromV", "ToV":
		p.advance()
		return &EndpointStep{To: t.text == "ToV", Span: t.span}, true

	case "WHERE":
		p.advance()
		args, ok := p.parseArgs(1)
		if !ok {
			return nil, false
		}
		return &WhereStep{Cond: args[0], Span: t.span}, true

	case "RANGE":
		p.advance()
		args, ok := p.parseArgs(2)
		if !ok {
			return nil, false
		}
		return &RangeStep{Lo: args[0], Hi: args[1], Span: t.span}, true

	case "ORDER":
		p.advance()
		dir, ok := p.parseLabelArg()
		if !ok {
			return nil, false
		}
		if dir != "Asc" && dir != "Desc" {
			p.diags.fatalf(t.span, "ORDER direction must be Asc or Desc, found %q", dir)
			return nil, false
		}
		args, ok := p.parseArgs(1)
		if !ok {
			return nil, false
		}
		return &OrderStep{Desc: dir == "Desc", Expr: args[0], Span: t.span}, true

	case "COUNT":
		p.advance()
		return &CountStep{Span: t.span}, true

	case "From":
		p.advance()
		args, ok := p.parseArgs(1)
		if !ok {
			return nil, false
		}
		return &FromStep{Expr: args[0], Span: t.span}, true

	case "To":
		p.advance()
		args, ok := p.parseArgs(1)
		if !ok {
			return nil, false
		}
		return &ToStep{Expr: args[0], Span: t.span}, true

	case "UPDATE":
		p.advance()
		fields, ok := p.parseParenObject()
		if !ok {
			return nil, false
		}
		return &UpdateStep{Fields: fields, Span: t.span}, true

	case "RerankRRF":
		p.advance()
		var k Expr
		if p.at(tokLParen) {
			p.advance()
			if !p.at(tokRParen) {
				var ok bool
				k, ok = p.parseExpr()
				if !ok {
					return nil, false
				}
			}
			if _, ok := p.expect(tokRParen); !ok {
				return nil, false
			}
		}
		return &RerankRRFStep{K: k, Span: t.span}, true

	case "RerankMMR":
		p.advance()
		args, ok := p.parseArgs(1)
		if !ok {
			return nil, false
		}
		return &RerankMMRStep{Lambda: args[0], Span: t.span}, true
	}

	p.diags.fatalf(t.span, "unknown traversal step %q", t.text)
	return nil, false
}

func (p *parser) parseProjectStep() (Step, bool) {
	start := p.cur()
	fields, ok := p.parseObjectLiteralOrPicks()
	if !ok {
		return nil, false
	}
	return &ProjectStep{Fields: fields, Span: start.span}, true
}

// parseObjectLiteralOrPicks reads "{a, b, total: expr}": bare names pick
// the named field, "name: expr" computes one.
func (p *parser) parseObjectLiteralOrPicks() ([]FieldInit, bool) {
	if _, ok := p.expect(tokLBrace); !ok {
		return nil, false
	}
	var fields []FieldInit
	for !p.at(tokRBrace) && !p.at(tokEOF) {
		name, ok := p.expectIdent()
		if !ok {
			return nil, false
		}
		field := FieldInit{Name: name.text, Span: name.span}
		if _, ok := p.accept(tokColon); ok {
			expr, ok := p.parseExpr()
			if !ok {
				return nil, false
			}
			field.Expr = expr
		}
		fields = append(fields, field)
		if _, ok := p.accept(tokComma); !ok {
			break
		}
	}
	_, ok := p.expect(tokRBrace)
	return fields, ok
}

// Expression parsing, lowest precedence first.

func (p *parser) parseExpr() (Expr, bool) { return p.parseOr() }

func (p *parser) parseOr() (Expr, bool) {
	left, ok := p.parseAnd()
	if !ok {
		return nil, false
	}
	for p.atIdent("OR") {
		op := p.next()
		right, ok := p.parseAnd()
		if !ok {
			return nil, false
		}
		left = &Binary{Op: OpOr, L: left, R: right, Span: op.span}
	}
	return left, true
}

func (p *parser) parseAnd() (Expr, bool) {
	left, ok := p.parseNot()
	if !ok {
		return nil, false
	}
	for p.atIdent("AND") {
		op := p.next()
		right, ok := p.parseNot()
		if !ok {
			return nil, false
		}
		left = &Binary{Op: OpAnd, L: left, R: right, Span: op.span}
	}
	return left, true
}

func (p *parser) parseNot() (Expr, bool) {
	if p.atIdent("NOT") {
		op := p.next()
		x, ok := p.parseNot()
		if !ok {
			return nil, false
		}
		return &Unary{X: x, Span: op.span}, true
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, bool) {
	left, ok := p.parseAdditive()
	if !ok {
		return nil, false
	}
	var op BinaryOp
	negRight := false
	switch p.cur().kind {
	case tokEq:
		op = OpEq
	case tokNeq:
		op = OpNeq
	case tokLt:
		op = OpLt
	case tokLte:
		op = OpLte
	case tokGt:
		op = OpGt
	case tokGte:
		op = OpGte
	case tokBind:
		// "a <-1" lexes as bind; inside an expression it means a < -1.
		op = OpLt
		negRight = true
	default:
		return left, true
	}
	opTok := p.next()
	right, ok := p.parseAdditive()
	if !ok {
		return nil, false
	}
	if negRight {
		right = &Unary{Neg: true, X: right, Span: opTok.span}
	}
	return &Binary{Op: op, L: left, R: right, Span: opTok.span}, true
}

func (p *parser) parseAdditive() (Expr, bool) {
	left, ok := p.parseMultiplicative()
	if !ok {
		return nil, false
	}
	for p.at(tokPlus) || p.at(tokMinus) {
		opTok := p.next()
		op := OpAdd
		if opTok.kind == tokMinus {
			op = OpSub
		}
		right, ok := p.parseMultiplicative()
		if !ok {
			return nil, false
		}
		left = &Binary{Op: op, L: left, R: right, Span: opTok.span}
	}
	return left, true
}

func (p *parser) parseMultiplicative() (Expr, bool) {
	left, ok := p.parseUnary()
	if !ok {
		return nil, false
	}
	for p.at(tokStar) || p.at(tokSlash) {
		opTok := p.next()
		op := OpMul
		if opTok.kind == tokSlash {
			op = OpDiv
		}
		right, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		left = &Binary{Op: op, L: left, R: right, Span: opTok.span}
	}
	return left, true
}

func (p *parser) parseUnary() (Expr, bool) {
	if p.at(tokMinus) {
		op := p.next()
		x, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		return &Unary{Neg: true, X: x, Span: op.span}, true
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, bool) {
	t := p.cur()
	switch t.kind {
	case tokString:
		p.advance()
		return &StringLit{Value: t.text, Span: t.span}, true
	case tokInt:
		p.advance()
		v, err := parseIntLit(t.text)
		if err != nil {
			p.diags.fatalf(t.span, "invalid integer literal %q", t.text)
			return nil, false
		}
		return &IntLit{Value: v, Span: t.span}, true
	case tokFloat:
		p.advance()
		v, err := parseFloatLit(t.text)
		if err != nil {
			p.diags.fatalf(t.span, "invalid float literal %q", t.text)
			return nil, false
		}
		return &FloatLit{Value: v, Span: t.span}, true
	case tokLParen:
		p.advance()
		expr, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(tokRParen); !ok {
			return nil, false
		}
		return expr, true
	case tokLBracket:
		p.advance()
		list := &ListLit{Span: t.span}
		for !p.at(tokRBracket) && !p.at(tokEOF) {
			elem, ok := p.parseExpr()
			if !ok {
				return nil, false
			}
			list.Elems = append(list.Elems, elem)
			if _, ok := p.accept(tokComma); !ok {
				break
			}
		}
		if _, ok := p.expect(tokRBracket); !ok {
			return nil, false
		}
		return list, true
	case tokIdent:
		switch t.text {
		case "true", "false":
			p.advance()
			return &BoolLit{Value: t.text == "true", Span: t.span}, true
		case "EXISTS":
			p.advance()
			if _, ok := p.expect(tokLParen); !ok {
				return nil, false
			}
			pipe, ok := p.parsePipeline()
			if !ok {
				return nil, false
			}
			if _, ok := p.expect(tokRParen); !ok {
				return nil, false
			}
			return &Exists{Pipeline: pipe, Span: t.span}, true
		case "Embed":
			p.advance()
			args, ok := p.parseArgs(1)
			if !ok {
				return nil, false
			}
			return &EmbedExpr{Text: args[0], Span: t.span}, true
		}
		if reservedWords[t.text] {
			p.diags.fatalf(t.span, "unexpected %q in expression", t.text)
			return nil, false
		}
		p.advance()
		var expr Expr = &Ident{Name: t.text, Span: t.span}
		for p.at(tokDot) {
			p.advance()
			field, ok := p.expectIdent()
			if !ok {
				return nil, false
			}
			expr = &PropAccess{Base: expr, Field: field.text, Span: field.span}
		}
		return expr, true
	}
	p.diags.fatalf(t.span, "expected an expression, found %v", p.describeCur())
	return nil, false
}
