package parser

import (
	"flashcpp/internal/arena"
	"flashcpp/internal/ast"
	"flashcpp/internal/diag"
	"flashcpp/internal/token"
)

// startsDeclarationStmt decides whether the statement at the cursor is a
// declaration-statement (spec §4.3's block-scope declaration form) rather
// than an expression-statement — the same type-vs-expression lookahead
// used for declarators, widened with the declaration-specifier keywords
// that a bare type lookahead wouldn't catch (`static`, `const`, ...).
func (p *Parser) startsDeclarationStmt() bool {
	switch p.peek().Kind {
	case token.KwStatic, token.KwConst, token.KwConstexpr, token.KwConsteval,
		token.KwConstinit, token.KwTypedef, token.KwThreadLocal, token.KwUsing,
		token.KwStaticAssert, token.KwStruct, token.KwClass, token.KwEnum,
		token.KwUnion, token.KwTemplate:
		return true
	}
	return p.looksLikeTypeAt(0)
}

// ParseCompoundStatement parses a `{ ... }` block, entering a fresh block
// scope for the duration (spec §3's scope-stack discipline).
func (p *Parser) ParseCompoundStatement() arena.Ref {
	pos := p.pos()
	p.expect(token.PLBrace)
	p.Symbols.Enter(ScopeBlock)
	var stmts []arena.Ref
	for !p.at(token.PRBrace) && !p.at(token.EOF) {
		before := p.diags.HasErrors()
		s := p.ParseStatement()
		if s == arena.Nil {
			if !before && p.diags.HasErrors() {
				p.synchronizeToTopLevel()
			}
			continue
		}
		stmts = append(stmts, s)
	}
	p.expect(token.PRBrace)
	p.Symbols.Exit()
	n := p.Pool.New(ast.KCompoundStmt, pos)
	p.Pool.At(n).Nodes = stmts
	return n
}

// ParseStatement dispatches on the leading token to one of the statement
// forms in spec §4.3's statement grammar.
func (p *Parser) ParseStatement() arena.Ref {
	switch p.peek().Kind {
	case token.PLBrace:
		return p.ParseCompoundStatement()
	case token.PSemicolon:
		pos := p.pos()
		p.advanceTok()
		return p.Pool.New(ast.KNullStmt, pos)
	case token.KwIf:
		return p.parseIfStmt()
	case token.KwWhile:
		return p.parseWhileStmt()
	case token.KwDo:
		return p.parseDoStmt()
	case token.KwFor:
		return p.parseForStmt()
	case token.KwSwitch:
		return p.parseSwitchStmt()
	case token.KwCase:
		return p.parseCaseLabel()
	case token.KwDefault:
		return p.parseDefaultLabel()
	case token.KwBreak:
		return p.parseSimpleJump(ast.KBreakStmt)
	case token.KwContinue:
		return p.parseSimpleJump(ast.KContinueStmt)
	case token.KwReturn:
		return p.parseReturnStmt()
	case token.KwGoto:
		return p.parseGotoStmt()
	case token.KwTry:
		return p.parseTryStmt()
	case token.KwThrow:
		return p.parseThrowStmt()
	case token.Ident:
		if p.peekAt(1).Kind == token.PColon && p.peekAt(2).Kind != token.PColon {
			return p.parseLabelStmt()
		}
		return p.parseDeclOrExprStmt()
	default:
		return p.parseDeclOrExprStmt()
	}
}

func (p *Parser) parseDeclOrExprStmt() arena.Ref {
	if p.startsDeclarationStmt() {
		return p.ParseDeclaration(BlockScope)
	}
	pos := p.pos()
	expr := p.ParseExpression()
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KExprStmt, pos)
	p.Pool.At(n).X = expr
	return n
}

func (p *Parser) parseIfStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PLParen)
	cond := p.ParseExpression()
	p.expect(token.PRParen)
	then := p.ParseStatement()
	els := arena.Nil
	if p.at(token.KwElse) {
		p.advanceTok()
		els = p.ParseStatement()
	}
	n := p.Pool.New(ast.KIfStmt, pos)
	node := p.Pool.At(n)
	node.X, node.Y, node.Z = cond, then, els
	return n
}

func (p *Parser) parseWhileStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PLParen)
	cond := p.ParseExpression()
	p.expect(token.PRParen)
	body := p.ParseStatement()
	n := p.Pool.New(ast.KWhileStmt, pos)
	node := p.Pool.At(n)
	node.X, node.Body = cond, body
	return n
}

func (p *Parser) parseDoStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	body := p.ParseStatement()
	p.expect(token.KwWhile)
	p.expect(token.PLParen)
	cond := p.ParseExpression()
	p.expect(token.PRParen)
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KDoStmt, pos)
	node := p.Pool.At(n)
	node.X, node.Body = cond, body
	return n
}

// parseForStmt disambiguates a range-based for from a classic three-clause
// for by a speculative parse (save/restore) of the init-declaration
// looking for a trailing `:` — spec §4.2's unbounded-lookahead-via-cursor
// design exists exactly for lookaheads like this one.
func (p *Parser) parseForStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PLParen)

	if p.startsDeclarationStmt() {
		h := p.save()
		isRange := false
		p.ParseTypeSpecifier()
		if p.at(token.Ident) {
			p.advanceTok()
			if p.at(token.PColon) {
				isRange = true
			}
		}
		p.restore(h)
		if isRange {
			return p.parseRangeForStmt(pos)
		}
	}

	init := arena.Nil
	if p.at(token.PSemicolon) {
		p.advanceTok()
	} else if p.startsDeclarationStmt() {
		init = p.ParseDeclaration(ForInit)
	} else {
		ePos := p.pos()
		e := p.ParseExpression()
		p.expect(token.PSemicolon)
		init = p.Pool.New(ast.KExprStmt, ePos)
		p.Pool.At(init).X = e
	}

	cond := arena.Nil
	if !p.at(token.PSemicolon) {
		cond = p.ParseExpression()
	}
	p.expect(token.PSemicolon)

	post := arena.Nil
	if !p.at(token.PRParen) {
		post = p.ParseExpression()
	}
	p.expect(token.PRParen)

	body := p.ParseStatement()
	n := p.Pool.New(ast.KForStmt, pos)
	node := p.Pool.At(n)
	node.X, node.Y, node.Z, node.Body = init, cond, post, body
	return n
}

func (p *Parser) parseRangeForStmt(pos diag.Pos) arena.Ref {
	ty := p.ParseTypeSpecifier()
	name := p.expect(token.Ident).Text
	p.expect(token.PColon)
	rangeExpr := p.ParseExpression()
	p.expect(token.PRParen)
	body := p.ParseStatement()
	n := p.Pool.New(ast.KRangeForStmt, pos)
	node := p.Pool.At(n)
	node.Type, node.Name, node.X, node.Body = ty, name, rangeExpr, body
	return n
}

func (p *Parser) parseSwitchStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PLParen)
	cond := p.ParseExpression()
	p.expect(token.PRParen)
	body := p.ParseStatement()
	n := p.Pool.New(ast.KSwitchStmt, pos)
	node := p.Pool.At(n)
	node.X, node.Body = cond, body
	return n
}

func (p *Parser) parseCaseLabel() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	val := p.ParseAssignmentExpression()
	p.expect(token.PColon)
	n := p.Pool.New(ast.KCaseLabel, pos)
	p.Pool.At(n).X = val
	return n
}

func (p *Parser) parseDefaultLabel() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PColon)
	return p.Pool.New(ast.KDefaultLabel, pos)
}

func (p *Parser) parseSimpleJump(kind ast.Kind) arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PSemicolon)
	return p.Pool.New(kind, pos)
}

func (p *Parser) parseReturnStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	val := arena.Nil
	if !p.at(token.PSemicolon) {
		val = p.ParseExpression()
	}
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KReturnStmt, pos)
	p.Pool.At(n).X = val
	return n
}

func (p *Parser) parseGotoStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	name := p.expect(token.Ident).Text
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KGotoStmt, pos)
	p.Pool.At(n).Name = name
	return n
}

func (p *Parser) parseLabelStmt() arena.Ref {
	pos := p.pos()
	name := p.advanceTok().Text
	p.expect(token.PColon)
	n := p.Pool.New(ast.KLabelStmt, pos)
	p.Pool.At(n).Name = name
	return n
}

func (p *Parser) parseTryStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	body := p.ParseCompoundStatement()
	var catches []arena.Ref
	for p.at(token.KwCatch) {
		catches = append(catches, p.parseCatchClause())
	}
	n := p.Pool.New(ast.KTryStmt, pos)
	node := p.Pool.At(n)
	node.Body, node.Nodes = body, catches
	return n
}

func (p *Parser) parseCatchClause() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PLParen)
	param := arena.Nil
	if p.at(token.OpEllipsis) {
		p.advanceTok()
	} else {
		ty := p.ParseTypeSpecifier()
		param = p.Pool.New(ast.KParamDecl, pos)
		pnode := p.Pool.At(param)
		pnode.Type = ty
		if p.at(token.Ident) {
			pnode.Name = p.advanceTok().Text
		}
	}
	p.expect(token.PRParen)
	body := p.ParseCompoundStatement()
	n := p.Pool.New(ast.KCatchClause, pos)
	node := p.Pool.At(n)
	node.X, node.Body = param, body
	return n
}

func (p *Parser) parseThrowStmt() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	val := arena.Nil
	if !p.at(token.PSemicolon) {
		val = p.ParseExpression()
	}
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KThrowStmt, pos)
	p.Pool.At(n).X = val
	return n
}
