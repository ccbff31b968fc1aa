package parser

import (
	"strings"

	"flashcpp/internal/arena"
	"flashcpp/internal/ast"
	"flashcpp/internal/diag"
	"flashcpp/internal/strtab"
	"flashcpp/internal/template"
	"flashcpp/internal/token"
	"flashcpp/internal/types"
)

func (p *Parser) save() Handle         { return p.stream.SavePosition() }
func (p *Parser) restore(h Handle)     { p.stream.RestorePosition(h) }

// closeAngle consumes a template-argument-list's closing `>`, splitting a
// lexed `>>` in place when two nested lists close back to back — the
// lexer has no way to know this split is needed, only the parser does
// (spec §4.2/§4.3).
func (p *Parser) closeAngle() {
	switch {
	case p.at(token.OpGt):
		p.advanceTok()
	case p.at(token.OpShr):
		p.stream.SplitClosingAngle()
		p.advanceTok()
	default:
		p.errorf("expected '>' to close template-argument-list, got %s", p.peek().Kind.Name())
	}
	if p.templateArgDepth > 0 {
		p.templateArgDepth--
	}
}

func (p *Parser) atTemplateArgListEnd() bool {
	return p.at(token.OpGt) || p.at(token.OpShr) || p.at(token.EOF)
}

var fundamentalTypeKeywords = map[token.Kind]bool{
	token.KwVoid: true, token.KwBool: true, token.KwChar: true,
	token.KwChar8T: true, token.KwChar16T: true, token.KwChar32T: true,
	token.KwWcharT: true, token.KwShort: true, token.KwInt: true,
	token.KwLong: true, token.KwSigned: true, token.KwUnsigned: true,
	token.KwFloat: true, token.KwDouble: true,
}

// looksLikeTypeAt is the lookahead classifier behind the function-vs-
// variable declarator ambiguity and the `sizeof(` / `(` cast-vs-paren-expr
// ambiguity (spec §4.3): does the token k positions ahead plausibly begin a
// type-specifier?
func (p *Parser) looksLikeTypeAt(k int) bool {
	t := p.peekAt(k)
	switch t.Kind {
	case token.KwConst, token.KwVolatile, token.KwAuto, token.KwDecltype,
		token.KwStruct, token.KwClass, token.KwEnum, token.KwUnion,
		token.PColonColon:
		return true
	case token.Ident:
		_, ok := p.Types.Lookup(t.Text)
		return ok
	}
	return fundamentalTypeKeywords[t.Kind]
}

func (p *Parser) collectFundamentalTypeName() string {
	var words []string
	for fundamentalTypeKeywords[p.peek().Kind] {
		words = append(words, p.Strings.ViewString(p.peek().Text))
		p.advanceTok()
	}
	return strings.Join(words, " ")
}

// parseQualifiedName consumes a (possibly `::`-qualified) name sequence,
// returning the full dotted spelling interned as one handle and the
// individual segments (the last of which is what resolve_identifier is
// consulted with).
func (p *Parser) parseQualifiedName() (strtab.Handle, []string) {
	var parts []string
	if p.at(token.PColonColon) {
		p.advanceTok()
	}
	for {
		tok := p.expect(token.Ident)
		parts = append(parts, p.Strings.ViewString(tok.Text))
		if p.at(token.PColonColon) && p.peekAt(1).Kind == token.Ident {
			p.advanceTok()
			continue
		}
		break
	}
	return p.Strings.InternString(strings.Join(parts, "::")), parts
}

// parseTemplateArgument parses one element of a template-argument-list:
// either a type-id or a constant-expression, disambiguated the same way as
// any other type-vs-expression position (spec §4.3).
func (p *Parser) parseTemplateArgument() arena.Ref {
	if p.looksLikeTypeAt(0) {
		return p.ParseTypeSpecifier()
	}
	return p.ParseAssignmentExpression()
}

// parseIdOrTemplateId parses a primary-expression identifier, qualified-id,
// or template-id. Whether a following `<` opens a template-argument-list
// (rather than being the less-than operator) is resolved by consulting the
// template registry for the just-parsed name (spec §4.3's "Expression
// parsing" note).
func (p *Parser) parseIdOrTemplateId() arena.Ref {
	pos := p.pos()
	qualified, parts := p.parseQualifiedName()
	lastName := p.Strings.InternString(parts[len(parts)-1])
	if p.at(token.OpLt) {
		res := p.Resolver.Resolve(lastName, LookupContext{AllowTemplateNames: true})
		if res.Found {
			p.advanceTok()
			p.templateArgDepth++
			var args []arena.Ref
			for !p.atTemplateArgListEnd() {
				args = append(args, p.parseTemplateArgument())
				if p.at(token.OpComma) {
					p.advanceTok()
				} else {
					break
				}
			}
			p.closeAngle()
			n := p.Pool.New(ast.KTemplateIdExpr, pos)
			node := p.Pool.At(n)
			node.Name = lastName
			node.TemplateArgs = args
			return n
		}
	}
	if len(parts) > 1 {
		n := p.Pool.New(ast.KQualifiedIdExpr, pos)
		p.Pool.At(n).Name = qualified
		return n
	}
	n := p.Pool.New(ast.KIdentExpr, pos)
	p.Pool.At(n).Name = lastName
	return n
}

// parseIdOrTemplateIdAsType is parseIdOrTemplateId's type-position twin,
// used for class-names, base-class-clause entries, and elaborated-type-
// specifiers, where any `<...>` that follows is unconditionally a
// template-argument-list (there's no operator-`<` reading to disambiguate
// against in type position).
func (p *Parser) parseIdOrTemplateIdAsType(pos diag.Pos) arena.Ref {
	qualified, parts := p.parseQualifiedName()
	lastName := p.Strings.InternString(parts[len(parts)-1])
	if p.at(token.OpLt) {
		p.advanceTok()
		p.templateArgDepth++
		var args []arena.Ref
		for !p.atTemplateArgListEnd() {
			args = append(args, p.parseTemplateArgument())
			if p.at(token.OpComma) {
				p.advanceTok()
			} else {
				break
			}
		}
		p.closeAngle()
		n := p.Pool.New(ast.KTemplateIdType, pos)
		node := p.Pool.At(n)
		node.Name = lastName
		node.TemplateArgs = args
		return n
	}
	n := p.Pool.New(ast.KTypeName, pos)
	p.Pool.At(n).Name = qualified
	return n
}

// ParseTypeSpecifier parses a type-id: an optional cv-qualifier sequence,
// a fundamental type, auto, decltype(expr), or a (possibly template-id)
// class/enum name, followed by any number of pointer/reference declarator
// modifiers (spec §4.3 declarator grammar).
func (p *Parser) ParseTypeSpecifier() arena.Ref {
	pos := p.pos()
	for p.at(token.KwConst) || p.at(token.KwVolatile) {
		p.advanceTok()
	}
	var base arena.Ref
	switch {
	case p.at(token.KwAuto):
		p.advanceTok()
		base = p.Pool.New(ast.KAutoType, pos)
	case p.at(token.KwDecltype):
		p.advanceTok()
		p.expect(token.PLParen)
		inner := p.ParseExpression()
		p.expect(token.PRParen)
		base = p.Pool.New(ast.KDecltypeType, pos)
		p.Pool.At(base).X = inner
	case fundamentalTypeKeywords[p.peek().Kind]:
		name := p.collectFundamentalTypeName()
		base = p.Pool.New(ast.KTypeName, pos)
		p.Pool.At(base).Name = p.Strings.InternString(name)
	case p.at(token.KwStruct), p.at(token.KwClass), p.at(token.KwUnion), p.at(token.KwEnum):
		p.advanceTok()
		base = p.parseIdOrTemplateIdAsType(pos)
	default:
		base = p.parseIdOrTemplateIdAsType(pos)
	}
	for p.at(token.KwConst) || p.at(token.KwVolatile) {
		p.advanceTok()
	}
	for {
		switch p.peek().Kind {
		case token.OpStar:
			p.advanceTok()
			for p.at(token.KwConst) || p.at(token.KwVolatile) {
				p.advanceTok()
			}
			ptr := p.Pool.New(ast.KPointerType, pos)
			p.Pool.At(ptr).Type = base
			base = ptr
		case token.OpAmp:
			p.advanceTok()
			ref := p.Pool.New(ast.KReferenceType, pos)
			p.Pool.At(ref).Type = base
			base = ref
		case token.OpAmpAmp:
			p.advanceTok()
			ref := p.Pool.New(ast.KReferenceType, pos)
			node := p.Pool.At(ref)
			node.Type = base
			node.BoolValue = true // rvalue-reference marker
			base = ref
		default:
			return base
		}
	}
}

// parseParamList parses a parenthesized parameter-declaration-list, used
// for both function declarators and lambda-declarators.
func (p *Parser) parseParamList() []arena.Ref {
	p.expect(token.PLParen)
	var params []arena.Ref
	for !p.at(token.PRParen) && !p.at(token.EOF) {
		pos := p.pos()
		if p.at(token.OpEllipsis) {
			p.advanceTok()
			v := p.Pool.New(ast.KParamDecl, pos)
			p.Pool.At(v).IsPack = true
			params = append(params, v)
			break
		}
		ty := p.ParseTypeSpecifier()
		n := p.Pool.New(ast.KParamDecl, pos)
		node := p.Pool.At(n)
		node.Type = ty
		if p.at(token.Ident) {
			node.Name = p.advanceTok().Text
		}
		if p.at(token.OpAssign) {
			p.advanceTok()
			node.Body = p.ParseAssignmentExpression()
		}
		params = append(params, n)
		if p.at(token.OpComma) {
			p.advanceTok()
		} else {
			break
		}
	}
	p.expect(token.PRParen)
	return params
}

func (p *Parser) parseDeclSpecifiers() ast.DeclSpec {
	var spec ast.DeclSpec
	for {
		switch {
		case p.at(token.KwStatic):
			spec.IsStatic = true
		case p.at(token.KwExtern):
			spec.IsExtern = true
		case p.at(token.KwConstexpr):
			spec.IsConstexpr = true
		case p.at(token.KwConsteval):
			spec.IsConsteval = true
		case p.at(token.KwConstinit):
			spec.IsConstinit = true
		case p.at(token.KwInline):
			spec.IsInline = true
		case p.at(token.KwVirtual):
			spec.IsVirtual = true
		case p.at(token.KwExplicit):
			spec.IsExplicit = true
		case p.at(token.KwFriend):
			spec.IsFriend = true
		case p.at(token.KwTypedef):
			spec.IsTypedef = true
		case p.at(token.KwMutable):
			spec.IsMutable = true
		case p.at(token.KwThreadLocal):
			spec.IsThreadLocal = true
		default:
			return spec
		}
		p.advanceTok()
	}
}

// looksLikeFunctionDeclarator classifies the `(` immediately following a
// declarator name: a parameter-declaration-list (function) versus a
// direct-initializer's expression-list (variable), per spec §4.3's
// function-vs-variable ambiguity. An empty `()` or a type-looking first
// token means function; anything else means direct-initialization.
func (p *Parser) looksLikeFunctionDeclarator() bool {
	h := p.save()
	defer p.restore(h)
	p.advanceTok() // '('
	if p.at(token.PRParen) {
		return true
	}
	return p.looksLikeTypeAt(0)
}

// ParseDeclaration is the unified declaration entry point (spec §4.3): it
// dispatches on the leading token to namespace/using/static_assert/
// template forms, then to struct/union/enum definitions, falling through
// to the general declaration-specifiers + declarator-list form shared by
// variables and functions.
func (p *Parser) ParseDeclaration(ctx DeclContext) arena.Ref {
	if p.at(token.PSemicolon) {
		p.advanceTok()
		return arena.Nil
	}
	switch {
	case p.at(token.KwNamespace):
		return p.parseNamespaceDecl()
	case p.at(token.KwUsing):
		return p.parseUsingDecl()
	case p.at(token.KwStaticAssert):
		return p.parseStaticAssertDecl()
	case p.at(token.KwTemplate):
		return p.ParseTemplateDeclaration(ctx)
	}

	spec := p.parseDeclSpecifiers()

	if p.at(token.KwStruct) || p.at(token.KwClass) || p.at(token.KwUnion) {
		return p.parseStructOrUnionDecl(spec)
	}
	if p.at(token.KwEnum) {
		return p.parseEnumDecl()
	}

	firstPos := p.pos()
	baseType := p.ParseTypeSpecifier()

	if !p.at(token.Ident) {
		p.errorf("expected a declarator name, got %s", p.peek().Kind.Name())
		p.advanceTok()
		return arena.Nil
	}

	var decls []arena.Ref
	for {
		declPos := p.pos()
		nameTok := p.advanceTok()
		var d arena.Ref
		if p.at(token.PLParen) && p.looksLikeFunctionDeclarator() {
			d = p.parseFunctionDeclaratorTail(declPos, nameTok.Text, baseType, spec)
		} else {
			d = p.parseVariableDeclaratorTail(declPos, nameTok.Text, baseType, spec)
		}
		decls = append(decls, d)
		if p.at(token.OpComma) {
			p.advanceTok()
			continue
		}
		break
	}

	// A function declarator consumed its own body or terminating ';'.
	if p.Pool.At(decls[len(decls)-1]).Kind != ast.KFunctionDecl {
		p.expect(token.PSemicolon)
	}

	if len(decls) == 1 {
		return decls[0]
	}
	wrap := p.Pool.New(ast.KCompoundStmt, firstPos)
	p.Pool.At(wrap).Nodes = decls
	return wrap
}

func (p *Parser) parseFunctionDeclaratorTail(pos diag.Pos, name strtab.Handle, baseType arena.Ref, spec ast.DeclSpec) arena.Ref {
	params := p.parseParamList()
	if p.at(token.KwConst) {
		p.advanceTok()
	}
	if p.at(token.KwNoexcept) {
		p.advanceTok()
		if p.at(token.PLParen) {
			p.advanceTok()
			p.ParseExpression()
			p.expect(token.PRParen)
		}
	}
	returnType := baseType
	if p.at(token.OpArrow) {
		p.advanceTok()
		returnType = p.ParseTypeSpecifier()
	}
	n := p.Pool.New(ast.KFunctionDecl, pos)
	node := p.Pool.At(n)
	node.Name = name
	node.Type = returnType
	node.Nodes = params
	node.Spec = spec

	switch {
	case p.at(token.OpAssign) && p.peekAt(1).Kind == token.IntLit:
		p.advanceTok()
		p.advanceTok()
		node.Spec.IsVirtual = true
		p.expect(token.PSemicolon)
	case p.at(token.PLBrace):
		node.Body = p.ParseCompoundStatement()
	default:
		p.expect(token.PSemicolon)
	}
	p.Symbols.Declare(Declaration{Kind: DeclFunction, Name: name, Node: n})
	return n
}

func (p *Parser) parseVariableDeclaratorTail(pos diag.Pos, name strtab.Handle, baseType arena.Ref, spec ast.DeclSpec) arena.Ref {
	ty := baseType
	for p.at(token.PLBracket) {
		p.advanceTok()
		lengthExpr := arena.Nil
		if !p.at(token.PRBracket) {
			lengthExpr = p.ParseExpression()
		}
		p.expect(token.PRBracket)
		arrType := p.Pool.New(ast.KArrayType, pos)
		node := p.Pool.At(arrType)
		node.Type = ty
		node.X = lengthExpr
		ty = arrType
	}

	n := p.Pool.New(ast.KVarDecl, pos)
	node := p.Pool.At(n)
	node.Name = name
	node.Type = ty
	node.Spec = spec

	switch {
	case p.at(token.OpAssign):
		p.advanceTok()
		if p.at(token.PLBrace) {
			node.Body = p.parseBraceInit()
		} else {
			node.Body = p.ParseAssignmentExpression()
		}
	case p.at(token.PLParen):
		p.advanceTok()
		var args []arena.Ref
		for !p.at(token.PRParen) && !p.at(token.EOF) {
			args = append(args, p.ParseAssignmentExpression())
			if p.at(token.OpComma) {
				p.advanceTok()
			} else {
				break
			}
		}
		p.expect(token.PRParen)
		init := p.Pool.New(ast.KCallExpr, pos)
		p.Pool.At(init).Nodes = args
		node.Body = init
	case p.at(token.PLBrace):
		node.Body = p.parseBraceInit()
	}
	p.Symbols.Declare(Declaration{Kind: DeclVariable, Name: name, Node: n})
	return n
}

func (p *Parser) parseBraceInit() arena.Ref {
	pos := p.pos()
	p.expect(token.PLBrace)
	var elems []arena.Ref
	for !p.at(token.PRBrace) && !p.at(token.EOF) {
		elems = append(elems, p.ParseAssignmentExpression())
		if p.at(token.OpComma) {
			p.advanceTok()
		} else {
			break
		}
	}
	p.expect(token.PRBrace)
	n := p.Pool.New(ast.KInitListExpr, pos)
	p.Pool.At(n).Nodes = elems
	return n
}

func (p *Parser) parseNamespaceDecl() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	var name strtab.Handle
	if p.at(token.Ident) {
		name = p.advanceTok().Text
	}
	p.Symbols.Enter(ScopeNamespace)
	p.expect(token.PLBrace)
	var decls []arena.Ref
	for !p.at(token.PRBrace) && !p.at(token.EOF) {
		before := p.diags.HasErrors()
		d := p.ParseDeclaration(TopLevel)
		if d == arena.Nil {
			if !before && p.diags.HasErrors() {
				p.synchronizeToTopLevel()
			}
			continue
		}
		decls = append(decls, d)
	}
	p.expect(token.PRBrace)
	p.Symbols.Exit()
	n := p.Pool.New(ast.KNamespaceDecl, pos)
	node := p.Pool.At(n)
	node.Name = name
	node.Nodes = decls
	return n
}

func (p *Parser) parseUsingDecl() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	if p.at(token.KwNamespace) {
		p.advanceTok()
		qualified, _ := p.parseQualifiedName()
		p.expect(token.PSemicolon)
		n := p.Pool.New(ast.KUsingDirective, pos)
		p.Pool.At(n).Name = qualified
		return n
	}
	if p.at(token.Ident) && p.peekAt(1).Kind == token.OpAssign {
		aliasName := p.advanceTok().Text
		p.advanceTok()
		ty := p.ParseTypeSpecifier()
		p.expect(token.PSemicolon)
		n := p.Pool.New(ast.KTypeAliasDecl, pos)
		node := p.Pool.At(n)
		node.Name = aliasName
		node.Type = ty
		p.Types.Declare(aliasName, types.TypeInfo{Kind: types.TypeAlias})
		return n
	}
	qualified, _ := p.parseQualifiedName()
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KUsingDecl, pos)
	p.Pool.At(n).Name = qualified
	return n
}

func (p *Parser) parseStaticAssertDecl() arena.Ref {
	pos := p.pos()
	p.advanceTok()
	p.expect(token.PLParen)
	cond := p.ParseAssignmentExpression()
	msg := arena.Nil
	if p.at(token.OpComma) {
		p.advanceTok()
		msg = p.ParseAssignmentExpression()
	}
	p.expect(token.PRParen)
	p.expect(token.PSemicolon)
	n := p.Pool.New(ast.KStaticAssertDecl, pos)
	node := p.Pool.At(n)
	node.X, node.Y = cond, msg
	return n
}

func (p *Parser) parseStructOrUnionDecl(spec ast.DeclSpec) arena.Ref {
	pos := p.pos()
	p.advanceTok() // struct/class/union
	var name strtab.Handle
	if p.at(token.Ident) {
		name = p.advanceTok().Text
	}

	var argMatchers []template.ArgMatcher
	isSpecialization := false
	if p.at(token.OpLt) && p.Templates.HasPattern(name) {
		isSpecialization = true
		p.advanceTok()
		p.templateArgDepth++
		for !p.atTemplateArgListEnd() {
			argNode := p.parseTemplateArgument()
			argMatchers = append(argMatchers, p.argMatcherForNode(argNode))
			if p.at(token.OpComma) {
				p.advanceTok()
			} else {
				break
			}
		}
		p.closeAngle()
	}

	var bases []arena.Ref
	if p.at(token.PColon) {
		p.advanceTok()
		for {
			if p.at(token.KwPublic) || p.at(token.KwPrivate) || p.at(token.KwProtected) {
				p.advanceTok()
			}
			bases = append(bases, p.parseIdOrTemplateIdAsType(p.pos()))
			if p.at(token.OpComma) {
				p.advanceTok()
				continue
			}
			break
		}
	}

	n := p.Pool.New(ast.KStructDecl, pos)
	node := p.Pool.At(n)
	node.Name = name
	node.TemplateArgs = bases // base-class type nodes; Node has no dedicated Bases field
	node.BoolValue = isSpecialization // read back by ParseTemplateDeclaration to skip primary Register

	if p.at(token.PLBrace) {
		p.advanceTok()
		p.Symbols.Enter(ScopeClass)
		var members []arena.Ref
		for !p.at(token.PRBrace) && !p.at(token.EOF) {
			if p.at(token.KwPublic) || p.at(token.KwPrivate) || p.at(token.KwProtected) {
				p.advanceTok()
				p.expect(token.PColon)
				continue
			}
			before := p.diags.HasErrors()
			d := p.ParseDeclaration(ClassMember)
			if d == arena.Nil {
				if !before && p.diags.HasErrors() {
					p.synchronizeToTopLevel()
				}
				continue
			}
			members = append(members, d)
		}
		p.expect(token.PRBrace)
		p.Symbols.Exit()
		node.Nodes = members
		if name != 0 {
			p.Types.Declare(name, types.TypeInfo{Kind: types.Struct, StructPtr: &types.StructInfo{}})
		}
	}

	if !p.at(token.PSemicolon) {
		for p.at(token.Ident) {
			declPos := p.pos()
			varName := p.advanceTok().Text
			node.Body = p.parseVariableDeclaratorTail(declPos, varName, n, spec)
			if p.at(token.OpComma) {
				p.advanceTok()
				continue
			}
			break
		}
	}
	p.expect(token.PSemicolon)

	if isSpecialization {
		isPartial := false
		for _, m := range argMatchers {
			if m.IsWild {
				isPartial = true
			}
		}
		p.Templates.AddSpecialization(name, template.Specialization{ArgPattern: argMatchers, IsPartial: isPartial, Body: n})
	}
	return n
}

func (p *Parser) parseEnumDecl() arena.Ref {
	pos := p.pos()
	p.advanceTok() // enum
	isScoped := false
	if p.at(token.KwClass) || p.at(token.KwStruct) {
		p.advanceTok()
		isScoped = true
	}
	var name strtab.Handle
	if p.at(token.Ident) {
		name = p.advanceTok().Text
	}
	underlying := arena.Nil
	if p.at(token.PColon) {
		p.advanceTok()
		underlying = p.ParseTypeSpecifier()
	}

	n := p.Pool.New(ast.KEnumDecl, pos)
	node := p.Pool.At(n)
	node.Name = name
	node.Type = underlying
	node.BoolValue = isScoped

	if p.at(token.PLBrace) {
		p.advanceTok()
		var enumerators []arena.Ref
		for !p.at(token.PRBrace) && !p.at(token.EOF) {
			ePos := p.pos()
			eName := p.expect(token.Ident).Text
			en := p.Pool.New(ast.KEnumeratorDecl, ePos)
			enode := p.Pool.At(en)
			enode.Name = eName
			if p.at(token.OpAssign) {
				p.advanceTok()
				enode.Body = p.ParseAssignmentExpression()
			}
			enumerators = append(enumerators, en)
			if p.at(token.OpComma) {
				p.advanceTok()
			} else {
				break
			}
		}
		p.expect(token.PRBrace)
		node.Nodes = enumerators
		if name != 0 {
			p.Types.Declare(name, types.TypeInfo{Kind: types.Enum, EnumPtr: &types.EnumInfo{IsScoped: isScoped}})
		}
	}
	p.expect(token.PSemicolon)
	return n
}
