package parser

import (
	"flashcpp/internal/arena"
	"flashcpp/internal/ast"
	"flashcpp/internal/strtab"
	"flashcpp/internal/template"
	"flashcpp/internal/token"
)

// ParseTemplateDeclaration parses `template<params> [requires-clause]
// declaration`, registering the templated entity with the engine under its
// unqualified name (spec §4.3 Registration). Nested templates (a member
// template inside a class template) recurse back through ParseDeclaration,
// which is what routes a `template` keyword at class-member context here
// again.
func (p *Parser) ParseTemplateDeclaration(ctx DeclContext) arena.Ref {
	pos := p.pos()
	p.advanceTok() // 'template'
	p.expect(token.OpLt)
	p.templateArgDepth++

	var params []template.Param
	var paramNodes []arena.Ref
	for !p.atTemplateArgListEnd() {
		pm, node := p.parseTemplateParam()
		params = append(params, pm)
		paramNodes = append(paramNodes, node)
		if pm.Name != 0 {
			p.Resolver.PushTemplateParam(pm.Name, Declaration{Kind: DeclTemplateParam, Name: pm.Name})
		}
		if p.at(token.OpComma) {
			p.advanceTok()
		} else {
			break
		}
	}
	p.closeAngle()

	constraint := arena.Nil
	if p.at(token.KwRequires) {
		p.advanceTok()
		constraint = p.ParseExpression()
	}

	p.Resolver.InTemplateBody = true
	body := p.ParseDeclaration(ctx)
	p.Resolver.InTemplateBody = false
	p.Resolver.ClearTemplateParams()

	if body == arena.Nil {
		return arena.Nil
	}

	name := p.Pool.At(body).Name
	// An explicit/partial specialization (`template<> ...` or `template<T>
	// class Foo<T*>`) already registered itself against the existing
	// pattern via parseStructOrUnionDecl's AddSpecialization call (flagged
	// on the node's BoolValue); only a primary template registers a new
	// Pattern here.
	isSpecialization := p.Pool.At(body).Kind == ast.KStructDecl && p.Pool.At(body).BoolValue
	if !isSpecialization {
		p.Templates.Register(name, params, body)
	}

	n := p.Pool.New(ast.KTemplateDecl, pos)
	node := p.Pool.At(n)
	node.Name = name
	node.TemplateParams = paramNodes
	node.Body = body
	node.X = constraint
	return n
}

// parseTemplateParam parses one template-parameter: a type parameter
// (`typename`/`class`, optionally a pack), a template-template-parameter
// (`template<...> class`), or a non-type parameter (a type followed by a
// name), per spec §4.3's template-parameter-list grammar.
func (p *Parser) parseTemplateParam() (template.Param, arena.Ref) {
	pos := p.pos()
	switch {
	case p.at(token.KwTypename) || p.at(token.KwClass):
		p.advanceTok()
		isPack := false
		if p.at(token.OpEllipsis) {
			p.advanceTok()
			isPack = true
		}
		var name strtab.Handle
		if p.at(token.Ident) {
			name = p.advanceTok().Text
		}
		if p.at(token.OpAssign) {
			p.advanceTok()
			p.ParseTypeSpecifier()
		}
		n := p.Pool.New(ast.KTemplateParam, pos)
		node := p.Pool.At(n)
		node.Name, node.IsPack = name, isPack
		return template.Param{Kind: template.TypeParam, Name: name, IsPack: isPack}, n

	case p.at(token.KwTemplate):
		p.advanceTok()
		p.expect(token.OpLt)
		p.templateArgDepth++
		for !p.atTemplateArgListEnd() {
			p.parseTemplateParam()
			if p.at(token.OpComma) {
				p.advanceTok()
			} else {
				break
			}
		}
		p.closeAngle()
		if p.at(token.KwClass) || p.at(token.KwTypename) {
			p.advanceTok()
		}
		var name strtab.Handle
		if p.at(token.Ident) {
			name = p.advanceTok().Text
		}
		n := p.Pool.New(ast.KTemplateParam, pos)
		p.Pool.At(n).Name = name
		return template.Param{Kind: template.TemplateTemplateParam, Name: name}, n

	default:
		ty := p.ParseTypeSpecifier()
		isPack := false
		if p.at(token.OpEllipsis) {
			p.advanceTok()
			isPack = true
		}
		var name strtab.Handle
		if p.at(token.Ident) {
			name = p.advanceTok().Text
		}
		if p.at(token.OpAssign) {
			p.advanceTok()
			p.ParseAssignmentExpression()
		}
		n := p.Pool.New(ast.KTemplateParam, pos)
		node := p.Pool.At(n)
		node.Name, node.Type, node.IsPack = name, ty, isPack
		return template.Param{Kind: template.NonTypeParam, Name: name, IsPack: isPack}, n
	}
}

// argMatcherForNode builds a selection-time ArgMatcher from a parsed
// template-argument node. An argument that resolves to a concrete,
// already-declared type becomes an exact match; anything still dependent
// at parse time (a template parameter's own use, an unresolved name, a
// non-type expression) becomes a wildcard slot, matched structurally by
// Select's specificity scoring (spec §4.3 Selection) rather than pinned to
// a literal value — non-type specialization on concrete values is future
// work (see DESIGN.md).
func (p *Parser) argMatcherForNode(ref arena.Ref) template.ArgMatcher {
	node := p.Pool.At(ref)
	if node.Kind == ast.KTypeName {
		if idx, ok := p.Types.Lookup(node.Name); ok {
			return template.ArgMatcher{ExactType: idx}
		}
	}
	return template.ArgMatcher{IsWild: true}
}
