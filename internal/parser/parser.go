// Package parser implements FlashCpp's recursive-descent C++20 parser with
// unbounded lookahead via save/restore, per spec §4.3. It owns the scope
// stack, the symbol table, the template registry, and the context flags
// that steer ambiguity resolution.
//
// The method-per-production shape (parseX returning a node, `p.at`/`p.match`/
// `p.expect` helpers, an `errorf` that records and continues) follows the
// teacher's Parser in std/compiler/parser.go line for line in spirit; only
// the grammar differs.
package parser

import (
	"flashcpp/internal/arena"
	"flashcpp/internal/ast"
	"flashcpp/internal/constexpr"
	"flashcpp/internal/diag"
	"flashcpp/internal/lexer"
	"flashcpp/internal/strtab"
	"flashcpp/internal/template"
	"flashcpp/internal/token"
	"flashcpp/internal/types"
)

// DeclContext is the context parse_declaration is invoked under; it
// changes which declaration forms and terminators are admissible (spec
// §4.3 step 1 of the unified entry point).
type DeclContext int

const (
	TopLevel DeclContext = iota
	BlockScope
	ClassMember
	ForInit
	LambdaCapture
)

// Parser is FlashCpp's single parser instance for one translation unit.
type Parser struct {
	stream *TokenStream

	Pool     *ast.Pool
	Strings  *strtab.Table
	Types    *types.Registry
	Templates *template.Engine
	Symbols  *SymbolTable
	Resolver *Resolver

	diags *diag.Sink
	file  string

	// templateArgDepth counts the template-argument/parameter lists
	// currently open: incremented on their `<`, decremented by closeAngle.
	// No parse decision reads it.
	templateArgDepth int

	// target selects which ABI-specific bits (calling convention defaults,
	// pointer width assumptions surfaced to sizeof/alignof at parse time
	// for constexpr evaluation) are in effect.
	target Target
}

// Target names the code-generation target the parser's constexpr
// evaluator needs for sizeof/alignof on pointer-sized things.
type Target int

const (
	TargetLinuxSysV Target = iota
	TargetWin64
)

func New(src []byte, fileIdx int, fileName string, strings *strtab.Table, typeReg *types.Registry, tmpl *template.Engine, target Target) *Parser {
	lx := lexer.New(src, fileIdx, strings)
	symbols := NewSymbolTable()
	p := &Parser{
		stream:    NewTokenStream(lx),
		Pool:      ast.NewPool(),
		Strings:   strings,
		Types:     typeReg,
		Templates: tmpl,
		Symbols:   symbols,
		diags:     &diag.Sink{},
		file:      fileName,
		target:    target,
	}
	p.Resolver = NewResolver(symbols, typeReg, tmpl)
	return p
}

func (p *Parser) Diagnostics() *diag.Sink { return p.diags }

func (p *Parser) pos() diag.Pos {
	t := p.stream.Peek(0)
	return diag.Pos{File: p.file, Line: t.Line, Column: t.Column}
}

func (p *Parser) peek() token.Token          { return p.stream.Peek(0) }
func (p *Parser) peekAt(k int) token.Token   { return p.stream.Peek(k) }
func (p *Parser) advanceTok() token.Token    { return p.stream.Advance() }
func (p *Parser) at(kind token.Kind) bool    { return p.peek().Kind == kind }

func (p *Parser) match(kinds ...token.Kind) bool {
	k := p.peek().Kind
	for _, kind := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// expect consumes the current token if it matches kind; otherwise it
// records a recoverable diagnostic (spec §7 tier 2) and returns the
// unexpected token without consuming the stream further, so the caller's
// recovery (skip to `;` or balanced brace) can take over.
func (p *Parser) expect(kind token.Kind) token.Token {
	tok := p.peek()
	if tok.Kind != kind {
		p.errorf("expected %s, got %s", kind.Name(), tok.Kind.Name())
		return tok
	}
	return p.advanceTok()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.diags.Report(diag.Recoverablef(p.pos(), format, args...))
}

func (p *Parser) fatalf(format string, args ...interface{}) *diag.Error {
	return diag.New(p.pos(), format, args...)
}

// synchronizeToTopLevel implements the recoverable-error policy of spec §7
// tier 2: skip to the next top-level `;` or balanced-brace boundary.
func (p *Parser) synchronizeToTopLevel() {
	depth := 0
	for {
		t := p.peek()
		switch t.Kind {
		case token.EOF:
			return
		case token.PLBrace:
			depth++
			p.advanceTok()
		case token.PRBrace:
			if depth == 0 {
				p.advanceTok()
				return
			}
			depth--
			p.advanceTok()
		case token.PSemicolon:
			p.advanceTok()
			if depth == 0 {
				return
			}
		default:
			p.advanceTok()
		}
	}
}

// ParseTranslationUnit is the top-level entry point: a sequence of
// TopLevel declarations until EOF, each guarded so a recoverable error in
// one declaration does not abort the whole TU (spec §7 tier 2).
func (p *Parser) ParseTranslationUnit() arena.Ref {
	tu := p.Pool.New(ast.KTranslationUnit, p.pos())
	var decls []arena.Ref
	for !p.at(token.EOF) {
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
	p.Pool.At(tu).Nodes = decls
	return tu
}

// NewEnvForConstexpr builds a constexpr.Env rooted at the parser's AST
// pool, for static_assert and non-type template argument evaluation.
func (p *Parser) NewEnvForConstexpr() *constexpr.Env {
	return constexpr.NewEnv(p.Pool)
}
