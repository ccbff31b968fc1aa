package parser

import (
	"flashcpp/internal/arena"
	"flashcpp/internal/strtab"
	"flashcpp/internal/template"
	"flashcpp/internal/types"
)

// DeclKind classifies what a scope entry names.
type DeclKind int

const (
	DeclVariable DeclKind = iota
	DeclFunction
	DeclFunctionOverloadSet
	DeclType
	DeclTemplate
	DeclNamespace
	DeclConcept
	DeclTemplateParam
	DeclEnumerator
)

// Declaration is one scope-table entry. A scope entry for a function name
// may carry multiple Declarations sharing the name (an overload set); the
// Scope stores these as a slice keyed by name.
type Declaration struct {
	Kind DeclKind
	Name strtab.Handle
	Type types.Index // for variables/enumerators: the declared type
	Node arena.Ref    // the declaring AST node
}

// ScopeKind records why a scope was entered, for diagnostics.
type ScopeKind int

const (
	ScopeFile ScopeKind = iota
	ScopeNamespace
	ScopeClass
	ScopeFunction
	ScopeBlock
	ScopeTemplate
)

// Scope is one entry in the scope stack. Overload sets are the reason
// entries map to a slice rather than a single Declaration.
type Scope struct {
	kind    ScopeKind
	entries map[strtab.Handle][]Declaration
	parent  *Scope
}

func newScope(kind ScopeKind, parent *Scope) *Scope {
	return &Scope{kind: kind, entries: make(map[strtab.Handle][]Declaration), parent: parent}
}

// SymbolTable is the scope stack: entered on `{`, namespace, class,
// function, template, block; exited in reverse (spec §3).
type SymbolTable struct {
	current *Scope
}

func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{}
	st.current = newScope(ScopeFile, nil)
	return st
}

// Enter pushes a new scope of kind onto the stack.
func (st *SymbolTable) Enter(kind ScopeKind) {
	st.current = newScope(kind, st.current)
}

// Exit pops the innermost scope. It is a bug to call Exit on the file
// scope; the parser's block/class/function/template entry points are
// always balanced by construction.
func (st *SymbolTable) Exit() {
	if st.current.parent != nil {
		st.current = st.current.parent
	}
}

// Declare adds d to the innermost scope. Redeclaring a function name
// appends to its overload set instead of overwriting it.
func (st *SymbolTable) Declare(d Declaration) {
	st.current.entries[d.Name] = append(st.current.entries[d.Name], d)
}

// LookupResult is resolve_identifier's return value (spec §4.3): which
// kind of entity was found, and the matching declarations (more than one
// only for an overload set).
type LookupResult struct {
	Found bool
	Decls []Declaration
}

// Lookup walks the scope stack innermost-out (spec §3 "Resolution walks
// innermost-out"), stopping at the first scope that declares name.
func (st *SymbolTable) Lookup(name strtab.Handle) LookupResult {
	for s := st.current; s != nil; s = s.parent {
		if decls, ok := s.entries[name]; ok {
			return LookupResult{Found: true, Decls: decls}
		}
	}
	return LookupResult{}
}

// LookupContext narrows which admissible sources resolve_identifier may
// consult (spec §4.3): template parameters, scope stack, type registry,
// template registry. AllowConcepts is not read by Resolve: no concept
// registry is searched.
type LookupContext struct {
	AllowTemplateParams bool
	AllowScopeEntities   bool
	AllowTypeNames       bool
	AllowConcepts        bool
	AllowTemplateNames   bool
}

// ExprContext is the admissible-source set for an expression position:
// everything is fair game.
var ExprContext = LookupContext{true, true, true, true, true}

// BaseClauseContext is the admissible-source set for a base-class-clause:
// only types and type aliases.
var BaseClauseContext = LookupContext{AllowTypeNames: true}

// Resolver performs the unified two-phase lookup described in spec §4.3:
// resolve_identifier(handle, context) -> LookupResult, searching (1) active
// template parameters, (2) the scope stack, (3) the type registry, (4) the
// template registry, filtered by ctx. No concept registry is searched.
type Resolver struct {
	Symbols   *SymbolTable
	Types     *types.Registry
	Templates *template.Engine

	// activeTemplateParams is the innermost template's parameter list,
	// consulted before the scope stack proper (source 1 in spec §4.3).
	activeTemplateParams map[strtab.Handle]Declaration

	// InTemplateBody is true while ParseTemplateDeclaration parses a
	// template's body. Resolve does not read it: an unresolved name inside
	// a template body resolves (or fails) as anywhere else, and no
	// Dependent placeholder is recorded for it.
	InTemplateBody bool
}

func NewResolver(symbols *SymbolTable, reg *types.Registry, tmpl *template.Engine) *Resolver {
	return &Resolver{Symbols: symbols, Types: reg, Templates: tmpl, activeTemplateParams: map[strtab.Handle]Declaration{}}
}

func (r *Resolver) PushTemplateParam(name strtab.Handle, d Declaration) {
	r.activeTemplateParams[name] = d
}

func (r *Resolver) ClearTemplateParams() {
	r.activeTemplateParams = map[strtab.Handle]Declaration{}
}

// Resolve implements resolve_identifier.
func (r *Resolver) Resolve(name strtab.Handle, ctx LookupContext) LookupResult {
	if ctx.AllowTemplateParams {
		if d, ok := r.activeTemplateParams[name]; ok {
			return LookupResult{Found: true, Decls: []Declaration{d}}
		}
	}
	if ctx.AllowScopeEntities {
		if res := r.Symbols.Lookup(name); res.Found {
			return res
		}
	}
	if ctx.AllowTypeNames {
		if idx, ok := r.Types.Lookup(name); ok {
			return LookupResult{Found: true, Decls: []Declaration{{Kind: DeclType, Name: name, Type: idx}}}
		}
	}
	if ctx.AllowTemplateNames {
		if r.Templates.HasPattern(name) {
			return LookupResult{Found: true, Decls: []Declaration{{Kind: DeclTemplate, Name: name}}}
		}
	}
	return LookupResult{}
}
