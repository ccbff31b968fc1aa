// Package ast defines the tagged-sum AST node the parser builds, per spec
// §3 ("~80 node kinds"). The shape follows the teacher's single generic
// Node struct (std/compiler/parser.go's Node{Kind, Pos, Name, Nodes, X, Y,
// Body, Type}) widened with the extra shared fields C++ needs (template
// arguments, declaration specifiers, constant values, resolved type/symbol
// back-references) rather than one struct type per node kind — the
// teacher's single-struct-plus-tag idiom scales better than ~80 Go types
// for a recursive-descent parser that mostly just wires up Nodes/X/Y/Body.
package ast

import (
	"flashcpp/internal/arena"
	"flashcpp/internal/diag"
	"flashcpp/internal/strtab"
	"flashcpp/internal/token"
	"flashcpp/internal/types"
)

// Kind tags the node's syntactic category.
type Kind int

const (
	// Translation unit / declarations
	KTranslationUnit Kind = iota
	KNamespaceDecl
	KUsingDecl
	KUsingDirective
	KFunctionDecl
	KVarDecl
	KParamDecl
	KStructDecl
	KEnumDecl
	KEnumeratorDecl
	KTypeAliasDecl
	KFriendDecl
	KStaticAssertDecl
	KTemplateDecl
	KTemplateParam
	KTemplateSpecializationDecl

	// Type specifiers
	KTypeName     // a resolved/qualified type-id
	KAutoType
	KDecltypeType
	KPointerType
	KReferenceType
	KArrayType
	KFunctionType
	KTemplateIdType

	// Statements
	KCompoundStmt
	KExprStmt
	KDeclStmt
	KIfStmt
	KWhileStmt
	KDoStmt
	KForStmt
	KRangeForStmt
	KSwitchStmt
	KCaseLabel
	KDefaultLabel
	KBreakStmt
	KContinueStmt
	KReturnStmt
	KGotoStmt
	KLabelStmt
	KTryStmt
	KCatchClause
	KThrowStmt
	KNullStmt

	// Expressions
	KIntLiteral
	KFloatLiteral
	KStringLiteral
	KCharLiteral
	KBoolLiteral
	KNullptrLiteral
	KIdentExpr
	KQualifiedIdExpr
	KTemplateIdExpr
	KBinaryExpr
	KUnaryExpr
	KPostfixIncDec
	KAssignExpr
	KConditionalExpr
	KCommaExpr
	KCallExpr
	KMemberExpr
	KArrowMemberExpr
	KSubscriptExpr
	KCastExpr
	KStaticCastExpr
	KDynamicCastExpr
	KReinterpretCastExpr
	KConstCastExpr
	KSizeofExpr
	KSizeofTypeExpr
	KNewExpr
	KDeleteExpr
	KThisExpr
	KLambdaExpr
	KInitListExpr
	KStructuredBindingDecl
	KParenExpr

	numNodeKinds
)

// DeclSpec carries the parsed declaration-specifier set (spec §4.3 step 1).
type DeclSpec struct {
	IsStatic     bool
	IsExtern     bool
	IsConstexpr  bool
	IsConsteval  bool
	IsConstinit  bool
	IsInline     bool
	IsVirtual    bool
	IsExplicit   bool
	IsFriend     bool
	IsTypedef    bool
	IsMutable    bool
	IsThreadLocal bool
	CallingConv  string // "", "cdecl", "stdcall", "fastcall", "thiscall", "vectorcall"
}

// Node is FlashCpp's single AST node type. Every node carries a source span
// and owns its children through Nodes/X/Y/Body/Type, mirroring the
// teacher's Node struct; unused fields for a given Kind are simply zero.
type Node struct {
	Kind Kind
	Pos  diag.Pos

	Name  strtab.Handle
	Nodes []arena.Ref // generic child list: statements in a block, args in a call, etc.
	X, Y  arena.Ref   // primary operand pair: lhs/rhs, condition/then, etc.
	Z     arena.Ref   // third operand: for ternary's else-branch, for-loop's post-expr
	Body  arena.Ref
	Type  arena.Ref // a type-specifier child node, pre-resolution

	// Populated once this node has been resolved against the type/symbol
	// tables (post-parse, or during constexpr evaluation).
	ResolvedType types.Index

	Spec DeclSpec

	// Literal payload, keyed by Kind: IntValue for KIntLiteral, FloatValue
	// for KFloatLiteral, StringValue (interned) for KStringLiteral, etc.
	IntValue    int64
	FloatValue  float64
	StringValue strtab.Handle
	BoolValue   bool

	// TemplateArgs holds template-id argument nodes (KTemplateIdExpr /
	// KTemplateIdType); TemplateParams holds a template declaration's
	// parameter list (KTemplateDecl).
	TemplateArgs   []arena.Ref
	TemplateParams []arena.Ref

	// Operator carries the token.Kind of a binary/unary/assignment operator.
	Operator token.Kind

	// IsPack marks a template parameter or function parameter declared
	// with a `...` pack-expansion marker.
	IsPack bool
}

// Pool is the per-translation-unit arena AST nodes are allocated from.
type Pool struct {
	*arena.Arena[Node]
}

func NewPool() *Pool {
	return &Pool{Arena: arena.New[Node]()}
}

// New allocates a node of the given kind at pos and returns its Ref.
func (p *Pool) New(kind Kind, pos diag.Pos) arena.Ref {
	ref := p.Alloc()
	n := p.At(ref)
	n.Kind = kind
	n.Pos = pos
	n.X, n.Y, n.Z, n.Body, n.Type = arena.Nil, arena.Nil, arena.Nil, arena.Nil, arena.Nil
	return ref
}
