// Package token defines the 32-bit tagged token identity the lexer and
// parser share, per spec §3.
package token

import "flashcpp/internal/strtab"

// Category is the coarse classification of a Kind.
type Category uint8

const (
	CatIdentifier Category = iota
	CatKeyword
	CatOperator
	CatPunctuator
	CatLiteralInt
	CatLiteralFloat
	CatLiteralString
	CatLiteralChar
	CatEOF
)

// Kind is a 32-bit tagged identity: category in the high byte, id in the
// low three bytes. Alternative spellings (and/&&, or/||, ...) map to the
// same Kind, since the lexer canonicalizes before emitting.
type Kind uint32

func mk(cat Category, id uint32) Kind {
	return Kind(uint32(cat)<<24 | id&0x00FFFFFF)
}

func (k Kind) Category() Category { return Category(k >> 24) }
func (k Kind) IsKeyword() bool    { return k.Category() == CatKeyword }
func (k Kind) IsOperator() bool   { return k.Category() == CatOperator }
func (k Kind) IsLiteral() bool {
	switch k.Category() {
	case CatLiteralInt, CatLiteralFloat, CatLiteralString, CatLiteralChar:
		return true
	default:
		return false
	}
}

func kw(id uint32) Kind  { return mk(CatKeyword, id) }
func op(id uint32) Kind  { return mk(CatOperator, id) }
func pun(id uint32) Kind { return mk(CatPunctuator, id) }

// Keyword identities.
var (
	KwAlignas         = kw(1)
	KwAlignof         = kw(2)
	KwAsm             = kw(3)
	KwAuto            = kw(4)
	KwBool            = kw(5)
	KwBreak           = kw(6)
	KwCase            = kw(7)
	KwCatch           = kw(8)
	KwChar            = kw(9)
	KwChar8T          = kw(10)
	KwChar16T         = kw(11)
	KwChar32T         = kw(12)
	KwClass           = kw(13)
	KwConcept         = kw(14)
	KwConst           = kw(15)
	KwConsteval       = kw(16)
	KwConstexpr       = kw(17)
	KwConstinit       = kw(18)
	KwConstCast       = kw(19)
	KwContinue        = kw(20)
	KwDecltype        = kw(21)
	KwDefault         = kw(22)
	KwDelete          = kw(23)
	KwDo              = kw(24)
	KwDouble          = kw(25)
	KwDynamicCast     = kw(26)
	KwElse            = kw(27)
	KwEnum            = kw(28)
	KwExplicit        = kw(29)
	KwExport          = kw(30)
	KwExtern          = kw(31)
	KwFalse           = kw(32)
	KwFloat           = kw(33)
	KwFor             = kw(34)
	KwFriend          = kw(35)
	KwGoto            = kw(36)
	KwIf              = kw(37)
	KwInline          = kw(38)
	KwInt             = kw(39)
	KwLong            = kw(40)
	KwMutable         = kw(41)
	KwNamespace       = kw(42)
	KwNew             = kw(43)
	KwNoexcept        = kw(44)
	KwNullptr         = kw(45)
	KwOperator        = kw(46)
	KwPrivate         = kw(47)
	KwProtected       = kw(48)
	KwPublic          = kw(49)
	KwRegister        = kw(50)
	KwReinterpretCast = kw(51)
	KwRequires        = kw(52)
	KwReturn          = kw(53)
	KwShort           = kw(54)
	KwSigned          = kw(55)
	KwSizeof          = kw(56)
	KwStatic          = kw(57)
	KwStaticAssert    = kw(58)
	KwStaticCast      = kw(59)
	KwStruct          = kw(60)
	KwSwitch          = kw(61)
	KwTemplate        = kw(62)
	KwThis            = kw(63)
	KwThreadLocal     = kw(64)
	KwThrow           = kw(65)
	KwTrue            = kw(66)
	KwTry             = kw(67)
	KwTypedef         = kw(68)
	KwTypeid          = kw(69)
	KwTypename        = kw(70)
	KwUnion           = kw(71)
	KwUnsigned        = kw(72)
	KwUsing           = kw(73)
	KwVirtual         = kw(74)
	KwVoid            = kw(75)
	KwVolatile        = kw(76)
	KwWcharT          = kw(77)
	KwWhile           = kw(78)
)

// Operator identities. Alternative spellings (and/&&) share the same Kind
// value as their canonical symbol, so lookups never need to branch on
// spelling downstream of the lexer.
var (
	OpPlus       = op(1)
	OpMinus      = op(2)
	OpStar       = op(3)
	OpSlash      = op(4)
	OpPercent    = op(5)
	OpAmp        = op(6)
	OpPipe       = op(7)
	OpCaret      = op(8)
	OpTilde      = op(9)
	OpBang       = op(10)
	OpAssign     = op(11)
	OpLt         = op(12)
	OpGt         = op(13)
	OpPlusEq     = op(14)
	OpMinusEq    = op(15)
	OpStarEq     = op(16)
	OpSlashEq    = op(17)
	OpPercentEq  = op(18)
	OpAmpEq      = op(19)
	OpPipeEq     = op(20)
	OpCaretEq    = op(21)
	OpShlEq      = op(22)
	OpShrEq      = op(23)
	OpEq         = op(24)
	OpBangEq     = op(25)
	OpLeq        = op(26)
	OpGeq        = op(27)
	OpSpaceship  = op(28)
	OpAmpAmp     = op(29)
	OpPipePipe   = op(30)
	OpPlusPlus   = op(31)
	OpMinusMinus = op(32)
	OpComma      = op(33)
	OpArrow      = op(34)
	OpArrowStar  = op(35)
	OpDot        = op(36)
	OpDotStar    = op(37)
	OpShl        = op(38)
	OpShr        = op(39)
	OpEllipsis   = op(40)
)

// Punctuator identities.
var (
	PLParen     = pun(1)
	PRParen     = pun(2)
	PLBrace     = pun(3)
	PRBrace     = pun(4)
	PLBracket   = pun(5)
	PRBracket   = pun(6)
	PSemicolon  = pun(7)
	PColon      = pun(8)
	PColonColon = pun(9)
	PQuestion   = pun(10)
)

// Identifier/literal/EOF categories are single-valued: the category alone
// is the discriminator downstream.
var (
	Ident     = mk(CatIdentifier, 1)
	IntLit    = mk(CatLiteralInt, 1)
	FloatLit  = mk(CatLiteralFloat, 1)
	StringLit = mk(CatLiteralString, 1)
	CharLit   = mk(CatLiteralChar, 1)
	EOF       = mk(CatEOF, 1)
)

// Keywords maps spellings (including the alternative operator spellings
// "and", "or", "not", ...) to their canonical Kind.
var Keywords = map[string]Kind{
	"alignas": KwAlignas, "alignof": KwAlignof, "asm": KwAsm, "auto": KwAuto,
	"bool": KwBool, "break": KwBreak, "case": KwCase, "catch": KwCatch,
	"char": KwChar, "char8_t": KwChar8T, "char16_t": KwChar16T, "char32_t": KwChar32T,
	"class": KwClass, "concept": KwConcept, "const": KwConst,
	"consteval": KwConsteval, "constexpr": KwConstexpr, "constinit": KwConstinit,
	"const_cast": KwConstCast, "continue": KwContinue, "decltype": KwDecltype,
	"default": KwDefault, "delete": KwDelete, "do": KwDo, "double": KwDouble,
	"dynamic_cast": KwDynamicCast, "else": KwElse, "enum": KwEnum,
	"explicit": KwExplicit, "export": KwExport, "extern": KwExtern,
	"false": KwFalse, "float": KwFloat, "for": KwFor, "friend": KwFriend,
	"goto": KwGoto, "if": KwIf, "inline": KwInline, "int": KwInt, "long": KwLong,
	"mutable": KwMutable, "namespace": KwNamespace, "new": KwNew,
	"noexcept": KwNoexcept, "nullptr": KwNullptr, "operator": KwOperator,
	"private": KwPrivate, "protected": KwProtected, "public": KwPublic,
	"register": KwRegister, "reinterpret_cast": KwReinterpretCast,
	"requires": KwRequires, "return": KwReturn, "short": KwShort,
	"signed": KwSigned, "sizeof": KwSizeof, "static": KwStatic,
	"static_assert": KwStaticAssert, "static_cast": KwStaticCast,
	"struct": KwStruct, "switch": KwSwitch, "template": KwTemplate,
	"this": KwThis, "thread_local": KwThreadLocal, "throw": KwThrow,
	"true": KwTrue, "try": KwTry, "typedef": KwTypedef, "typeid": KwTypeid,
	"typename": KwTypename, "union": KwUnion, "unsigned": KwUnsigned,
	"using": KwUsing, "virtual": KwVirtual, "void": KwVoid,
	"volatile": KwVolatile, "wchar_t": KwWcharT, "while": KwWhile,

	// Alternative operator spellings unify to the same operator identity.
	"and": OpAmpAmp, "or": OpPipePipe, "not": OpBang, "xor": OpCaret,
	"bitand": OpAmp, "bitor": OpPipe, "compl": OpTilde,
	"and_eq": OpAmpEq, "or_eq": OpPipeEq, "xor_eq": OpCaretEq, "not_eq": OpBangEq,
}

// Token bundles the kind, interned text, and source location. Locations
// are 1-based per spec §4.2.
type Token struct {
	Kind   Kind
	Text   strtab.Handle
	Line   int
	Column int
	File   int
}

func (t Token) String() string {
	return t.Kind.Name()
}

// Name renders a Kind for diagnostics (e.g. "operator '+'" style messages
// in the parser's expect()).
func (k Kind) Name() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	switch k.Category() {
	case CatIdentifier:
		return "identifier"
	case CatLiteralInt:
		return "integer literal"
	case CatLiteralFloat:
		return "floating literal"
	case CatLiteralString:
		return "string literal"
	case CatLiteralChar:
		return "character literal"
	case CatEOF:
		return "end of file"
	default:
		return "token"
	}
}

var kindNames = map[Kind]string{
	PLParen: "(", PRParen: ")", PLBrace: "{", PRBrace: "}",
	PLBracket: "[", PRBracket: "]", PSemicolon: ";", PColon: ":",
	PColonColon: "::", PQuestion: "?",
	OpPlus: "+", OpMinus: "-", OpStar: "*", OpSlash: "/", OpPercent: "%",
	OpAmp: "&", OpPipe: "|", OpCaret: "^", OpTilde: "~", OpBang: "!",
	OpAssign: "=", OpLt: "<", OpGt: ">", OpEq: "==", OpBangEq: "!=",
	OpLeq: "<=", OpGeq: ">=", OpSpaceship: "<=>", OpAmpAmp: "&&",
	OpPipePipe: "||", OpPlusPlus: "++", OpMinusMinus: "--", OpComma: ",",
	OpArrow: "->", OpArrowStar: "->*", OpDot: ".", OpDotStar: ".*",
	OpShl: "<<", OpShr: ">>", OpEllipsis: "...",
}
