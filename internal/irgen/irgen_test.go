package irgen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/arena"
	"flashcpp/internal/ast"
	"flashcpp/internal/diag"
	"flashcpp/internal/ir"
	"flashcpp/internal/strtab"
	"flashcpp/internal/template"
	"flashcpp/internal/types"
)

func newBuilder(t *testing.T) (*Builder, *ast.Pool, *strtab.Table, *types.Registry) {
	t.Helper()
	pool := ast.NewPool()
	strings := strtab.New()
	reg := types.New(strings)
	tmpl := template.New(strings)
	b := NewBuilder(pool, reg, strings, tmpl, SysV, &diag.Sink{})
	return b, pool, strings, reg
}

// buildReturnIntFunction builds `int <name>() { return <value>; }`.
func buildReturnIntFunction(pool *ast.Pool, strings *strtab.Table, reg *types.Registry, name string, value int64) arena.Ref {
	lit := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(lit).IntValue = value
	pool.At(lit).ResolvedType = reg.IntType(32, true)

	ret := pool.New(ast.KReturnStmt, diag.Pos{})
	pool.At(ret).X = lit

	body := pool.New(ast.KCompoundStmt, diag.Pos{})
	pool.At(body).Nodes = []arena.Ref{ret}

	fn := pool.New(ast.KFunctionDecl, diag.Pos{})
	n := pool.At(fn)
	n.Name = strings.InternString(name)
	n.ResolvedType = reg.IntType(32, true)
	n.Body = body
	return fn
}

func TestLowerFunctionEmitsReturn(t *testing.T) {
	b, pool, strings, reg := newBuilder(t)
	fn := buildReturnIntFunction(pool, strings, reg, "answer", 42)

	tu := pool.New(ast.KTranslationUnit, diag.Pos{})
	pool.At(tu).Nodes = []arena.Ref{fn}

	mod := b.Lower(tu)
	require.Len(t, mod.Funcs, 1)
	f := mod.Funcs[0]
	require.Equal(t, "answer", f.Name)

	last := f.Code[len(f.Code)-1]
	require.Equal(t, ir.OpReturn, last.Op)
}

func TestLowerCallEmitsOpCall(t *testing.T) {
	b, pool, strings, _ := newBuilder(t)

	callee := pool.New(ast.KIdentExpr, diag.Pos{})
	pool.At(callee).Name = strings.InternString("helper")
	call := pool.New(ast.KCallExpr, diag.Pos{})
	pool.At(call).X = callee

	b.fn = ir.NewFunction("caller", 0)
	b.locals = map[strtab.Handle]int{}
	result := b.lowerCall(pool.At(call))

	require.NotEqual(t, ir.NoResult, result)
	found := false
	for _, inst := range b.fn.Code {
		if inst.Op == ir.OpCall {
			found = true
		}
	}
	require.True(t, found, "lowering a KCallExpr must emit ir.OpCall")
}

func TestInstantiateCallTemplateLowersBodyOncePerArgSet(t *testing.T) {
	b, pool, strings, reg := newBuilder(t)

	templateName := strings.InternString("identity")
	paramT := strings.InternString("T")
	body := buildReturnIntFunction(pool, strings, reg, "identity", 7)
	b.Templates.Register(templateName, []template.Param{{Kind: template.TypeParam, Name: paramT}}, body)

	typeArgName := strings.InternString("int")
	reg.Declare(typeArgName, types.TypeInfo{Kind: types.Int, SizeBits: 32, IntSigned: true})
	typeArg := pool.New(ast.KTypeName, diag.Pos{})
	pool.At(typeArg).Name = typeArgName

	callee := pool.New(ast.KTemplateIdExpr, diag.Pos{})
	cn := pool.At(callee)
	cn.Name = templateName
	cn.TemplateArgs = []arena.Ref{typeArg}

	b.fn = ir.NewFunction("caller", 0)
	b.locals = map[strtab.Handle]int{}
	mangled := b.instantiateCallTemplate(cn)

	require.NotEqual(t, "identity", mangled, "a template instantiation must mangle to a distinct name")
	require.Len(t, b.mod.Funcs, 1, "the selected template body must be lowered exactly once")
	require.Equal(t, mangled, b.mod.Funcs[0].Name)

	// A second call site with the same canonical argument must reuse the
	// cached instantiation instead of lowering the body again.
	again := b.instantiateCallTemplate(cn)
	require.Equal(t, mangled, again)
	require.Len(t, b.mod.Funcs, 1)
}
