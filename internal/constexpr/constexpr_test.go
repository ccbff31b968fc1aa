package constexpr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/ast"
	"flashcpp/internal/diag"
	"flashcpp/internal/token"
)

func TestEvalArithmetic(t *testing.T) {
	pool := ast.NewPool()
	env := NewEnv(pool)

	a := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(a).IntValue = 20
	b := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(b).IntValue = 12
	add := pool.New(ast.KBinaryExpr, diag.Pos{})
	pool.At(add).Operator = token.OpPlus
	pool.At(add).X = a
	pool.At(add).Y = b

	v, err := Eval(env, add)
	require.NoError(t, err)
	require.True(t, v.IsInt)
	require.Equal(t, int64(32), v.Int)
}

func TestDivByZero(t *testing.T) {
	pool := ast.NewPool()
	env := NewEnv(pool)
	a := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(a).IntValue = 1
	b := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(b).IntValue = 0
	div := pool.New(ast.KBinaryExpr, diag.Pos{})
	pool.At(div).Operator = token.OpSlash
	pool.At(div).X = a
	pool.At(div).Y = b

	_, err := Eval(env, div)
	require.Error(t, err)
	evalErr, ok := err.(*EvalError)
	require.True(t, ok)
	require.Equal(t, DivByZero, evalErr.Kind)
}

func TestTernary(t *testing.T) {
	pool := ast.NewPool()
	env := NewEnv(pool)
	cond := pool.New(ast.KBoolLiteral, diag.Pos{})
	pool.At(cond).BoolValue = true
	then := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(then).IntValue = 1
	els := pool.New(ast.KIntLiteral, diag.Pos{})
	pool.At(els).IntValue = 2
	tern := pool.New(ast.KConditionalExpr, diag.Pos{})
	pool.At(tern).X = cond
	pool.At(tern).Y = then
	pool.At(tern).Z = els

	v, err := Eval(env, tern)
	require.NoError(t, err)
	require.Equal(t, int64(1), v.AsInt())
}
