package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/arena"
	"flashcpp/internal/ast"
	"flashcpp/internal/strtab"
	"flashcpp/internal/template"
	"flashcpp/internal/types"
)

func newParser(t *testing.T, src string) *Parser {
	t.Helper()
	strings := strtab.New()
	typeReg := types.New(strings)
	tmpl := template.New(strings)
	return New([]byte(src), 0, "test.cpp", strings, typeReg, tmpl, TargetLinuxSysV)
}

func TestParseTranslationUnitTwoFunctions(t *testing.T) {
	p := newParser(t, `
		int add(int a, int b) { return a + b; }
		int main() { return add(1, 2); }
	`)
	tu := p.ParseTranslationUnit()
	require.False(t, p.Diagnostics().HasErrors())

	root := p.Pool.At(tu)
	require.Equal(t, ast.KTranslationUnit, root.Kind)
	require.Len(t, root.Nodes, 2)

	add := p.Pool.At(root.Nodes[0])
	require.Equal(t, ast.KFunctionDecl, add.Kind)
	require.Equal(t, "add", p.Strings.ViewString(add.Name))
	require.Len(t, add.Nodes, 2, "add(int,int) has two parameters")
	require.NotEqual(t, arena.Nil, add.Body)

	main := p.Pool.At(root.Nodes[1])
	require.Equal(t, ast.KFunctionDecl, main.Kind)
	require.Equal(t, "main", p.Strings.ViewString(main.Name))
}

func TestParseGlobalVarDecl(t *testing.T) {
	p := newParser(t, `int counter = 42;`)
	tu := p.ParseTranslationUnit()
	require.False(t, p.Diagnostics().HasErrors())

	root := p.Pool.At(tu)
	require.Len(t, root.Nodes, 1)
	v := p.Pool.At(root.Nodes[0])
	require.Equal(t, ast.KVarDecl, v.Kind)
	require.Equal(t, "counter", p.Strings.ViewString(v.Name))
}

func TestParseRecoversFromMalformedTopLevelDecl(t *testing.T) {
	p := newParser(t, `
		int ??? ;
		int ok() { return 0; }
	`)
	tu := p.ParseTranslationUnit()
	require.True(t, p.Diagnostics().HasErrors(), "the malformed first declaration must be reported")

	root := p.Pool.At(tu)
	require.Len(t, root.Nodes, 1, "parsing resumes after the malformed declaration")
	ok := p.Pool.At(root.Nodes[0])
	require.Equal(t, ast.KFunctionDecl, ok.Kind)
	require.Equal(t, "ok", p.Strings.ViewString(ok.Name))
}
