package template

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/arena"
	"flashcpp/internal/strtab"
	"flashcpp/internal/types"
)

func newEngineAndReg(t *testing.T) (*Engine, *strtab.Table, *types.Registry) {
	t.Helper()
	strings := strtab.New()
	return New(strings), strings, types.New(strings)
}

func TestRegisterIsIdempotentForSameShape(t *testing.T) {
	e, strings, _ := newEngineAndReg(t)
	name := strings.InternString("Box")
	params := []Param{{Kind: TypeParam, Name: strings.InternString("T")}}

	first := e.Register(name, params, arena.Ref(1))
	second := e.Register(name, params, arena.Ref(2))

	require.Same(t, first, second)
	require.Equal(t, arena.Ref(1), second.Body)
}

func TestInstantiateMemoizesByCanonicalArgs(t *testing.T) {
	e, strings, reg := newEngineAndReg(t)
	name := strings.InternString("Box")
	e.Register(name, []Param{{Kind: TypeParam, Name: strings.InternString("T")}}, arena.Ref(1))

	intArg := []CanonicalArg{{IsType: true, Type: reg.IntType(32, true)}}
	calls := 0
	makeEntity := func() (Entity, error) {
		calls++
		return Entity{IsType: true, Type: reg.IntType(32, true)}, nil
	}

	first, err := e.Instantiate(name, intArg, makeEntity)
	require.NoError(t, err)
	second, err := e.Instantiate(name, intArg, makeEntity)
	require.NoError(t, err)

	require.Equal(t, 1, calls, "second Instantiate call with identical args must hit the cache")
	require.Equal(t, first, second)
}

func TestInstantiateDistinguishesArgs(t *testing.T) {
	e, strings, reg := newEngineAndReg(t)
	name := strings.InternString("Box")
	e.Register(name, []Param{{Kind: TypeParam, Name: strings.InternString("T")}}, arena.Ref(1))

	intArg := []CanonicalArg{{IsType: true, Type: reg.IntType(32, true)}}
	floatArg := []CanonicalArg{{IsType: true, Type: reg.FloatType(64)}}

	intName := e.InstantiatedName(name, intArg)
	floatName := e.InstantiatedName(name, floatArg)
	require.NotEqual(t, intName, floatName)

	_, err := e.Instantiate(name, intArg, func() (Entity, error) { return Entity{Type: reg.IntType(32, true)}, nil })
	require.NoError(t, err)
	_, err = e.Instantiate(name, floatArg, func() (Entity, error) { return Entity{Type: reg.FloatType(64)}, nil })
	require.NoError(t, err)
}

func TestInstantiateRejectsReentrancy(t *testing.T) {
	e, strings, _ := newEngineAndReg(t)
	name := strings.InternString("Recur")
	e.Register(name, nil, arena.Ref(1))

	var makeEntity func() (Entity, error)
	makeEntity = func() (Entity, error) {
		return e.Instantiate(name, nil, makeEntity)
	}
	_, err := e.Instantiate(name, nil, makeEntity)
	require.Error(t, err)
}

func TestSelectPrefersFullOverPartialOverPrimary(t *testing.T) {
	e, strings, reg := newEngineAndReg(t)
	name := strings.InternString("Stack")
	intTy := reg.IntType(32, true)
	p := e.Register(name, []Param{{Kind: TypeParam, Name: strings.InternString("T")}}, arena.Ref(1) /* primary */)

	e.AddSpecialization(name, Specialization{
		ArgPattern: []ArgMatcher{{IsWild: true}},
		IsPartial:  true,
		Body:       arena.Ref(2),
	})
	e.AddSpecialization(name, Specialization{
		ArgPattern: []ArgMatcher{{ExactType: intTy}},
		IsPartial:  false,
		Body:       arena.Ref(3),
	})

	body, matched := Select(p, []CanonicalArg{{IsType: true, Type: intTy}}, nil)
	require.Equal(t, arena.Ref(3), body, "a full specialization must win over any partial match")
	require.NotNil(t, matched)
	require.False(t, matched.IsPartial)

	body, matched = Select(p, []CanonicalArg{{IsType: true, Type: reg.FloatType(64)}}, nil)
	require.Equal(t, arena.Ref(2), body, "no full-specialization match falls back to the matching partial")
	require.NotNil(t, matched)
	require.True(t, matched.IsPartial)
}

func TestSelectFallsBackToPrimary(t *testing.T) {
	e, strings, _ := newEngineAndReg(t)
	name := strings.InternString("Pair")
	p := e.Register(name, []Param{{Kind: TypeParam, Name: strings.InternString("T")}}, arena.Ref(7))

	body, matched := Select(p, []CanonicalArg{{IsType: true, Type: types.Invalid}}, nil)
	require.Equal(t, arena.Ref(7), body)
	require.Nil(t, matched)
}

func TestPatternLookup(t *testing.T) {
	e, strings, _ := newEngineAndReg(t)
	name := strings.InternString("Known")
	require.False(t, e.HasPattern(name))

	e.Register(name, nil, arena.Ref(1))
	p, ok := e.Pattern(name)
	require.True(t, ok)
	require.Equal(t, name, p.UnqualifiedName)

	_, ok = e.Pattern(strings.InternString("Unknown"))
	require.False(t, ok)
}
