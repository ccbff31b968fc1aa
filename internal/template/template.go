// Package template implements the TemplateEngine: registration, selection,
// and memoized instantiation of class/function/variable templates, per
// spec §3/§4.3.
//
// The teacher (tinyrange-rtg) has no generics/templates to ground this on;
// the memoized-cache *shape* instead follows the same append-and-dedupe
// idiom used throughout the teacher's codegen (e.g. stringMap in
// std/compiler/backend_x64.go: hash the key, return the existing entry on
// a hit, allocate and register on a miss).
package template

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"flashcpp/internal/arena"
	"flashcpp/internal/diag"
	"flashcpp/internal/strtab"
	"flashcpp/internal/types"
)

// ParamKind distinguishes a template parameter's role.
type ParamKind int

const (
	TypeParam ParamKind = iota
	NonTypeParam
	TemplateTemplateParam
)

// Param is one entry in a TemplatePattern's parameter list.
type Param struct {
	Kind     ParamKind
	Name     strtab.Handle
	IsPack   bool
	NonTypeT types.Index // for NonTypeParam: the parameter's own type
}

// Specialization is one partial or full specialization registered against
// a pattern.
type Specialization struct {
	ArgPattern []ArgMatcher
	IsPartial  bool
	Body       arena.Ref
}

// ArgMatcher matches one canonical argument slot during selection. IsWild
// means "matches any argument" (a template parameter use in a partial
// specialization's argument list); otherwise the argument must be a type
// equal to ExactType (spec §4.3 selection: full specialization wins over
// partial, tighter partial wins over looser, primary is the fallback).
type ArgMatcher struct {
	ExactType types.Index
	IsWild    bool
}

// Pattern is a registered template declaration.
type Pattern struct {
	UnqualifiedName strtab.Handle
	Params          []Param
	Constraint      arena.Ref // requires-clause AST node, or arena.Nil
	Body            arena.Ref
	Specializations []Specialization
}

// CanonicalArg is one resolved template argument: a type, an integer value,
// or (for template-template arguments) a nested argument list.
type CanonicalArg struct {
	IsType   bool
	Type     types.Index
	IsValue  bool
	Value    int64
	IsNested bool
	Nested   []CanonicalArg
}

type cacheKey struct {
	pattern strtab.Handle
	argsHex string
}

// Entity is what an instantiation produces: a type (class template) or a
// declaration handle (function/variable template). Exactly one of the two
// is meaningful, matching spec §3's "TypeIndex or declaration".
type Entity struct {
	IsType bool
	Type   types.Index
	Decl   arena.Ref
}

// Engine owns the pattern registry and the instantiation cache for one
// translation unit.
type Engine struct {
	patterns map[strtab.Handle]*Pattern
	cache    map[cacheKey]Entity
	inFlight map[cacheKey]bool // recursive-instantiation guard, spec §5
	strtab   *strtab.Table
}

func New(strings *strtab.Table) *Engine {
	return &Engine{
		patterns: make(map[strtab.Handle]*Pattern),
		cache:    make(map[cacheKey]Entity),
		inFlight: make(map[cacheKey]bool),
		strtab:   strings,
	}
}

func (e *Engine) HasPattern(name strtab.Handle) bool {
	_, ok := e.patterns[name]
	return ok
}

// Pattern returns the registered pattern for name, if any — the lookup
// irgen needs to drive Select/Instantiate for a template-id use site.
func (e *Engine) Pattern(name strtab.Handle) (*Pattern, bool) {
	p, ok := e.patterns[name]
	return p, ok
}

// Register stores pattern under its unqualified name (spec §4.3
// Registration: "stripping any enclosing namespace prefix"). Re-registering
// the same name with an identical parameter list is idempotent.
func (e *Engine) Register(unqualifiedName strtab.Handle, params []Param, body arena.Ref) *Pattern {
	if existing, ok := e.patterns[unqualifiedName]; ok && paramsEqual(existing.Params, params) {
		return existing
	}
	p := &Pattern{UnqualifiedName: unqualifiedName, Params: params, Body: body}
	e.patterns[unqualifiedName] = p
	return p
}

func paramsEqual(a, b []Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].IsPack != b[i].IsPack {
			return false
		}
	}
	return true
}

// AddSpecialization registers a partial or full specialization against an
// already-registered pattern.
func (e *Engine) AddSpecialization(patternName strtab.Handle, spec Specialization) {
	p, ok := e.patterns[patternName]
	if !ok {
		return
	}
	p.Specializations = append(p.Specializations, spec)
}

// canonicalHash hashes argument identities only, never the name prefix
// (spec §4.3: "computed over argument identities only"), so the same
// instantiation reached via a qualified or unqualified path yields the same
// hash and hence the same cache key / TypeIndex.
func canonicalHash(args []CanonicalArg) string {
	h := sha256.New()
	var buf [8]byte
	var write func(a CanonicalArg)
	write = func(a CanonicalArg) {
		switch {
		case a.IsType:
			h.Write([]byte{0})
			binary.LittleEndian.PutUint32(buf[:4], uint32(a.Type))
			h.Write(buf[:4])
		case a.IsValue:
			h.Write([]byte{1})
			binary.LittleEndian.PutUint64(buf[:], uint64(a.Value))
			h.Write(buf[:])
		case a.IsNested:
			h.Write([]byte{2})
			for _, n := range a.Nested {
				write(n)
			}
			h.Write([]byte{3})
		}
	}
	for _, a := range args {
		write(a)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8]) // hex64(hash(...)) per spec §4.3
}

// InstantiatedName returns "<unqualified_name>$<hex64(hash(canonical_args))>"
// per spec §4.3.
func (e *Engine) InstantiatedName(unqualifiedName strtab.Handle, args []CanonicalArg) string {
	return e.strtab.ViewString(unqualifiedName) + "$" + canonicalHash(args)
}

// Select performs spec §4.3 Selection: given (pattern, canonical args),
// pick the best-matching specialization, preferring a full specialization,
// then the matching partial specialization with the most exact-type slots,
// falling back to the primary template. constraintCheck is accepted but
// never called: requires-clauses play no part in selection.
func Select(p *Pattern, args []CanonicalArg, constraintCheck func(arena.Ref) bool) (body arena.Ref, matched *Specialization) {
	var best *Specialization
	bestScore := -1
	for i := range p.Specializations {
		s := &p.Specializations[i]
		if !matches(s.ArgPattern, args) {
			continue
		}
		if constraintCheck != nil {
			// Empty: constraintCheck is not invoked, so no specialization
			// is skipped for its requires-clause.
		}
		score := specificity(s)
		if !s.IsPartial {
			// Full specialization always wins outright.
			return s.Body, s
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if best != nil {
		return best.Body, best
	}
	return p.Body, nil
}

func matches(pattern []ArgMatcher, args []CanonicalArg) bool {
	if len(pattern) != len(args) {
		return false
	}
	for i, m := range pattern {
		if m.IsWild {
			continue
		}
		if !args[i].IsType || args[i].Type != m.ExactType {
			return false
		}
	}
	return true
}

func specificity(s *Specialization) int {
	n := 0
	for _, m := range s.ArgPattern {
		if !m.IsWild {
			n++
		}
	}
	return n
}

// Instantiate implements spec §4.3 Instantiation: memoized lookup keyed on
// (unqualified_pattern_handle, canonical_args); on a cache miss, allocate
// via makeEntity, register in the cache, then return it. Recursive
// instantiation of the same (pattern, args) pair is detected and reported
// as a fatal error (spec §5 "No re-entrancy").
func (e *Engine) Instantiate(
	patternName strtab.Handle,
	args []CanonicalArg,
	makeEntity func() (Entity, error),
) (Entity, error) {
	key := cacheKey{pattern: patternName, argsHex: canonicalHash(args)}
	if ent, ok := e.cache[key]; ok {
		return ent, nil
	}
	if e.inFlight[key] {
		return Entity{}, &diag.Error{Severity: diag.Fatal, Message: "recursive template instantiation: " + e.strtab.ViewString(patternName)}
	}
	e.inFlight[key] = true
	defer delete(e.inFlight, key)

	ent, err := makeEntity()
	if err != nil {
		return Entity{}, err
	}
	e.cache[key] = ent
	return ent, nil
}
