package ir

// EliminateDeadFunctions removes functions unreachable from roots (spec
// §1's "whole-module" build model still only ever links what's actually
// called), using a mark-and-sweep reachability walk over OpCall edges.
//
// Grounded directly on the teacher's eliminateDeadFunctions in
// std/compiler/dce.go: same name-indexed worklist BFS over call edges: and
// sweep-by-filtering-Funcs shape, generalized from rtg's multi-root set
// (main.main, init funcs, interface method table, hardcoded runtime
// intrinsics) down to FlashCpp's single-root set, a C++ program always
// having exactly one entry point function named "main" and no implicit
// runtime call edges since OpCall's StrValue already names every callee
// directly (no intrinsic-to-runtime-function indirection to model).
func EliminateDeadFunctions(mod *Module, roots ...string) {
	funcIndex := make(map[string]int, len(mod.Funcs))
	for i, f := range mod.Funcs {
		funcIndex[f.Name] = i
	}

	reachable := make(map[string]bool)
	var worklist []string
	addRoot := func(name string) {
		if _, ok := funcIndex[name]; ok && !reachable[name] {
			reachable[name] = true
			worklist = append(worklist, name)
		}
	}
	for _, r := range roots {
		addRoot(r)
	}

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		idx, ok := funcIndex[name]
		if !ok {
			continue
		}
		for _, inst := range mod.Funcs[idx].Code {
			if inst.Op != OpCall {
				continue
			}
			if !reachable[inst.StrValue] {
				reachable[inst.StrValue] = true
				worklist = append(worklist, inst.StrValue)
			}
		}
	}

	filtered := make([]*Function, 0, len(reachable))
	for _, f := range mod.Funcs {
		if reachable[f.Name] {
			filtered = append(filtered, f)
		}
	}
	mod.Funcs = filtered
}
