package jack

import (
	"fmt"
	"strings"

	"github.com/nand2jack/toolchain/pkg/utils"
)

// Scope is a single named, ordered bucket of variable declarations. Entries
// are appended in declaration order and never removed individually; the
// whole Scope is discarded at once when its owning class/subroutine ends.
type Scope struct {
	name    string
	entries utils.Stack[Variable]
}

// ScopeTable is the two-table symbol resolver described by the language
// spec: a class-scope table (static + field) and a subroutine-scope table
// (argument + variable). 'static' persists for the whole class compilation;
// 'field' is reset on each class; 'local'/'parameter' are reset on each
// subroutine. 'fieldDisabled' hides field entries while compiling a free
// function, where there is no 'this' to address them through.
type ScopeTable struct {
	static utils.Stack[Variable]

	local     Scope
	field     Scope
	parameter Scope

	fieldDisabled bool
}

func NewScopeTable() *ScopeTable { return &ScopeTable{} }

// PushClassScope resets the class-scope field table and the static table
// for a new class compilation.
func (st *ScopeTable) PushClassScope(class string) {
	st.field = Scope{name: fmt.Sprintf("%s.Global", class)}
	st.static = utils.Stack[Variable]{}
}

func (st *ScopeTable) PopClassScope() { st.field = Scope{} }

// PushSubRoutineScope resets the subroutine-scope tables (argument, local).
// It leaves field visibility alone: the caller disables field lookups for a
// Function through SetFieldAccess, since free functions have no bound 'this'.
func (st *ScopeTable) PushSubRoutineScope(method string) {
	newScope := strings.ReplaceAll(st.GetScope(), "Global", method)
	st.local = Scope{name: newScope}
	st.parameter = Scope{name: newScope}
}

func (st *ScopeTable) PopSubroutineScope() {
	st.local, st.parameter = Scope{}, Scope{}
	st.fieldDisabled = false
}

// SetFieldAccess toggles whether 'field' scope entries are visible to
// ResolveVariable; it is disabled around free-function bodies.
func (st *ScopeTable) SetFieldAccess(enabled bool) { st.fieldDisabled = !enabled }

func (st *ScopeTable) GetScope() string {
	if st.local.name != "" && st.parameter.name != "" {
		return st.local.name
	}
	if st.field.name != "" {
		return st.field.name
	}
	return "Global"
}

// RegisterVariable appends 'v' to the scope matching its VarType. Re-using
// a name already present in that scope shadows the older entry on lookup
// (ResolveVariable always walks from the most recently pushed entry back).
func (st *ScopeTable) RegisterVariable(v Variable) {
	switch v.VarType {
	case Local:
		st.local.entries.Push(v)
	case Field:
		st.field.entries.Push(v)
	case Parameter:
		st.parameter.entries.Push(v)
	case Static:
		st.static.Push(v)
	}
}

// Count returns the number of entries currently registered in the given
// scope; used to size the constructor's Memory.alloc call (Field count)
// and to compute a subroutine's local-variable count (Local count).
func (st *ScopeTable) Count(scope VarType) int {
	switch scope {
	case Local:
		return st.local.entries.Count()
	case Field:
		return st.field.entries.Count()
	case Parameter:
		return st.parameter.entries.Count()
	case Static:
		return st.static.Count()
	default:
		return 0
	}
}

// ResolveVariable looks up 'name', searching subroutine scope (local, then
// parameter) before class scope (field, then static); field entries are
// skipped while fieldDisabled is set. The most recently registered entry
// in a scope wins, implementing shadowing. Returns the entry's index
// within its own scope.
func (st *ScopeTable) ResolveVariable(name string) (uint16, Variable, error) {
	scopes := []utils.Stack[Variable]{st.local.entries, st.parameter.entries}
	if !st.fieldDisabled {
		scopes = append(scopes, st.field.entries)
	}
	scopes = append(scopes, st.static)

	for _, scope := range scopes {
		count := scope.Count()
		position := count - 1 // Iterator() yields top (most recent) first
		for entry := range scope.Iterator() {
			if entry.Name == name {
				return uint16(position), entry, nil
			}
			position--
		}
	}

	return 0, Variable{}, fmt.Errorf("variable '%s' undeclared, not found in any scope", name)
}
