package jack

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nand2jack/toolchain/pkg/utils"
	"github.com/nand2jack/toolchain/pkg/vm"
)

// ----------------------------------------------------------------------------
// Jack Code Writer

// The CodeWriter takes a 'jack.Program' and produces its 'vm.Program' counterpart.
//
// Since we get a tree-like struct we are able to traverse it using a Depth First Search (DFS) algorithm
// on it. For each operation node visited we produce a list of 'vm.Operation' as counterpart, resolving
// identifiers through the ScopeTable along the way.
type CodeWriter struct {
	program      utils.OrderedMap[string, Class] // The program to compile, must be not nil nor empty
	scopes       ScopeTable                      // Keeps track of the scopes and declared variables inside each one
	ifCounter    uint                             // Monotonic counter minting unique IFFAILEDLABEL/IFENDLABEL pairs
	whileCounter uint                             // Monotonic counter minting unique WHILESTART/WHILEEND pairs
}

// NewCodeWriter initializes a CodeWriter for 'p'. Requires 'p' to be non-nil/non-empty.
func NewCodeWriter(p Program) CodeWriter {
	// ? Why do we convert from a jack.Program (wrapper type of a map[string]Class) to an OrderedMap[string, Class]?
	// Without doing this is impossible to have reproducible builds (and also meaningful test cases) because
	// the Go built-in map is not ordered and non-deterministic, so the order of iteration of the classes can
	// change on different runs, then what happens is that the label declarations will be different too since
	// they are randomized with just a counter (the counter will have different values because it will be
	// incremented a different number of times based on the order of the classes).
	//
	// The solution is simple: we order the map by its class name and store it in that order in the OrderedMap
	// so that the order we decided we'll be maintained throughout the entire lowering process. The end result
	// is that for the same input code we obtain always the same output code.
	classes := []utils.MapEntry[string, Class]{}
	for _, class := range p {
		classes = append(classes, utils.MapEntry[string, Class]{Key: class.Name, Value: class})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Key < classes[j].Key })

	return CodeWriter{program: utils.NewOrderedMapFromList(classes)}
}

// Write triggers the code generation process. It iterates class by class and then statement by statement,
// recursively calling the necessary helper function based on the construct type (much like a recursive
// descent parser but for code generation), visiting the program in DFS order.
func (cw *CodeWriter) Write() (vm.Program, error) {
	if cw.program.Size() == 0 {
		return nil, fmt.Errorf("the given 'program' is empty or nil")
	}

	program := vm.Program{}
	for _, class := range cw.program.Entries() {
		operations, err := cw.HandleClass(class)
		if err != nil {
			return nil, fmt.Errorf("error handling class '%s': %w", class.Name, err)
		}
		program[class.Name] = vm.Module(operations)
	}

	return program, nil
}

// HandleClass converts a 'jack.Class' node to a list of 'vm.Operation'.
func (cw *CodeWriter) HandleClass(class Class) ([]vm.Operation, error) {
	cw.scopes.PushClassScope(class.Name)
	defer cw.scopes.PopClassScope()

	for _, field := range class.Fields.Entries() {
		cw.scopes.RegisterVariable(field)
	}

	operations := []vm.Operation{}
	for _, subroutine := range class.Subroutines.Entries() {
		ops, err := cw.HandleSubroutine(class.Name, subroutine)
		if err != nil {
			return nil, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
		operations = append(operations, ops...)
	}

	return operations, nil
}

// HandleSubroutine converts a 'jack.Subroutine' node to a list of 'vm.Operation', applying the
// prologue discipline appropriate to its SubroutineType (function/method/constructor).
func (cw *CodeWriter) HandleSubroutine(className string, subroutine Subroutine) ([]vm.Operation, error) {
	cw.scopes.PushSubRoutineScope(subroutine.Name)
	defer cw.scopes.PopSubroutineScope()
	cw.scopes.SetFieldAccess(subroutine.Type != Function)

	if subroutine.Type == Method {
		// Receiver is argument 0; ordinary arguments begin at argument 1.
		cw.scopes.RegisterVariable(Variable{Name: "this", VarType: Parameter, DataType: DataType{Main: Object, Subtype: className}})
	}
	for _, arg := range subroutine.Arguments {
		cw.scopes.RegisterVariable(arg)
	}

	fBody := []vm.Operation{}
	for _, stmt := range subroutine.Statements {
		ops, err := cw.HandleStatement(stmt, subroutine.Type == Constructor)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in '%s.%s': %w", className, subroutine.Name, err)
		}
		fBody = append(fBody, ops...)
	}

	fName := fmt.Sprintf("%s.%s", className, subroutine.Name)
	fDecl := vm.FuncDecl{Name: fName, NLocal: uint16(cw.scopes.Count(Local))}

	switch subroutine.Type {
	case Constructor:
		// By convention constructors allocate the object's memory themselves, then set each
		// field to the desired value per their own code logic, and always return 'this'.
		nFields := uint16(cw.scopes.Count(Field))
		prelude := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: nFields},
			vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		epilogue := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0},
			vm.ReturnOp{},
		}
		return concatOps([]vm.Operation{fDecl}, prelude, fBody, epilogue), nil

	case Method:
		// The receiver is passed as argument 0; bind it to the 'this' segment before the body runs.
		prelude := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		return concatOps([]vm.Operation{fDecl}, prelude, fBody), nil

	default: // Function
		return concatOps([]vm.Operation{fDecl}, fBody), nil
	}
}

func concatOps(groups ...[]vm.Operation) []vm.Operation {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]vm.Operation, 0, total)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// HandleStatement dispatches a 'jack.Statement' to its specialized handler.
// 'blockReturn' suppresses user 'return' statements inside a constructor body,
// since the constructor epilogue always returns 'this' unconditionally.
func (cw *CodeWriter) HandleStatement(stmt Statement, blockReturn bool) ([]vm.Operation, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return cw.HandleDoStmt(tStmt)
	case VarStmt:
		return cw.HandleVarStmt(tStmt)
	case LetStmt:
		return cw.HandleLetStmt(tStmt)
	case IfStmt:
		return cw.HandleIfStmt(tStmt, blockReturn)
	case WhileStmt:
		return cw.HandleWhileStmt(tStmt, blockReturn)
	case ReturnStmt:
		return cw.HandleReturnStmt(tStmt, blockReturn)
	default:
		return nil, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

func (cw *CodeWriter) HandleDoStmt(statement DoStmt) ([]vm.Operation, error) {
	ops, err := cw.HandleFuncCallExpr(statement.FuncCall)
	if err != nil {
		return nil, fmt.Errorf("error handling nested function call expression: %w", err)
	}
	// Do statements discard the return value.
	return append(ops, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0}), nil
}

func (cw *CodeWriter) HandleVarStmt(statement VarStmt) ([]vm.Operation, error) {
	for _, variable := range statement.Vars {
		cw.scopes.RegisterVariable(variable)
	}
	return nil, nil // Declarations only update the scope table, no code is emitted.
}

func segmentFor(v VarType) (vm.SegmentType, error) {
	switch v {
	case Local:
		return vm.Local, nil
	case Parameter:
		return vm.Argument, nil
	case Field:
		return vm.This, nil
	case Static:
		return vm.Static, nil
	default:
		return vm.Invalid, fmt.Errorf("variable scope '%s' has no backing VM segment", v)
	}
}

func (cw *CodeWriter) HandleLetStmt(statement LetStmt) ([]vm.Operation, error) {
	rhsOps, err := cw.HandleExpression(statement.Rhs)
	if err != nil {
		return nil, fmt.Errorf("error handling RHS expression: %w", err)
	}

	if expr, isVarExpr := statement.Lhs.(VarExpr); isVarExpr {
		offset, variable, err := cw.scopes.ResolveVariable(expr.Var)
		if err != nil {
			return nil, fmt.Errorf("error resolving variable '%s' in let statement: %w", expr.Var, err)
		}
		segment, err := segmentFor(variable.VarType)
		if err != nil {
			return nil, err
		}
		return append(rhsOps, vm.MemoryOp{Operation: vm.Pop, Segment: segment, Offset: offset}), nil
	}

	expr, isArrayExpr := statement.Lhs.(ArrayExpr)
	if !isArrayExpr {
		return nil, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
	}

	// Spec order: evaluate the RHS first, then the array address, leaving a single scratch slot.
	baseOps, err := cw.HandleVarExpr(VarExpr{Var: expr.Var})
	if err != nil {
		return nil, fmt.Errorf("error handling base variable expression: %w", err)
	}
	indexOps, err := cw.HandleExpression(expr.Index)
	if err != nil {
		return nil, fmt.Errorf("error handling index expression: %w", err)
	}
	refOps := concatOps(baseOps, indexOps, []vm.Operation{vm.ArithmeticOp{Operation: vm.Add}})

	// rhsOps is evaluated first and left on the stack underneath the address computation;
	// 'pointer 1' is the single scratch slot holding the address, consumed by the final
	// 'pop that 0' which writes the RHS (now back on top) through it.
	return concatOps(
		rhsOps,
		refOps,
		[]vm.Operation{
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.That, Offset: 0},
		},
	), nil
}

func (cw *CodeWriter) HandleWhileStmt(statement WhileStmt, blockReturn bool) ([]vm.Operation, error) {
	n := cw.whileCounter
	cw.whileCounter++

	condOps, err := cw.HandleExpression(statement.Condition)
	if err != nil {
		return nil, fmt.Errorf("error handling while condition expression: %w", err)
	}

	blockOps := []vm.Operation{}
	for _, stmt := range statement.Block {
		ops, err := cw.HandleStatement(stmt, blockReturn)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in while block: %w", err)
		}
		blockOps = append(blockOps, ops...)
	}

	start := fmt.Sprintf("WHILESTART%d", n)
	end := fmt.Sprintf("WHILEEND%d", n)

	return concatOps(
		[]vm.Operation{vm.LabelDecl{Name: start}},
		condOps,
		[]vm.Operation{
			vm.ArithmeticOp{Operation: vm.Not},
			vm.GotoOp{Jump: vm.Conditional, Label: end},
		},
		blockOps,
		[]vm.Operation{
			vm.GotoOp{Jump: vm.Unconditional, Label: start},
			vm.LabelDecl{Name: end},
		},
	), nil
}

func (cw *CodeWriter) HandleIfStmt(statement IfStmt, blockReturn bool) ([]vm.Operation, error) {
	n := cw.ifCounter
	cw.ifCounter++

	condOps, err := cw.HandleExpression(statement.Condition)
	if err != nil {
		return nil, fmt.Errorf("error handling if condition expression: %w", err)
	}

	thenOps := []vm.Operation{}
	for _, stmt := range statement.ThenBlock {
		ops, err := cw.HandleStatement(stmt, blockReturn)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in 'then' block: %w", err)
		}
		thenOps = append(thenOps, ops...)
	}

	fail := fmt.Sprintf("IFFAILEDLABEL%d", n)

	if statement.ElseBlock == nil {
		return concatOps(
			condOps,
			[]vm.Operation{vm.ArithmeticOp{Operation: vm.Not}, vm.GotoOp{Jump: vm.Conditional, Label: fail}},
			thenOps,
			[]vm.Operation{vm.LabelDecl{Name: fail}},
		), nil
	}

	elseOps := []vm.Operation{}
	for _, stmt := range statement.ElseBlock {
		ops, err := cw.HandleStatement(stmt, blockReturn)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in 'else' block: %w", err)
		}
		elseOps = append(elseOps, ops...)
	}

	end := fmt.Sprintf("IFENDLABEL%d", n)

	return concatOps(
		condOps,
		[]vm.Operation{vm.ArithmeticOp{Operation: vm.Not}, vm.GotoOp{Jump: vm.Conditional, Label: fail}},
		thenOps,
		[]vm.Operation{vm.GotoOp{Jump: vm.Unconditional, Label: end}, vm.LabelDecl{Name: fail}},
		elseOps,
		[]vm.Operation{vm.LabelDecl{Name: end}},
	), nil
}

func (cw *CodeWriter) HandleReturnStmt(statement ReturnStmt, blockReturn bool) ([]vm.Operation, error) {
	if blockReturn {
		return nil, nil // Constructors emit their own unconditional 'push pointer 0; return' epilogue.
	}

	if statement.Expr == nil {
		return []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ReturnOp{},
		}, nil
	}

	ops, err := cw.HandleExpression(statement.Expr)
	if err != nil {
		return nil, fmt.Errorf("error handling return expression: %w", err)
	}
	return append(ops, vm.ReturnOp{}), nil
}

func (cw *CodeWriter) HandleExpression(expr Expression) ([]vm.Operation, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		return cw.HandleVarExpr(tExpr)
	case LiteralExpr:
		return cw.HandleLiteralExpr(tExpr)
	case ArrayExpr:
		return cw.HandleArrayExpr(tExpr)
	case UnaryExpr:
		return cw.HandleUnaryExpr(tExpr)
	case BinaryExpr:
		return cw.HandleBinaryExpr(tExpr)
	case FuncCallExpr:
		return cw.HandleFuncCallExpr(tExpr)
	default:
		return nil, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

func (cw *CodeWriter) HandleVarExpr(expression VarExpr) ([]vm.Operation, error) {
	if expression.Var == "this" {
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, nil
	}

	offset, variable, err := cw.scopes.ResolveVariable(expression.Var)
	if err != nil {
		return nil, fmt.Errorf("error resolving variable '%s': %w", expression.Var, err)
	}
	segment, err := segmentFor(variable.VarType)
	if err != nil {
		return nil, err
	}
	return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: segment, Offset: offset}}, nil
}

func (cw *CodeWriter) HandleLiteralExpr(expression LiteralExpr) ([]vm.Operation, error) {
	switch expression.Type.Main {
	case Int:
		value, err := strconv.ParseUint(expression.Value, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("error parsing integer literal '%s': %w", expression.Value, err)
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(value)}}, nil

	case Bool:
		if expression.Value == "true" {
			return []vm.Operation{
				vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 1},
				vm.ArithmeticOp{Operation: vm.Neg},
			}, nil
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}}, nil

	case Char:
		if len(expression.Value) != 1 {
			return nil, fmt.Errorf("malformed char literal '%s'", expression.Value)
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(expression.Value[0])}}, nil

	case Null, Object:
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}}, nil

	case String:
		ops := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(len(expression.Value))},
			vm.FuncCallOp{Name: "String.new", NArgs: 1},
		}
		for _, char := range expression.Value {
			ops = append(ops,
				vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(char)},
				vm.FuncCallOp{Name: "String.appendChar", NArgs: 2},
			)
		}
		return ops, nil

	default:
		return nil, fmt.Errorf("unrecognized literal expression type: %s", expression.Type.Main)
	}
}

func (cw *CodeWriter) HandleArrayExpr(expression ArrayExpr) ([]vm.Operation, error) {
	baseOps, err := cw.HandleVarExpr(VarExpr{Var: expression.Var})
	if err != nil {
		return nil, fmt.Errorf("error handling base variable expression: %w", err)
	}
	indexOps, err := cw.HandleExpression(expression.Index)
	if err != nil {
		return nil, fmt.Errorf("error handling index expression: %w", err)
	}

	return concatOps(baseOps, indexOps, []vm.Operation{
		vm.ArithmeticOp{Operation: vm.Add},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.That, Offset: 0},
	}), nil
}

func (cw *CodeWriter) HandleUnaryExpr(expression UnaryExpr) ([]vm.Operation, error) {
	ops, err := cw.HandleExpression(expression.Rhs)
	if err != nil {
		return nil, fmt.Errorf("error handling nested expression: %w", err)
	}

	switch expression.Type {
	case Negation:
		return append(ops, vm.ArithmeticOp{Operation: vm.Neg}), nil
	case BoolNot:
		return append(ops, vm.ArithmeticOp{Operation: vm.Not}), nil
	default:
		return nil, fmt.Errorf("unrecognized unary expression type: %s", expression.Type)
	}
}

func (cw *CodeWriter) HandleBinaryExpr(expression BinaryExpr) ([]vm.Operation, error) {
	lhsOps, err := cw.HandleExpression(expression.Lhs)
	if err != nil {
		return nil, fmt.Errorf("error handling nested LHS expression: %w", err)
	}
	rhsOps, err := cw.HandleExpression(expression.Rhs)
	if err != nil {
		return nil, fmt.Errorf("error handling nested RHS expression: %w", err)
	}
	operands := concatOps(lhsOps, rhsOps)

	switch expression.Type {
	case Plus:
		return append(operands, vm.ArithmeticOp{Operation: vm.Add}), nil
	case Minus:
		return append(operands, vm.ArithmeticOp{Operation: vm.Sub}), nil
	case Divide:
		return append(operands, vm.FuncCallOp{Name: "Math.divide", NArgs: 2}), nil
	case Multiply:
		return append(operands, vm.FuncCallOp{Name: "Math.multiply", NArgs: 2}), nil
	case BoolOr:
		return append(operands, vm.ArithmeticOp{Operation: vm.Or}), nil
	case BoolAnd:
		return append(operands, vm.ArithmeticOp{Operation: vm.And}), nil
	case Equal:
		return append(operands, vm.ArithmeticOp{Operation: vm.Eq}), nil
	case LessThan:
		return append(operands, vm.ArithmeticOp{Operation: vm.Lt}), nil
	case GreatThan:
		return append(operands, vm.ArithmeticOp{Operation: vm.Gt}), nil
	default:
		return nil, fmt.Errorf("unrecognized binary expression type: %s", expression.Type)
	}
}

// HandleFuncCallExpr implements the three-way subroutine-call dispatch: unqualified calls are
// always routed as a method call on the current object; qualified calls check whether the
// receiver resolves to a declared variable (instance method) or not (static/constructor call).
func (cw *CodeWriter) HandleFuncCallExpr(expression FuncCallExpr) ([]vm.Operation, error) {
	argOps := []vm.Operation{}
	for _, expr := range expression.Arguments {
		ops, err := cw.HandleExpression(expr)
		if err != nil {
			return nil, fmt.Errorf("error handling argument expression: %w", err)
		}
		argOps = append(argOps, ops...)
	}
	argc := uint16(len(expression.Arguments))

	if !expression.IsExtCall {
		className := strings.SplitN(cw.scopes.GetScope(), ".", 2)[0]
		fName := fmt.Sprintf("%s.%s", className, expression.FuncName)
		thisArg := vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}
		return concatOps([]vm.Operation{thisArg}, argOps, []vm.Operation{vm.FuncCallOp{Name: fName, NArgs: argc + 1}}), nil
	}

	if _, variable, err := cw.scopes.ResolveVariable(expression.Var); err == nil {
		if variable.DataType.Main != Object {
			return nil, fmt.Errorf("variable '%s' is not an object, cannot call methods on it", expression.Var)
		}
		receiverOps, err := cw.HandleVarExpr(VarExpr{Var: expression.Var})
		if err != nil {
			return nil, fmt.Errorf("error handling receiver expression: %w", err)
		}
		fName := fmt.Sprintf("%s.%s", variable.DataType.Subtype, expression.FuncName)
		return concatOps(receiverOps, argOps, []vm.Operation{vm.FuncCallOp{Name: fName, NArgs: argc + 1}}), nil
	}

	// Static call: either a plain function or a constructor ('new' is just a conventional name).
	fName := fmt.Sprintf("%s.%s", expression.Var, expression.FuncName)
	return concatOps(argOps, []vm.Operation{vm.FuncCallOp{Name: fName, NArgs: argc}}), nil
}
