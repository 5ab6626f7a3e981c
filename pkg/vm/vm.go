// Package vm implements the stack-machine intermediate language shared by
// the Jack code writer (pkg/jack) and the VM-to-Hack translator: the
// command model, the text parser, the text code generator and the
// translator itself all live here since the command/segment types are the
// single coupling point between the front end and the lowering stage.
package vm

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the VM intermediate language.
//
// We declare a shared 'Operation' interface for every macro operation available for the
// language and we define some other useful top-level struct such as Program and Module.
// Is important to note that a VM program can be composed of multiple translation units
// that can be also referenced as file or modules or also classes.

// Program is a set of multiple modules/files keyed by module (class) name. In the
// VM spec each Jack class is translated to its own .vm file (just like Java's .class
// file) that can be handled as its own translation unit during later phases.
type Program map[string]Module

// Module is just a linear list of VM operations/instructions.
type Module []Operation

// Operation is the tagged union of every instruction in the VM language (Memory,
// Arithmetic, flow control, function, ...). Use a type switch to disambiguate.
type Operation interface{}

// ----------------------------------------------------------------------------
// Memory Op

// In memory representation of a Memory operation for the VM language.
//
// In the VM intermediate language there are only two possible memory operation on the stack.
// We could either push a new value taken from the specified segment location on the stack's
// top or take the stack's top and saves its value at the specified segment location.
type MemoryOp struct {
	Operation OperationType // The type of operation, either 'push' or 'pop'
	Segment   SegmentType   // The named memory segment to use (this, that, temp, ...)
	Offset    uint16        // The specific location/offset inside of the memory segment
}

type OperationType string // Enum to manage the operation allowed for a MemoryOp

const (
	Push OperationType = "push"
	Pop  OperationType = "pop"
)

type SegmentType string // Enum to manage the segment accessible for a MemoryOp

const (
	Temp     SegmentType = "temp"     // Real segment used to store intermediate computations
	Constant SegmentType = "constant" // Virtual segment used to access numeric constant

	Local    SegmentType = "local"    // Real segment used to store local function variables
	Static   SegmentType = "static"   // Real segment used to store shared/static variables
	Argument SegmentType = "argument" // Real segment used to store function's argument

	This    SegmentType = "this"    // Virtual segment used to point to a specific memory location
	That    SegmentType = "that"    // Virtual segment used to point to a specific memory location
	Pointer SegmentType = "pointer" // Real segment w/ 2 location used to set the 'this' and 'that' pointers

	Invalid SegmentType = "" // Sentinel returned when a segment name does not resolve
)

// ----------------------------------------------------------------------------
// Arithmetic Op

// In memory representation of a Arithmetic operation for the VM language.
//
// In the VM intermediate language there are just a handful of operation available.
// In particular each operation acts directly on the top of the stack, of course we have both unary
// and binary operation, the specific management of each op will be handled in the codegen phase.
type ArithmeticOp struct{ Operation ArithOpType }

type ArithOpType string // Enum to manage the operation allowed for an ArithmeticOp

const (
	Eq ArithOpType = "eq" // Comparison operations
	Gt ArithOpType = "gt"
	Lt ArithOpType = "lt"

	Add ArithOpType = "add" // Arithmetic operations
	Sub ArithOpType = "sub"
	Neg ArithOpType = "neg"

	Not ArithOpType = "not" // Bitwise operations
	And ArithOpType = "and"
	Or  ArithOpType = "or"
)

// ----------------------------------------------------------------------------
// Flow control

// LabelDecl declares a jump target local to the enclosing function.
type LabelDecl struct{ Name string }

type JumpType string // Enum distinguishing an unconditional jump from a conditional one

const (
	Unconditional JumpType = "goto"
	Conditional   JumpType = "if-goto"
)

// GotoOp is either a 'goto' (always taken) or an 'if-goto' (taken when the popped
// stack top is non-zero) jump to a label declared somewhere in the same function.
type GotoOp struct {
	Jump  JumpType
	Label string
}

// ----------------------------------------------------------------------------
// Functions

// FuncDecl begins a function/method/constructor body, declaring how many local
// variable slots it needs; the translator is responsible for zero-initializing them.
type FuncDecl struct {
	Name   string
	NLocal uint16
}

// FuncCallOp calls a function by name, passing the top 'NArgs' stack values
// (already pushed by the caller, in source order) as its arguments.
type FuncCallOp struct {
	Name  string
	NArgs uint16
}

// ReturnOp returns from the current function. By VM convention the callee has
// left exactly one value on the stack, just below the frame it is tearing down.
type ReturnOp struct{}
