package vm

import (
	"fmt"
	"strconv"

	pc "github.com/prataprc/goparsec"
)

// ----------------------------------------------------------------------------
// Parser Combinator(s)

// This section defines the Parser Combinator for every token & instruction of the Vm language.
//
// Each parser combinator either manages an operation (MemoryOp, ArithmeticOp, ...) or some pieces
// of it: namely tokens and identifiers. Also we manage comments inside the codebase that can
// either present themselves at the beginning of the line or in the middle.

// Top level object, will generate the traversable AST based on the input plus the PCs below.
var ast = pc.NewAST("virtual_machine", 0)

var (
	// Parser combinator for a VM module/class, in the nand2tetris VM there's a Java like
	// behavior where a program is composed of multiple '.vm' files ('.class' in Java) where
	// each contains the bytecode for the specific module/class (a separate translation unit).
	pModule = ast.ManyUntil("module", nil, ast.OrdChoice("node", nil, pComment, pOperation), pc.End())

	// Parser combinator for comments in a VM program
	pComment = ast.And("comment", nil, pc.Atom("//", "//"), pc.Token(`(?m).*$`, "COMMENT"))
	// Parser combinator for a generic VM operation (MemoryOp, ArithmeticOp, ...)
	pOperation = ast.OrdChoice("operation", nil,
		// Stack operation + label and jump operations
		pMemoryOp, pArithmeticOp, pLabelDecl, pGotoOp,
		// Function related operations and statements
		pFuncDecl, pFuncCallOp, pReturnOp,
	)

	// Memory operation, compliant with the following syntax: "{push|pop} {segment} {index}"
	pMemoryOp = ast.And("memory_op", nil, pMemOpType, pSegment, pc.Int())
	// Arithmetic operation, could either be binary or unary (modifies only the Stack Pointer)
	pArithmeticOp = ast.And("arithmetic_op", nil, pArithOpType)

	// Label declaration, compliant with the following syntax: "label {symbol}"
	pLabelDecl = ast.And("label_decl", nil, pc.Atom("label", "LABEL"), pIdent)
	// Jump operation, compliant with the following syntax: "{if-goto|goto} {symbol}"
	pGotoOp = ast.And("goto_op", nil, pJumpType, pIdent)

	// Function declaration, compliant with the following syntax: "function {name} {n_locals}"
	pFuncDecl = ast.And("func_decl", nil, pc.Atom("function", "FUNC"), pIdent, pc.Int())
	// Function call operation, compliant with the following syntax: "call {name} {n_args}"
	pFuncCallOp = ast.And("func_call", nil, pc.Atom("call", "CALL"), pIdent, pc.Int())
	// Return operation, compliant with the following syntax: "return"
	pReturnOp = ast.And("return_op", nil, pc.Atom("return", "RETURN"))
)

var (
	// Generic Identifier parser (for label and function declaration)
	// NOTE: An ident can be any sequence of letters, digits, and symbols (_, ., $, :).
	// NOTE: An ident cannot begin with a leading digit (a symbol is indeed allowed).
	pIdent = pc.Token(`[A-Za-z_.$:][0-9a-zA-Z_.$:]*`, "IDENT")

	// Available memory operation type (only push and pop since it's stack based)
	pMemOpType = ast.OrdChoice("mem_op_type", nil, pc.Atom("push", "PUSH"), pc.Atom("pop", "POP"))
	// Available heap segments (they act as registers and are used alongside the stack)
	pSegment = ast.OrdChoice("mem_segment", nil,
		pc.Atom("argument", "ARGUMENT"), pc.Atom("local", "LOCAL"),
		pc.Atom("static", "STATIC"), pc.Atom("constant", "CONSTANT"),
		pc.Atom("this", "THIS"), pc.Atom("that", "THAT"),
		pc.Atom("temp", "TEMP"), pc.Atom("pointer", "POINTER"),
	)

	// Available arithmetic operation types (more functionality will be provided in the next phases)
	pArithOpType = ast.OrdChoice("operations", nil,
		// Comparison operations available on the VM bytecode
		pc.Atom("eq", "EQ"), pc.Atom("gt", "GT"), pc.Atom("lt", "LT"),
		// Arithmetic operations available on the VM bytecode
		pc.Atom("add", "ADD"), pc.Atom("sub", "SUB"), pc.Atom("neg", "NEG"),
		// Bit-a-bit operations available on the VM bytecode
		pc.Atom("not", "NOT"), pc.Atom("and", "AND"), pc.Atom("or", "OR"),
	)

	// Jump types can either be conditional (if-goto) or unconditional (goto).
	pJumpType = ast.OrdChoice("jump_type", nil, pc.Atom("goto", "GOTO"), pc.Atom("if-goto", "IF-GOTO"))
)

// ----------------------------------------------------------------------------
// Vm Parser

// Parser turns the textual VM format into a Module (a flat list of Operation
// values) using goparsec's combinator AST: Text --> AST is done by the PCs
// above, AST --> Module is a DFS over the resulting pc.Queryable tree.
type Parser struct{ source []byte }

// NewParser returns a Parser over the full contents of a single '.vm' file.
func NewParser(source []byte) Parser { return Parser{source: source} }

// Parse runs both stages and returns the flat Module for this translation unit.
func (p *Parser) Parse() (Module, error) {
	root, ok := ast.Parsewith(pModule, pc.NewScanner(p.source))
	if !ok || root == nil {
		return nil, fmt.Errorf("failed to parse VM source into an AST")
	}
	return p.FromAST(root)
}

// FromAST takes the root node of the parsed AST and does a DFS on it, converting
// one subtree at a time and returning a Module not dependent on the parsing library used.
func (p *Parser) FromAST(root pc.Queryable) (Module, error) {
	module := Module{}

	if root.GetName() != "module" {
		return nil, fmt.Errorf("expected node 'module', found %s", root.GetName())
	}

	for _, child := range root.GetChildren() {
		switch child.GetName() {
		case "memory_op":
			op, err := p.handleMemoryOp(child)
			if err != nil {
				return nil, err
			}
			module = append(module, op)

		case "arithmetic_op":
			op, err := p.handleArithmeticOp(child)
			if err != nil {
				return nil, err
			}
			module = append(module, op)

		case "label_decl":
			op, err := p.handleLabelDecl(child)
			if err != nil {
				return nil, err
			}
			module = append(module, op)

		case "goto_op":
			op, err := p.handleGotoOp(child)
			if err != nil {
				return nil, err
			}
			module = append(module, op)

		case "func_decl":
			op, err := p.handleFuncDecl(child)
			if err != nil {
				return nil, err
			}
			module = append(module, op)

		case "return_op":
			module = append(module, ReturnOp{})

		case "func_call":
			op, err := p.handleFuncCall(child)
			if err != nil {
				return nil, err
			}
			module = append(module, op)

		case "comment":
			continue // Comment nodes in the AST carry no semantic value

		default:
			return nil, fmt.Errorf("unrecognized node '%s'", child.GetName())
		}
	}

	return module, nil
}

func (Parser) handleMemoryOp(node pc.Queryable) (Operation, error) {
	children := node.GetChildren()
	if len(children) != 3 {
		return nil, fmt.Errorf("expected node 'memory_op' with 3 leaves, got %d", len(children))
	}

	offset, err := strconv.ParseUint(children[2].GetValue(), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("failed to parse offset in memory op, got %q: %w", children[2].GetValue(), err)
	}

	return MemoryOp{
		Operation: OperationType(children[0].GetValue()),
		Segment:   SegmentType(children[1].GetValue()),
		Offset:    uint16(offset),
	}, nil
}

func (Parser) handleArithmeticOp(node pc.Queryable) (Operation, error) {
	children := node.GetChildren()
	if len(children) != 1 {
		return nil, fmt.Errorf("expected node 'arithmetic_op' with 1 leaf, got %d", len(children))
	}
	return ArithmeticOp{Operation: ArithOpType(children[0].GetValue())}, nil
}

func (Parser) handleLabelDecl(node pc.Queryable) (Operation, error) {
	children := node.GetChildren()
	if len(children) != 2 {
		return nil, fmt.Errorf("expected node 'label_decl' with 2 leaves, got %d", len(children))
	}
	return LabelDecl{Name: children[1].GetValue()}, nil
}

func (Parser) handleGotoOp(node pc.Queryable) (Operation, error) {
	children := node.GetChildren()
	if len(children) != 2 {
		return nil, fmt.Errorf("expected node 'goto_op' with 2 leaves, got %d", len(children))
	}
	return GotoOp{Jump: JumpType(children[0].GetValue()), Label: children[1].GetValue()}, nil
}

func (Parser) handleFuncDecl(node pc.Queryable) (Operation, error) {
	children := node.GetChildren()
	if len(children) != 3 {
		return nil, fmt.Errorf("expected node 'func_decl' with 3 leaves, got %d", len(children))
	}

	nLocal, err := strconv.ParseUint(children[2].GetValue(), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("failed to parse local count in func_decl, got %q: %w", children[2].GetValue(), err)
	}

	return FuncDecl{Name: children[1].GetValue(), NLocal: uint16(nLocal)}, nil
}

func (Parser) handleFuncCall(node pc.Queryable) (Operation, error) {
	children := node.GetChildren()
	if len(children) != 3 {
		return nil, fmt.Errorf("expected node 'func_call' with 3 leaves, got %d", len(children))
	}

	nArgs, err := strconv.ParseUint(children[2].GetValue(), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("failed to parse argument count in func_call, got %q: %w", children[2].GetValue(), err)
	}

	return FuncCallOp{Name: children[1].GetValue(), NArgs: uint16(nArgs)}, nil
}
