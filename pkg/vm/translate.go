package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nand2jack/toolchain/pkg/asm"
	"github.com/nand2jack/toolchain/pkg/hack"
)

// ----------------------------------------------------------------------------
// Vm-to-Hack Translator

// Translator lowers a parsed VM Program into Hack assembly statements. It is
// stateful across the whole translation: the comparison-label counter and
// the per-function call counter are monotonic across every file, and the
// static-variable offset persists between files so that 'static' symbols in
// different compilation units never alias the same RAM cell.
type Translator struct {
	cmpCounter   uint
	staticOffset uint16
	callCounters map[string]uint
}

// NewTranslator returns a Translator ready to process the first module.
func NewTranslator() *Translator {
	return &Translator{callCounters: map[string]uint{}}
}

// TranslateProgram lowers every module in p, in filename order, into one
// flat Hack assembly program. When bootstrap is set (by the caller, whether
// the input is one file or a directory) the output is preceded by the
// SP=261 / goto Sys.init preamble.
func (t *Translator) TranslateProgram(p Program, bootstrap bool) ([]asm.Statement, error) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []asm.Statement
	if bootstrap {
		out = append(out, t.bootstrap()...)
	}

	for _, name := range names {
		stmts, err := t.translateModule(p[name])
		if err != nil {
			return nil, fmt.Errorf("error translating module '%s': %w", name, err)
		}
		out = append(out, stmts...)
	}
	return out, nil
}

func (t *Translator) bootstrap() []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: "261"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "Sys.init"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	}
}

// translateModule lowers a single file's worth of commands, then advances
// the persistent static offset past the highest static index this file used
// (by that index + 1), so no later file can reuse one of its slots.
func (t *Translator) translateModule(module Module) ([]asm.Statement, error) {
	var out []asm.Statement
	maxStatic := -1

	for _, op := range module {
		switch tOp := op.(type) {
		case MemoryOp:
			stmts, err := t.translateMemoryOp(tOp)
			if err != nil {
				return nil, err
			}
			if tOp.Segment == Static && int(tOp.Offset) > maxStatic {
				maxStatic = int(tOp.Offset)
			}
			out = append(out, stmts...)

		case ArithmeticOp:
			stmts, err := t.translateArithmeticOp(tOp)
			if err != nil {
				return nil, err
			}
			out = append(out, stmts...)

		case LabelDecl:
			out = append(out, asm.LabelDecl{Name: strings.ToUpper(tOp.Name)})

		case GotoOp:
			out = append(out, t.translateGotoOp(tOp)...)

		case FuncDecl:
			out = append(out, t.translateFuncDecl(tOp)...)

		case FuncCallOp:
			out = append(out, t.translateFuncCallOp(tOp)...)

		case ReturnOp:
			out = append(out, t.translateReturnOp()...)

		default:
			return nil, fmt.Errorf("unrecognized VM operation: %T", op)
		}
	}

	if maxStatic >= 0 {
		t.staticOffset += uint16(maxStatic + 1)
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Stack primitives

// pushD appends the value in D to the top of the stack and advances SP.
func pushD() []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// popD retracts SP and loads the popped value into D.
func popD() []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// popIntoR13 pops the top of the stack and stashes it in R13, used as the
// scratch register for the second operand of binary arithmetic.
func popIntoR13() []asm.Statement {
	return append(popD(), asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"})
}

// ----------------------------------------------------------------------------
// Memory segment access

func segmentRegister(seg SegmentType) (string, error) {
	switch seg {
	case Local:
		return "LCL", nil
	case Argument:
		return "ARG", nil
	case This:
		return "THIS", nil
	case That:
		return "THAT", nil
	default:
		return "", fmt.Errorf("segment '%s' has no base register", seg)
	}
}

// loadIndirect computes D = mem[mem[base] + offset].
func loadIndirect(base string, offset uint16) []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: base},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(int(offset))},
		asm.CInstruction{Dest: "A", Comp: "D+A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// stashIndirectAddr computes mem[base]+offset into R13, for a subsequent
// pop-then-store into that address.
func stashIndirectAddr(base string, offset uint16) []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: base},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(int(offset))},
		asm.CInstruction{Dest: "D", Comp: "D+A"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// storeDIntoR13Addr writes D into the address previously stashed in R13.
func storeDIntoR13Addr() []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

func (t *Translator) translateMemoryOp(op MemoryOp) ([]asm.Statement, error) {
	switch op.Segment {
	case Constant:
		if op.Operation != Push {
			return nil, fmt.Errorf("cannot pop into the 'constant' segment")
		}
		stmts := []asm.Statement{
			asm.AInstruction{Location: strconv.Itoa(int(op.Offset))},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
		return append(stmts, pushD()...), nil

	case Local, Argument, This, That:
		base, err := segmentRegister(op.Segment)
		if err != nil {
			return nil, err
		}
		if op.Operation == Push {
			return append(loadIndirect(base, op.Offset), pushD()...), nil
		}
		stmts := stashIndirectAddr(base, op.Offset)
		stmts = append(stmts, popD()...)
		return append(stmts, storeDIntoR13Addr()...), nil

	case Temp:
		addr := strconv.Itoa(int(hack.TempBase) + int(op.Offset))
		if op.Operation == Push {
			return append([]asm.Statement{
				asm.AInstruction{Location: addr}, asm.CInstruction{Dest: "D", Comp: "M"},
			}, pushD()...), nil
		}
		stmts := popD()
		return append(stmts, asm.AInstruction{Location: addr}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	case Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
		}
		sym := "THIS"
		if op.Offset == 1 {
			sym = "THAT"
		}
		if op.Operation == Push {
			return append([]asm.Statement{
				asm.AInstruction{Location: sym}, asm.CInstruction{Dest: "D", Comp: "M"},
			}, pushD()...), nil
		}
		stmts := popD()
		return append(stmts, asm.AInstruction{Location: sym}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	case Static:
		sym := fmt.Sprintf("static%d", int(op.Offset)+int(t.staticOffset))
		if op.Operation == Push {
			return append([]asm.Statement{
				asm.AInstruction{Location: sym}, asm.CInstruction{Dest: "D", Comp: "M"},
			}, pushD()...), nil
		}
		stmts := popD()
		return append(stmts, asm.AInstruction{Location: sym}, asm.CInstruction{Dest: "M", Comp: "D"}), nil

	default:
		return nil, fmt.Errorf("unrecognized segment: %s", op.Segment)
	}
}

// ----------------------------------------------------------------------------
// Arithmetic and comparisons

func (t *Translator) translateArithmeticOp(op ArithmeticOp) ([]asm.Statement, error) {
	switch op.Operation {
	case Neg, Not:
		comp := "-D"
		if op.Operation == Not {
			comp = "!D"
		}
		stmts := popD()
		stmts = append(stmts, asm.CInstruction{Dest: "D", Comp: comp})
		return append(stmts, pushD()...), nil

	case Add, Sub, And, Or:
		var comp string
		switch op.Operation {
		case Add:
			comp = "D+M"
		case Sub:
			comp = "D-M"
		case And:
			comp = "D&M"
		case Or:
			comp = "D|M"
		}
		stmts := popIntoR13()
		stmts = append(stmts, popD()...)
		stmts = append(stmts, asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: comp})
		return append(stmts, pushD()...), nil

	case Eq, Gt, Lt:
		return t.translateComparison(op.Operation), nil

	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation: %s", op.Operation)
	}
}

// translateComparison subtracts the two operands and branches on the
// negated jump mnemonic (eq->JNE, gt->JLE, lt->JGE) to fabricate -1 (true)
// or 0 (false), using a fresh CMPSTART{k}/CMPEND{k} label pair.
func (t *Translator) translateComparison(op ArithOpType) []asm.Statement {
	k := t.cmpCounter
	t.cmpCounter++

	negJump := map[ArithOpType]string{Eq: "JNE", Gt: "JLE", Lt: "JGE"}[op]
	falseLabel := fmt.Sprintf("CMPSTART%d", k)
	endLabel := fmt.Sprintf("CMPEND%d", k)

	stmts := popIntoR13()
	stmts = append(stmts, popD()...)
	stmts = append(stmts,
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: "D-M"},
		asm.AInstruction{Location: falseLabel}, asm.CInstruction{Comp: "D", Jump: negJump},
		asm.CInstruction{Dest: "D", Comp: "-1"},
		asm.AInstruction{Location: endLabel}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: falseLabel},
		asm.CInstruction{Dest: "D", Comp: "0"},
		asm.LabelDecl{Name: endLabel},
	)
	return append(stmts, pushD()...)
}

// ----------------------------------------------------------------------------
// Labels, goto, if-goto

func (t *Translator) translateGotoOp(op GotoOp) []asm.Statement {
	label := strings.ToUpper(op.Label)
	if op.Jump == Unconditional {
		return []asm.Statement{asm.AInstruction{Location: label}, asm.CInstruction{Comp: "0", Jump: "JMP"}}
	}
	stmts := popD()
	return append(stmts, asm.AInstruction{Location: label}, asm.CInstruction{Comp: "D", Jump: "JNE"})
}

// ----------------------------------------------------------------------------
// Function declaration, call, return

func (t *Translator) translateFuncDecl(op FuncDecl) []asm.Statement {
	stmts := []asm.Statement{asm.LabelDecl{Name: op.Name}}

	zero := []asm.Statement{asm.AInstruction{Location: "0"}, asm.CInstruction{Dest: "D", Comp: "A"}}
	zero = append(zero, pushD()...)
	for i := uint16(0); i < op.NLocal; i++ {
		stmts = append(stmts, zero...)
	}
	return stmts
}

func pushRegister(reg string) []asm.Statement {
	stmts := []asm.Statement{asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "D", Comp: "M"}}
	return append(stmts, pushD()...)
}

func (t *Translator) translateFuncCallOp(op FuncCallOp) []asm.Statement {
	k := t.callCounters[op.Name]
	t.callCounters[op.Name]++
	retLabel := fmt.Sprintf("%s$ret.%d", op.Name, k)

	var stmts []asm.Statement
	stmts = append(stmts, asm.AInstruction{Location: retLabel}, asm.CInstruction{Dest: "D", Comp: "A"})
	stmts = append(stmts, pushD()...)
	stmts = append(stmts, pushRegister("LCL")...)
	stmts = append(stmts, pushRegister("ARG")...)
	stmts = append(stmts, pushRegister("THIS")...)
	stmts = append(stmts, pushRegister("THAT")...)

	// ARG = SP - NArgs - 5
	stmts = append(stmts,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(int(op.NArgs) + 5)}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// LCL = SP
	stmts = append(stmts,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// goto f
	stmts = append(stmts, asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"})
	// (ret)
	stmts = append(stmts, asm.LabelDecl{Name: retLabel})
	return stmts
}

// restoreFromFrame pops one saved register off the R13 ("FRAME") cursor
// into dest, mirroring the *(FRAME-1..4) restores in the return sequence.
func restoreFromFrame(dest string) []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: dest}, asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

func (t *Translator) translateReturnOp() []asm.Statement {
	var stmts []asm.Statement

	// R13 (FRAME) = LCL
	stmts = append(stmts,
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// R14 (RET) = *(FRAME-5)
	stmts = append(stmts,
		asm.AInstruction{Location: "5"}, asm.CInstruction{Dest: "A", Comp: "D-A"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// *ARG = pop()
	stmts = append(stmts,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// SP = ARG + 1
	stmts = append(stmts,
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// THAT, THIS, ARG, LCL restored in that order from *(FRAME-1..4)
	stmts = append(stmts, restoreFromFrame("THAT")...)
	stmts = append(stmts, restoreFromFrame("THIS")...)
	stmts = append(stmts, restoreFromFrame("ARG")...)
	stmts = append(stmts, restoreFromFrame("LCL")...)
	// goto RET
	stmts = append(stmts,
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "A", Comp: "M"}, asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return stmts
}
