// Package hack carries the fixed addressing facts of the Hack computer
// architecture that both the assembly code writer (pkg/asm) and the VM-to-
// Hack translator (pkg/vm) need: the predefined register/label addresses and
// the upper bound on addressable memory.
package hack

import "strconv"

// MaxAddressableMemory is the exclusive upper bound on a 15-bit A-instruction
// address (the Hack CPU reserves the instruction's high bit to distinguish
// A- from C-instructions).
const MaxAddressableMemory uint16 = 1 << 15

// BuiltInTable maps every predefined Hack symbol to its fixed RAM address.
// A user-defined label may never reuse one of these names.
var BuiltInTable = func() map[string]uint16 {
	table := map[string]uint16{
		"SP": 0, "LCL": 1, "ARG": 2, "THIS": 3, "THAT": 4,
		"SCREEN": 16384, "KBD": 24576,
	}
	for r := uint16(0); r <= 15; r++ {
		table["R"+strconv.Itoa(int(r))] = r
	}
	return table
}()

// TempBase is the fixed RAM offset backing the VM's 8-slot temp segment;
// unlike local/argument/this/that it is a direct offset, not a register
// holding a base address.
const TempBase uint16 = 5
