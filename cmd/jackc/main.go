package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nand2jack/toolchain/pkg/jack"
	"github.com/nand2jack/toolchain/pkg/token"
	"github.com/nand2jack/toolchain/pkg/vm"

	"github.com/teris-io/cli"
)

var Description = strings.ReplaceAll(`
The Jack Compiler compiles programs (composed of multiple classes/files) written in
the Jack language into VM modules that can be further elaborated. The Jack language
is a higher-level OOP language tailored for use with the Hack computer architecture.
`, "\n", " ")

var JackCompiler = cli.New(Description).
	WithOption(cli.NewOption("path", "The source (.jack) file or directory to be compiled").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("stdlib", "Uses the built-in ABI of the standard library for lowering").
		WithType(cli.TypeBool)).
	WithOption(cli.NewOption("debug-token", "Dumps the token stream of every compiled file next to it").
		WithType(cli.TypeBool)).
	WithOption(cli.NewOption("debug-vm", "Dumps the emitted VM operations of every compiled class as text (not the parse tree)").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	root, given := options["path"]
	if !given || root == "" {
		fmt.Printf("ERROR: Missing required --path argument, use --help\n")
		return -1
	}

	// The aggregation of all the Translation Units (TUs) found during the input walk (just the
	// paths), and the container of the full program (a basic collection of parsed modules).
	// ! Every Jack file is a class and every class is a jack.Module (unlike languages where a
	// ! TU and a module may not coincide), so we key the program map by the bare filename.
	TUs := []string{}
	walkErr := filepath.Walk(root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(p) != ".jack" {
			return nil // We recurse on dirs and ignore other filetypes
		}
		TUs = append(TUs, p)
		return nil
	})
	if walkErr != nil {
		fmt.Printf("ERROR: Unable to walk input path: %s\n", walkErr)
		return -1
	}

	program := jack.Program{}
	for _, tu := range TUs {
		file, err := os.Open(tu)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		if _, enabled := options["debug-token"]; enabled {
			if err := dumpTokens(tu); err != nil {
				fmt.Printf("ERROR: Unable to complete 'debug-token' dump: %s\n", err)
				file.Close()
				return -1
			}
		}

		// Instantiate a parser for the Jack program
		parser := jack.NewParser(tu, file)
		// Removes root directory and file extension to use as module name
		filename, extension := path.Base(tu), path.Ext(tu)
		// Parses the input file content and extract a 'jack.Class' from it.
		class, err := parser.Parse()
		file.Close()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
			return -1
		}
		program[strings.TrimSuffix(filename, extension)] = class
	}

	// Adds the stdlib ABI classes to the jack.Program. Their body-less subroutines compile to
	// header-only modules that are never written out (only the input files' modules are), and
	// the code writer does not look them up: calls into them are emitted the same way either way.
	if _, enabled := options["stdlib"]; enabled {
		for name, class := range jack.StandardLibraryABI {
			program[name] = class
		}
	}

	// Instantiate a code writer to convert the program from Jack to Vm
	writer := jack.NewCodeWriter(program)
	// Lowers the jack.Program to an in-memory/IR representation of its Vm counterpart 'vm.Program'.
	vmProgram, err := writer.Write()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codewriter' pass: %s\n", err)
		return -1
	}

	if _, enabled := options["debug-vm"]; enabled {
		if err := dumpVMProgram(root, vmProgram); err != nil {
			fmt.Printf("ERROR: Unable to complete 'debug-vm' dump: %s\n", err)
			return -1
		}
	}

	// Now, instantiates a code generator for the Vm (compiled) program
	codegen := vm.NewCodeGenerator(vmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	for _, tu := range TUs {
		// Removes root directory and file extension to use as module name
		filename, extension := path.Base(tu), path.Ext(tu)
		module, ok := compiled[strings.TrimSuffix(filename, extension)]
		if !ok {
			fmt.Printf("ERROR: Unable to find compiled module for class file '%s'\n", tu)
			return -1
		}

		output, err := os.Create(fmt.Sprintf("%s.vm", strings.TrimSuffix(tu, extension)))
		if err != nil {
			fmt.Printf("ERROR: Unable to open output file: %s\n", err)
			return -1
		}

		for _, ops := range module {
			line := fmt.Sprintf("%s\n", ops)
			output.Write([]byte(line))
		}
		output.Close()
	}

	return 0
}

// dumpTokens re-tokenizes 'path' and writes the flat token stream, one descriptor per
// line, to 'path.tokens.txt' for inspection without attaching a debugger.
func dumpTokens(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	tokenizer := token.NewTokenizer(path, file)
	dump, err := os.Create(fmt.Sprintf("%s.tokens.txt", path))
	if err != nil {
		return err
	}
	defer dump.Close()

	for {
		tok, err := tokenizer.Next()
		if err != nil {
			break // EOF or lexical error, either way there is nothing left worth dumping
		}
		fmt.Fprintf(dump, "%s\t%s\n", tokenizer.Descriptor(), tok.String())
	}

	return nil
}

// dumpVMProgram writes a flat, human-readable listing of every operation emitted for
// each class, one '<class>.ops.txt' file alongside the compiled input.
func dumpVMProgram(root string, program vm.Program) error {
	dir := root
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		dir = filepath.Dir(root)
	}

	for name, module := range program {
		dump, err := os.Create(filepath.Join(dir, fmt.Sprintf("%s.ops.txt", name)))
		if err != nil {
			return err
		}
		for _, op := range module {
			fmt.Fprintf(dump, "%s\n", op)
		}
		dump.Close()
	}

	return nil
}

func main() { os.Exit(JackCompiler.Run(os.Args, os.Stdout)) }
