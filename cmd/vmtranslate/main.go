package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teris-io/cli"
	"github.com/nand2jack/toolchain/pkg/asm"
	"github.com/nand2jack/toolchain/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	WithOption(cli.NewOption("path", "The bytecode (.vm) file or directory to be translated").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("bootstrap", "Includes bootstrap code in the final .asm file").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	root, given := options["path"]
	if !given || root == "" {
		fmt.Printf("ERROR: Missing required --path argument, use --help\n")
		return -1
	}
	_, bootstrap := options["bootstrap"]

	info, err := os.Stat(root)
	if err != nil {
		fmt.Printf("ERROR: Unable to stat input path: %s\n", err)
		return -1
	}

	TUs := []string{}
	if info.IsDir() {
		walkErr := filepath.Walk(root, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(p) != ".vm" {
				return nil
			}
			TUs = append(TUs, p)
			return nil
		})
		if walkErr != nil {
			fmt.Printf("ERROR: Unable to walk input path: %s\n", walkErr)
			return -1
		}
	} else {
		TUs = append(TUs, root)
	}
	// Translation must be reproducible regardless of directory iteration order, so every
	// module is keyed and later re-read back in filename-sorted order.
	sort.Strings(TUs)

	// Allocates a 'vm.Program' struct to save every parsed translation unit (the .vm
	// files); they are translated together so static-offsets and label counters are
	// shared across the whole program, not reset per file.
	program := vm.Program{}
	for _, tu := range TUs {
		content, err := os.ReadFile(tu)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		// Instantiate a parser for the Vm program
		parser := vm.NewParser(content)
		// Parses the input file content and extract a 'vm.Module' from it.
		module, err := parser.Parse()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
			return -1
		}
		program[path.Base(tu)] = module
	}

	// Instantiate a translator to convert the program from Vm to Hack assembly.
	translator := vm.NewTranslator()
	// Translates the vm.Program to its Hack assembly statement counterpart, sorting
	// modules by name internally so SP=261/goto Sys.init bootstrap (when requested)
	// and static variable offsets come out the same way on every run.
	asmProgram, err := translator.TranslateProgram(program, bootstrap)
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'translate' pass: %s\n", err)
		return -1
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	outputPath := outputPathFor(root, info.IsDir())
	output, err := os.Create(outputPath)
	if err != nil {
		fmt.Printf("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	for _, line := range compiled {
		fmt.Fprintf(output, "%s\n", line)
	}

	return 0
}

// outputPathFor mirrors the teacher's '<name>.asm' convention: a single file is
// translated into a sibling '.asm' file, a directory into '<dir>.asm' named after
// the directory itself so the bundle output is traceable back to its sources.
func outputPathFor(root string, isDir bool) string {
	if !isDir {
		return strings.TrimSuffix(root, filepath.Ext(root)) + ".asm"
	}
	base := filepath.Base(filepath.Clean(root))
	return filepath.Join(filepath.Dir(filepath.Clean(root)), base+".asm")
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
