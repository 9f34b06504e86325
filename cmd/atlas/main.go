// Atlas CLI - runs, assembles, disassembles and profiles Atlas bytecode
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/atlas-lang/atlas/manifest"
	"github.com/atlas-lang/atlas/pkg/asm"
	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/server"
)

const version = "0.1.0"

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (1 = info, 2 = debug)")
	logPath := flag.String("log", "", "Write logs to this file instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: atlas [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [flags] [file]     Run a .atasm listing or .atb unit (default: the manifest entry)\n")
		fmt.Fprintf(os.Stderr, "  asm [-o out] file      Assemble a listing into a .atb unit\n")
		fmt.Fprintf(os.Stderr, "  disasm file            Print the disassembly of a .atb unit or listing\n")
		fmt.Fprintf(os.Stderr, "  profile [flags] [id]   List stored profile runs, or show one\n")
		fmt.Fprintf(os.Stderr, "  lsp                    Start the language server on stdio\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  atlas run fib.atasm            # Run a listing\n")
		fmt.Fprintf(os.Stderr, "  atlas run -debug fib.atasm     # Step through it\n")
		fmt.Fprintf(os.Stderr, "  atlas run -profile             # Run the manifest entry and store a profile\n")
		fmt.Fprintf(os.Stderr, "  atlas asm -o fib.atb fib.atasm # Assemble\n")
	}
	flag.Parse()

	var path *string
	if *logPath != "" {
		path = logPath
	}
	commonlog.Configure(*verbosity, path)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = handleRunCommand(args[1:])
	case "asm":
		err = handleAsmCommand(args[1:])
	case "disasm":
		err = handleDisasmCommand(args[1:])
	case "profile":
		err = handleProfileCommand(args[1:])
	case "lsp":
		err = server.NewLSP(version).Run()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest finds atlas.toml from the working directory. A missing
// manifest is not an error; an invalid one is.
func loadManifest() (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	return m, nil
}

// loadProgram reads a .atb unit or assembles a listing, by extension.
func loadProgram(path string) (*bytecode.Bytecode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".atb") {
		bc, err := bytecode.FromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return bc, nil
	}
	prog, err := asm.Assemble(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog.Bytecode, nil
}

func handleAsmCommand(args []string) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default: input with .atb extension)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("asm takes exactly one listing")
	}
	in := fs.Arg(0)

	bc, err := loadProgram(in)
	if err != nil {
		return err
	}
	data, err := bc.ToBytes()
	if err != nil {
		return err
	}
	if *out == "" {
		*out = strings.TrimSuffix(in, filepath.Ext(in)) + ".atb"
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes, %d constants)\n", *out, len(bc.Instructions), len(bc.Constants))
	return nil
}

func handleDisasmCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("disasm takes exactly one file")
	}
	bc, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	fmt.Print(bc.DisassembleWithName(filepath.Base(args[0])))
	return nil
}
